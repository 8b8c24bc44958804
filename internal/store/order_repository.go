// Package store holds the sqlite-backed repositories for the trading
// state: orders, positions and account snapshots.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/database"
	"github.com/aristath/tradepipe/internal/domain"
)

// OrderRepository persists Order rows. Submission is idempotent on
// client_order_id (I2): Upsert matches by that column first, so a retried
// submission after a crash or bus redelivery updates the existing row
// instead of creating a duplicate.
type OrderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOrderRepository wires a repository against an already-migrated
// database handle.
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{db: db, log: log.With().Str("repo", "order").Logger()}
}

// GetByClientOrderID returns the order for clientOrderID, or nil if none
// exists yet.
func (r *OrderRepository) GetByClientOrderID(clientOrderID string) (*domain.Order, error) {
	row := r.db.QueryRow(`
		SELECT id, client_order_id, external_order_id, strategy, symbol, exchange,
		       side, type, status, quantity, filled_quantity, price, stop_price,
		       reduce_only, time_in_force, raw_request, raw_response, created_at, updated_at
		FROM orders WHERE client_order_id = ?`, clientOrderID)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order by client_order_id: %w", err)
	}
	return order, nil
}

// GetByID returns the order for id, or nil if none exists.
func (r *OrderRepository) GetByID(id string) (*domain.Order, error) {
	row := r.db.QueryRow(`
		SELECT id, client_order_id, external_order_id, strategy, symbol, exchange,
		       side, type, status, quantity, filled_quantity, price, stop_price,
		       reduce_only, time_in_force, raw_request, raw_response, created_at, updated_at
		FROM orders WHERE id = ?`, id)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order by id: %w", err)
	}
	return order, nil
}

// Upsert inserts order, or updates the existing row sharing its
// client_order_id. Returns the persisted order's id (generated on first
// insert, preserved across retries).
func (r *OrderRepository) Upsert(order domain.Order) (string, error) {
	existing, err := r.GetByClientOrderID(order.ClientOrderID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if existing != nil {
		order.ID = existing.ID
		order.CreatedAt = existing.CreatedAt
	} else {
		if order.ID == "" {
			order.ID = uuid.NewString()
		}
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`
			INSERT INTO orders
				(id, client_order_id, external_order_id, strategy, symbol, exchange,
				 side, type, status, quantity, filled_quantity, price, stop_price,
				 reduce_only, time_in_force, raw_request, raw_response, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(client_order_id) DO UPDATE SET
				external_order_id = excluded.external_order_id,
				status            = excluded.status,
				filled_quantity   = excluded.filled_quantity,
				price             = excluded.price,
				stop_price        = excluded.stop_price,
				raw_request       = excluded.raw_request,
				raw_response      = excluded.raw_response,
				updated_at        = excluded.updated_at`,
			order.ID, order.ClientOrderID, nullString(order.ExternalOrderID), order.Strategy,
			order.Symbol, order.Exchange, string(order.Side), string(order.Type), string(order.Status),
			order.Quantity, order.FilledQuantity, nullFloat64Ptr(order.Price), nullFloat64Ptr(order.StopPrice),
			order.ReduceOnly, order.TimeInForce, order.RawRequest, order.RawResponse,
			order.CreatedAt.Format(time.RFC3339Nano), order.UpdatedAt.Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert order: %w", err)
	}

	r.log.Debug().Str("client_order_id", order.ClientOrderID).Str("status", string(order.Status)).Msg("order upserted")
	return order.ID, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var externalOrderID sql.NullString
	var price, stopPrice sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(
		&o.ID, &o.ClientOrderID, &externalOrderID, &o.Strategy, &o.Symbol, &o.Exchange,
		&o.Side, &o.Type, &o.Status, &o.Quantity, &o.FilledQuantity, &price, &stopPrice,
		&o.ReduceOnly, &o.TimeInForce, &o.RawRequest, &o.RawResponse, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if externalOrderID.Valid {
		o.ExternalOrderID = externalOrderID.String
	}
	if price.Valid {
		v := price.Float64
		o.Price = &v
	}
	if stopPrice.Valid {
		v := stopPrice.Float64
		o.StopPrice = &v
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &o, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
