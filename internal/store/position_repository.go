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

// PositionRepository persists Position rows. The schema's partial unique
// index on (symbol, exchange, strategy) WHERE closed_at IS NULL enforces
// invariant P2 at the database layer: Upsert's insert path simply fails
// with a constraint error if a second open position for the same key is
// attempted concurrently, which callers surface rather than swallow.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository wires a repository against an already-migrated
// database handle.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{db: db, log: log.With().Str("repo", "position").Logger()}
}

// GetOpen returns the open position for (symbol, exchange, strategy), or
// nil if there is none.
func (r *PositionRepository) GetOpen(symbol, exchange, strategy string) (*domain.Position, error) {
	row := r.db.QueryRow(`
		SELECT id, symbol, exchange, strategy, quantity, entry_price, stop_price,
		       take_profit_price, reduce_only_stop_installed, opened_at, updated_at, closed_at
		FROM positions
		WHERE symbol = ? AND exchange = ? AND strategy = ? AND closed_at IS NULL`,
		symbol, exchange, strategy)

	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open position: %w", err)
	}
	return pos, nil
}

// ListOpen returns every currently open position, used by
// ReconciliationService to diff local state against the venue.
func (r *PositionRepository) ListOpen() ([]domain.Position, error) {
	rows, err := r.db.Query(`
		SELECT id, symbol, exchange, strategy, quantity, entry_price, stop_price,
		       take_profit_price, reduce_only_stop_installed, opened_at, updated_at, closed_at
		FROM positions WHERE closed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPositionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Upsert inserts position if id is empty, otherwise updates the existing
// row by id. Returns the persisted id.
func (r *PositionRepository) Upsert(position domain.Position) (string, error) {
	now := time.Now().UTC()
	if position.ID == "" {
		position.ID = uuid.NewString()
		position.OpenedAt = now
	}
	position.UpdatedAt = now

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`
			INSERT INTO positions
				(id, symbol, exchange, strategy, quantity, entry_price, stop_price,
				 take_profit_price, reduce_only_stop_installed, opened_at, updated_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				quantity                   = excluded.quantity,
				entry_price                = excluded.entry_price,
				stop_price                 = excluded.stop_price,
				take_profit_price          = excluded.take_profit_price,
				reduce_only_stop_installed = excluded.reduce_only_stop_installed,
				updated_at                 = excluded.updated_at,
				closed_at                  = excluded.closed_at`,
			position.ID, position.Symbol, position.Exchange, position.Strategy,
			position.Quantity, position.EntryPrice, position.StopPrice,
			nullFloat64Ptr(position.TakeProfitPrice), position.ReduceOnlyStopInstalled,
			position.OpenedAt.Format(time.RFC3339Nano), position.UpdatedAt.Format(time.RFC3339Nano),
			nullTimePtr(position.ClosedAt),
		)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert position: %w", err)
	}

	r.log.Debug().Str("symbol", position.Symbol).Str("strategy", position.Strategy).Msg("position upserted")
	return position.ID, nil
}

// MarkStopInstalled flips reduce_only_stop_installed to true, used once
// ExecutionService confirms the protective stop order landed (I3).
func (r *PositionRepository) MarkStopInstalled(id string, stopPrice float64) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE positions SET reduce_only_stop_installed = 1, stop_price = ?, updated_at = ?
			WHERE id = ?`, stopPrice, time.Now().UTC().Format(time.RFC3339Nano), id)
		return err
	})
}

// Close marks a position closed as of closedAt.
func (r *PositionRepository) Close(id string, closedAt time.Time) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE positions SET closed_at = ?, updated_at = ? WHERE id = ?`,
			closedAt.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id)
		return err
	})
}

func scanPosition(row *sql.Row) (*domain.Position, error) {
	var p domain.Position
	var takeProfitPrice sql.NullFloat64
	var openedAt, updatedAt string
	var closedAt sql.NullString

	err := row.Scan(&p.ID, &p.Symbol, &p.Exchange, &p.Strategy, &p.Quantity, &p.EntryPrice,
		&p.StopPrice, &takeProfitPrice, &p.ReduceOnlyStopInstalled, &openedAt, &updatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	applyPositionScan(&p, takeProfitPrice, openedAt, updatedAt, closedAt)
	return &p, nil
}

func scanPositionRows(rows *sql.Rows) (domain.Position, error) {
	var p domain.Position
	var takeProfitPrice sql.NullFloat64
	var openedAt, updatedAt string
	var closedAt sql.NullString

	err := rows.Scan(&p.ID, &p.Symbol, &p.Exchange, &p.Strategy, &p.Quantity, &p.EntryPrice,
		&p.StopPrice, &takeProfitPrice, &p.ReduceOnlyStopInstalled, &openedAt, &updatedAt, &closedAt)
	if err != nil {
		return p, err
	}
	applyPositionScan(&p, takeProfitPrice, openedAt, updatedAt, closedAt)
	return p, nil
}

func applyPositionScan(p *domain.Position, takeProfitPrice sql.NullFloat64, openedAt, updatedAt string, closedAt sql.NullString) {
	if takeProfitPrice.Valid {
		v := takeProfitPrice.Float64
		p.TakeProfitPrice = &v
	}
	p.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if closedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err == nil {
			p.ClosedAt = &t
		}
	}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}
