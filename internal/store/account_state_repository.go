package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/domain"
)

// AccountStateRepository persists an append-only log of account equity
// snapshots, used by RiskService to evaluate circuit breakers against the
// most recent and historical equity.
type AccountStateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountStateRepository wires a repository against an already-migrated
// database handle.
func NewAccountStateRepository(db *sql.DB, log zerolog.Logger) *AccountStateRepository {
	return &AccountStateRepository{db: db, log: log.With().Str("repo", "account_state").Logger()}
}

// Insert appends a new account state snapshot.
func (r *AccountStateRepository) Insert(state domain.AccountState) error {
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	_, err := r.db.Exec(`
		INSERT INTO account_states (id, account_id, equity, cash, buying_power, leverage, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		state.ID, state.AccountID, state.Equity, state.Cash, state.BuyingPower, state.Leverage,
		state.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account state: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for accountID, or nil if none
// has been recorded yet.
func (r *AccountStateRepository) Latest(accountID string) (*domain.AccountState, error) {
	row := r.db.QueryRow(`
		SELECT id, account_id, equity, cash, buying_power, leverage, timestamp
		FROM account_states WHERE account_id = ?
		ORDER BY timestamp DESC LIMIT 1`, accountID)

	var s domain.AccountState
	var ts string
	err := row.Scan(&s.ID, &s.AccountID, &s.Equity, &s.Cash, &s.BuyingPower, &s.Leverage, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest account state: %w", err)
	}
	s.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return &s, nil
}

// EquityAt returns the most recent equity recorded at or before asOf, used
// to evaluate the daily_loss circuit breaker against a day-boundary
// snapshot.
func (r *AccountStateRepository) EquityAt(accountID string, asOf time.Time) (float64, bool, error) {
	row := r.db.QueryRow(`
		SELECT equity FROM account_states
		WHERE account_id = ? AND timestamp <= ?
		ORDER BY timestamp DESC LIMIT 1`, accountID, asOf.Format(time.RFC3339Nano))

	var equity float64
	err := row.Scan(&equity)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query equity at time: %w", err)
	}
	return equity, true, nil
}

// PeakEquity returns the highest equity ever recorded for accountID, used
// to evaluate the total_drawdown circuit breaker against the account's
// all-time high-water mark.
func (r *AccountStateRepository) PeakEquity(accountID string) (float64, bool, error) {
	row := r.db.QueryRow(`
		SELECT MAX(equity) FROM account_states WHERE account_id = ?`, accountID)

	var peak sql.NullFloat64
	if err := row.Scan(&peak); err != nil {
		return 0, false, fmt.Errorf("failed to query peak equity: %w", err)
	}
	if !peak.Valid {
		return 0, false, nil
	}
	return peak.Float64, true, nil
}
