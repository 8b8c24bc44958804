// Package database provides the trading store connection and schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/aristath/tradepipe/internal/config"
)

// DB wraps the trading store connection.
type DB struct {
	conn *sql.DB
	path string
}

// New opens a connection per settings.Database. For engine=sqlite,
// check_same_thread is forced false (spec.md §6) by using the pure-Go
// modernc.org/sqlite driver, which has no such restriction to begin with;
// WAL mode and foreign keys are still turned on explicitly.
func New(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Engine != "sqlite" {
		return nil, fmt.Errorf("database engine %q is not supported by this build", cfg.Engine)
	}

	path := strings.TrimPrefix(cfg.URL, "sqlite://")
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = absPath
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 5
	}
	conn.SetMaxOpenConns(poolSize)
	conn.SetMaxIdleConns(poolSize)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	client_order_id TEXT NOT NULL UNIQUE,
	external_order_id TEXT,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'new',
	quantity REAL NOT NULL,
	filled_quantity REAL NOT NULL DEFAULT 0,
	price REAL,
	stop_price REAL,
	reduce_only INTEGER NOT NULL DEFAULT 0,
	time_in_force TEXT,
	raw_request TEXT,
	raw_response TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	strategy TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	take_profit_price REAL,
	reduce_only_stop_installed INTEGER NOT NULL DEFAULT 0,
	opened_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	closed_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_unique
	ON positions (symbol, exchange, strategy)
	WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS account_states (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	equity REAL NOT NULL,
	cash REAL NOT NULL,
	buying_power REAL NOT NULL,
	leverage REAL NOT NULL DEFAULT 1.0,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_account_states_account_ts
	ON account_states (account_id, timestamp DESC);
`

// Migrate creates the orders/positions/account_states tables if absent.
func (db *DB) Migrate() error {
	return WithTransaction(db.conn, func(tx *sql.Tx) error {
		_, err := tx.Exec(schema)
		return err
	})
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic. This is the Go shape of the source's
// session_scope context manager (open -> commit-on-success ->
// rollback-on-error -> close).
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()
	err = fn(tx)
	return err
}
