// Package store is the relational datastore layer: properties, runs,
// verdict rows, and the retry queue, over sqlx with the pgx stdlib driver.
//
// All state transitions that multiple processes might race on (retry-queue
// entries) are single-row compare-and-set updates gated on the prior
// status.
package store

import (
	"context"
	_ "embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the sqlx handle and exposes the typed repositories.
type DB struct {
	conn *sqlx.DB

	Properties *PropertyStore
	Runs       *RunStore
	Verdicts   *VerdictStore
	RetryQueue *RetryQueueStore
}

// Open connects to the datastore and pings it.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect datastore: %w", err)
	}
	if maxOpenConns > 0 {
		conn.SetMaxOpenConns(maxOpenConns)
	}
	return wrap(conn), nil
}

// wrap builds the repository set over an existing connection. Split out so
// tests can inject a prepared handle.
func wrap(conn *sqlx.DB) *DB {
	return &DB{
		conn:       conn,
		Properties: &PropertyStore{conn: conn},
		Runs:       &RunStore{conn: conn},
		Verdicts:   &VerdictStore{conn: conn},
		RetryQueue: &RetryQueueStore{conn: conn},
	}
}

// Migrate applies the embedded schema. Idempotent (CREATE IF NOT EXISTS).
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}
