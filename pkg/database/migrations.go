package database

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"
)

// CreatePartialUniqueIndexes creates the partial unique index that enforces
// at most one non-CLOSED session per customer. Concurrent creates that slip
// past the service-level lock still collide here.
func CreatePartialUniqueIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS chatsession_customer_username_open
		ON chat_sessions (customer_username)
		WHERE status <> 'CLOSED'`)
	if err != nil {
		return fmt.Errorf("failed to create open session index: %w", err)
	}

	return nil
}

// CreateGINIndexes creates trigram GIN indexes backing the case-insensitive
// name filters of the history search. They need the pg_trgm extension
// (installed by deploy/postgres-init); without it the search still works
// through sequential scans and the indexes are skipped.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	var installed bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')`).Scan(&installed)
	if err != nil {
		return fmt.Errorf("failed to check pg_trgm extension: %w", err)
	}
	if !installed {
		slog.Warn("pg_trgm extension not installed, skipping name search indexes")
		return nil
	}

	var schema string
	err = db.QueryRowContext(ctx,
		`SELECT n.nspname FROM pg_extension e JOIN pg_namespace n ON n.oid = e.extnamespace
		WHERE e.extname = 'pg_trgm'`).Scan(&schema)
	if err != nil {
		return fmt.Errorf("failed to resolve pg_trgm schema: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_users_full_name_trgm
		ON users USING gin (full_name %s.gin_trgm_ops)`, pgx.Identifier{schema}.Sanitize()))
	if err != nil {
		return fmt.Errorf("failed to create full_name GIN index: %w", err)
	}

	return nil
}
