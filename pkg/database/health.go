package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HealthStatus is the database section of /health.
type HealthStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`

	// Schema reflects golang-migrate's bookkeeping table. A dirty schema
	// means a migration failed halfway and needs manual repair.
	SchemaVersion uint `json:"schema_version"`
	SchemaDirty   bool `json:"schema_dirty,omitempty"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDurationMS  int64 `json:"wait_duration_ms"`
	MaxOpenConns    int   `json:"max_open_conns"`
}

// Health pings the database and reads the applied migration version. The
// returned status is filled in even when err is non-nil.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	st := &HealthStatus{Status: "healthy"}

	err := db.PingContext(ctx)
	if err == nil {
		err = db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).
			Scan(&st.SchemaVersion, &st.SchemaDirty)
		if errors.Is(err, sql.ErrNoRows) {
			err = errors.New("no migrations applied")
		}
		if err == nil && st.SchemaDirty {
			err = fmt.Errorf("schema version %d is dirty", st.SchemaVersion)
		}
	}
	st.ResponseTimeMS = time.Since(start).Milliseconds()

	stats := db.Stats()
	st.OpenConnections = stats.OpenConnections
	st.InUse = stats.InUse
	st.Idle = stats.Idle
	st.WaitCount = stats.WaitCount
	st.WaitDurationMS = stats.WaitDuration.Milliseconds()
	st.MaxOpenConns = stats.MaxOpenConnections

	if err != nil {
		st.Status = "unhealthy"
		return st, err
	}
	return st, nil
}
