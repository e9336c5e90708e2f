package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/supportdesk/pkg/database"
)

var postgresService = &sharedService{
	name:   "postgres",
	envVar: "CI_DATABASE_URL",
	start:  startPostgres,
}

// PostgresURL returns the connection string of the test database, without
// a search_path. NOTIFY/LISTEN is database-wide, so listeners may use it
// directly.
func PostgresURL(t *testing.T) string {
	return postgresService.address(t)
}

// NewSchema creates a migrated schema private to the test and returns a
// connection string pinned to it. The schema is dropped on cleanup.
func NewSchema(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	base := PostgresURL(t)
	schema := schemaName(t)

	admin, err := stdsql.Open("pgx", base)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		defer func() { _ = admin.Close() }()
		if _, err := admin.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
	})

	pinned := withSearchPath(base, schema)
	db, err := stdsql.Open("pgx", pinned)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, database.Migrate(ctx, database.NewClientFromDB(db), "test"))

	return pinned
}

// OpenPool opens a connection pool on connStr, closed on cleanup.
func OpenPool(t *testing.T, connStr string) *stdsql.DB {
	t.Helper()
	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startPostgres(ctx context.Context) (string, error) {
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(initScriptPath()),
		testcontainers.WithWaitStrategy(
			// The server restarts once after running init scripts.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}
	return container.ConnectionString(ctx, "sslmode=disable")
}

// schemaName derives a unique identifier from the test name, kept under
// PostgreSQL's 63-byte limit.
func schemaName(t *testing.T) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(t.Name()))
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("failed to generate schema suffix: %v", err)
	}
	return "test_" + name + "_" + hex.EncodeToString(suffix)
}

// withSearchPath pins every connection opened from connStr to schema.
func withSearchPath(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return connStr + sep + "search_path=" + url.QueryEscape(schema)
}

// initScriptPath locates deploy/postgres-init relative to this file, so it
// resolves from any package's test binary.
func initScriptPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("initScriptPath: runtime.Caller failed")
	}
	root := filepath.Join(filepath.Dir(thisFile), "..", "..")
	return filepath.Join(root, "deploy", "postgres-init", "01-init.sql")
}
