package database

import (
	"testing"

	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/test/util"
)

// SharedTestDB is one migrated schema used by several simulated replicas.
// Each replica opens its own pool with NewClient.
type SharedTestDB struct {
	connStr string
}

// NewSharedTestDB creates the schema; it is dropped after every replica's
// cleanup has run.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	return &SharedTestDB{connStr: util.NewSchema(t)}
}

// ConnString returns the connection string pinned to the shared schema,
// suitable for a NotifyListener's dedicated connection.
func (s *SharedTestDB) ConnString() string {
	return s.connStr
}

// NewClient opens an independent pool on the shared schema.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()
	return database.NewClientFromDB(util.OpenPool(t, s.connStr))
}
