// Package database provides database clients for tests.
package database

import (
	"testing"

	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/test/util"
)

// NewTestClient returns a client on a fresh migrated schema.
// CI_DATABASE_URL selects an external server; otherwise a shared
// testcontainer is used.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	return database.NewClientFromDB(util.OpenPool(t, util.NewSchema(t)))
}
