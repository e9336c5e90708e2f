package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
)

func TestParseUsers(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		users, err := parseUsers(strings.NewReader(`
users:
  - username: jdoe
    full_name: Jane Doe
    email: jdoe@example.edu
    role: student
    student_id: S-1234
  - username: " helper "
    full_name: Help Desk
    role: SUPPORT_AGENT
`))
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, models.RoleStudent, users[0].Role)
		assert.Equal(t, "S-1234", users[0].StudentID)
		assert.Equal(t, "Jane Doe", users[0].FullName)
		assert.Equal(t, "helper", users[1].Username)
		assert.True(t, users[1].IsAgent())
	})

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"bad yaml", "users: [", "invalid YAML"},
		{"missing username", "users:\n  - role: STUDENT\n", "username is required"},
		{"unknown role", "users:\n  - username: x\n    role: JANITOR\n", "unknown role"},
		{"duplicate", "users:\n  - username: x\n    role: ADMIN\n  - username: x\n    role: ADMIN\n", "duplicate username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseUsers(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestImportUsers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	users := []*models.User{
		{Username: "jdoe", FullName: "Jane Doe", Role: models.RoleStudent},
		{Username: "helper", FullName: "Help Desk", Role: models.RoleSupportAgent},
	}

	n, err := importUsers(ctx, st, users)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.GetUser(ctx, "helper")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupportAgent, got.Role)

	// Re-import updates in place.
	users[0].FullName = "Jane Q. Doe"
	_, err = importUsers(ctx, st, users[:1])
	require.NoError(t, err)
	got, err = st.GetUser(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "Jane Q. Doe", got.FullName)
}

func TestReadUsersFile(t *testing.T) {
	t.Run("sample directory parses", func(t *testing.T) {
		users, err := readUsersFile(filepath.Join("..", "..", "deploy", "config", "users.example.yaml"))
		require.NoError(t, err)
		require.Len(t, users, 4)
		assert.Equal(t, models.RoleSupportAgent, users[2].Role)
	})

	t.Run("error names the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("users:\n  - full_name: Nobody\n"), 0o600))

		_, err := readUsersFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
		assert.Contains(t, err.Error(), "username is required")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readUsersFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
