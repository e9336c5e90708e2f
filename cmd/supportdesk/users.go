package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
)

// userFile is the import format:
//
//	users:
//	  - username: jdoe
//	    full_name: Jane Doe
//	    email: jdoe@example.edu
//	    role: STUDENT
//	    student_id: S-1234
type userFile struct {
	Users []*models.User `yaml:"users"`
}

// userUpserter is implemented by store.Postgres and store.Memory.
type userUpserter interface {
	UpsertUser(ctx context.Context, user *models.User) error
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update directory users from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := readUsersFile(args[0])
			if err != nil {
				return err
			}

			dbConfig, err := database.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load database config: %w", err)
			}
			ctx := context.Background()
			client, err := database.NewClient(ctx, dbConfig)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			n, err := importUsers(ctx, store.NewPostgres(client), users)
			if err != nil {
				return err
			}
			slog.Info("Users imported", "count", n)
			return nil
		},
	})
	return cmd
}

func readUsersFile(path string) ([]*models.User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	users, err := parseUsers(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return users, nil
}

// parseUsers decodes and validates an import file. Roles are matched
// case-insensitively.
func parseUsers(r io.Reader) ([]*models.User, error) {
	var uf userFile
	if err := yaml.NewDecoder(r).Decode(&uf); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	seen := make(map[string]bool, len(uf.Users))
	for i, u := range uf.Users {
		if u == nil || strings.TrimSpace(u.Username) == "" {
			return nil, fmt.Errorf("user %d: username is required", i)
		}
		u.Username = strings.TrimSpace(u.Username)
		if seen[u.Username] {
			return nil, fmt.Errorf("user %d: duplicate username %q", i, u.Username)
		}
		seen[u.Username] = true
		u.Role = models.Role(strings.ToUpper(string(u.Role)))
		if !u.Role.IsValid() {
			return nil, fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}
	}
	return uf.Users, nil
}

func importUsers(ctx context.Context, st userUpserter, users []*models.User) (int, error) {
	for i, u := range users {
		if err := st.UpsertUser(ctx, u); err != nil {
			return i, fmt.Errorf("failed to import user %q: %w", u.Username, err)
		}
	}
	return len(users), nil
}
