// Package util starts the external services integration tests run against.
//
// Each service is either provided by CI through an environment variable or
// started once per test binary as a testcontainer and shared by every test
// in the package.
package util

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// sharedService is an external dependency started at most once per binary.
type sharedService struct {
	name   string
	envVar string
	start  func(ctx context.Context) (string, error)

	once sync.Once
	addr string
	err  error
}

// address returns the CI-provided address when envVar is set, otherwise the
// address of the shared container, starting it on first use.
func (s *sharedService) address(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv(s.envVar); addr != "" {
		return addr
	}
	s.once.Do(func() {
		t.Logf("Starting shared %s testcontainer", s.name)
		s.addr, s.err = s.start(context.Background())
		if s.err == nil {
			t.Logf("Shared %s ready at %s", s.name, s.addr)
		}
	})
	require.NoError(t, s.err, "failed to start shared %s container", s.name)
	return s.addr
}
