package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommit(t *testing.T) {
	withRevision := func(rev string) func() (*debug.BuildInfo, bool) {
		return func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: rev}}}, true
		}
	}
	noInfo := func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name     string
		override string
		info     func() (*debug.BuildInfo, bool)
		want     string
	}{
		{"ldflags override wins", "0123456789abcdef", withRevision("fedcba9876543210"), "01234567"},
		{"short override kept", "abc", noInfo, "abc"},
		{"vcs revision", "", withRevision("fedcba9876543210"), "fedcba98"},
		{"empty revision", "", withRevision(""), "dev"},
		{"no build info", "", noInfo, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveCommit(tt.override, tt.info))
		})
	}
}

func TestFull(t *testing.T) {
	assert.Equal(t, AppName+"/"+GitCommit, Full())
}
