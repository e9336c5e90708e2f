// Package version reports which build is running, for logs, the CLI
// --version flag and /health.
package version

import "runtime/debug"

// AppName names the binary and prefixes Full.
const AppName = "supportdesk"

// commit may be set with
//
//	-ldflags "-X github.com/codeready-toolchain/supportdesk/pkg/version.commit=<sha>"
//
// for image builds that have no .git directory.
var commit string

// GitCommit is the first 8 characters of the build's commit, or "dev" when
// neither ldflags nor VCS build info provide one (go test, go run).
var GitCommit = resolveCommit(commit, readBuildInfo)

func readBuildInfo() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

func resolveCommit(override string, info func() (*debug.BuildInfo, bool)) string {
	if override != "" {
		return shortSHA(override)
	}
	if bi, ok := info(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shortSHA(s.Value)
			}
		}
	}
	return "dev"
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// Full returns "supportdesk/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
