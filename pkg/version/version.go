// Package version identifies a taskstream build. The commit is taken from
// -ldflags when set, otherwise from the Go VCS build stamp; binaries built
// outside a git checkout and test binaries report "dev".
//
// Release builds set it with:
//
//	go build -ldflags "-X github.com/codeready-toolchain/taskstream/pkg/version.commitOverride=$(git rev-parse HEAD)"
package version

import "runtime/debug"

// AppName prefixes the version string sent in health responses and as the
// gRPC and WebSocket client user agent.
const AppName = "taskstream"

const shortCommitLen = 8

// commitOverride is injected by release builds that have no .git directory.
var commitOverride string

// GitCommit is the short commit of this build, with a "-dirty" suffix when
// the working tree had local changes, or "dev".
var GitCommit = resolveCommit(commitOverride, readVCS)

// Full returns "taskstream/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

// vcsStamp is the subset of the Go VCS build settings this package uses.
type vcsStamp struct {
	revision string
	modified bool
}

func readVCS() (vcsStamp, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return vcsStamp{}, false
	}
	var stamp vcsStamp
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			stamp.revision = s.Value
		case "vcs.modified":
			stamp.modified = s.Value == "true"
		}
	}
	return stamp, stamp.revision != ""
}

func resolveCommit(override string, read func() (vcsStamp, bool)) string {
	if override != "" {
		return shorten(override)
	}
	stamp, ok := read()
	if !ok {
		return "dev"
	}
	commit := shorten(stamp.revision)
	if stamp.modified {
		commit += "-dirty"
	}
	return commit
}

func shorten(rev string) string {
	if len(rev) > shortCommitLen {
		return rev[:shortCommitLen]
	}
	return rev
}
