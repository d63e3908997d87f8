// Package version provides build-time version information for Trahl.
//
// Build-time variables are injected via ldflags:
//
//	go build -ldflags "
//	  -X github.com/trahl-dev/trahl/internal/version.Version=x.y.z
//	  -X github.com/trahl-dev/trahl/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/trahl-dev/trahl/internal/version.TreeState=$(if git diff --quiet; then echo clean; else echo dirty; fi)
//	"
package version

import (
	"fmt"
	"runtime/debug"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// TreeState indicates if the git tree was clean or dirty at build.
	TreeState = "unknown"
)

func init() {
	// If ldflags weren't provided, try to get VCS info from build info.
	if Commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					Commit = setting.Value
				case "vcs.modified":
					if setting.Value == "true" {
						TreeState = "dirty"
					} else {
						TreeState = "clean"
					}
				}
			}
		}
	}
}

// Short returns a short version string suitable for CLI --version output
// and the worker's Hello handshake. Does not include the application name
// since Cobra adds that automatically.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		treeIndicator := ""
		if TreeState == "dirty" {
			treeIndicator = "*"
		}
		return fmt.Sprintf("%s (%s%s)", Version, Commit[:8], treeIndicator)
	}
	return Version
}
