// Package version exposes the codemie build identity. The values travel
// with every sync as the X-Client-Version header, so the ingestion API can
// attribute payloads to a specific release.
package version

import (
	"fmt"
	"runtime"
)

// Populated via -ldflags at release build time; the zero values identify a
// local dev build.
var (
	Version   = "dev"     // Git tag or dev version string
	Commit    = "none"    // Git commit hash
	Branch    = "unknown" // Git branch name
	BuildDate = "unknown" // Build timestamp
)

// Info holds the build identity of this codemie binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Branch    string `json:"branch"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build identity, including the toolchain and platform
// it was compiled with.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Branch:    Branch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the info as the aligned block printed by 'codemie version'.
func (i Info) String() string {
	return fmt.Sprintf(
		"Version:\t%s\nCommit:\t\t%s\nBranch:\t\t%s\nBuild Date:\t%s\nGo Version:\t%s\nCompiler:\t%s\nPlatform:\t%s",
		i.Version, i.Commit, i.Branch, i.BuildDate, i.GoVersion, i.Compiler, i.Platform,
	)
}
