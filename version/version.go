// Package version reports the version of the warden binary, filling in VCS details from the build info when they
// were not provided through ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is the semantic version of warden. GitCommit and GitTreeDirty may be set with ldflags.
var (
	Version      = "0.1.0"
	GitCommit    = ""
	GitTreeDirty = ""
)

// Info describes a warden build.
type Info struct {
	// Version is the semantic version.
	Version string `json:"version"`

	// Commit is the abbreviated git commit, suffixed with -dirty if the tree had local changes.
	Commit string `json:"commit,omitempty"`

	// GoVersion is the version of the Go toolchain used.
	GoVersion string `json:"goVersion"`
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && GitCommit == "" {
			GitCommit = setting.Value
		} else if setting.Key == "vcs.modified" && GitTreeDirty == "" {
			GitTreeDirty = setting.Value
		}
	}
}

// GetInfo returns the Info of the running binary.
func GetInfo() Info {
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit != "" && GitTreeDirty == "true" {
		commit += "-dirty"
	}
	return Info{Version: Version, Commit: commit, GoVersion: runtime.Version()}
}

// Short returns the version with the commit appended as build metadata, e.g. 0.1.0+1a2b3c4.
func (i Info) Short() string {
	if i.Commit == "" {
		return i.Version
	}
	return i.Version + "+" + i.Commit
}

// String returns a multi-line description of the build.
func (i Info) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("warden version %s\n", i.Version))
	if i.Commit != "" {
		sb.WriteString(fmt.Sprintf("  Commit:     %s\n", i.Commit))
	}
	sb.WriteString(fmt.Sprintf("  Go version: %s\n", i.GoVersion))
	return sb.String()
}
