// Package version carries build metadata for regsearch.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name is the program name used in version strings and headers.
const Name = "regsearch"

// Version is injected with -ldflags "-X github.com/Aman-CERP/regsearch/pkg/version.Version=...".
var Version = "dev"

// Build metadata, also injected via ldflags.
var (
	Commit = "unknown"
	// Date is RFC3339.
	Date = "unknown"

	GoVersion = runtime.Version()
)

// Builds without ldflags (go install, go build in a checkout) still carry
// VCS stamps in the binary.
func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value[:min(len(s.Value), 12)]
			}
		case "vcs.time":
			if Date == "unknown" && s.Value != "" {
				Date = s.Value
			}
		}
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}

// BuildInfo is the JSON form of the build metadata.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		Name, Version, Commit, Date, GoVersion)
}

// Short returns just the version.
func Short() string {
	return Version
}

// UserAgent identifies the engine in HTTP headers and outbound calls.
func UserAgent() string {
	return Name + "/" + Version
}

// GetInfo returns structured build metadata.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
