// Package buildinfo exposes version information stamped at build time.
package buildinfo

import "runtime"

// These vars are set at build time via ldflags:
// -X github.com/sealpost/sealpost-cli/pkg/buildinfo.Version=v0.4.1
// -X github.com/sealpost/sealpost-cli/pkg/buildinfo.Commit=1a2b3c4
// -X github.com/sealpost/sealpost-cli/pkg/buildinfo.BuildTime=2026-08-12T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information for the CLI.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the current build info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String returns a human-readable one-liner like "v0.4.1 (1a2b3c4, 2026-08-12T09:00:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}
