// Package version reports the relay release.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the release from the embedded VERSION file. A build with an
// empty file falls back to the main module version recorded by the linker.
func Get() string {
	if v := strings.TrimSpace(versionContent); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return strings.TrimPrefix(info.Main.Version, "v")
	}
	return "dev"
}

// UserAgent is the User-Agent header sent by outbound tool requests.
func UserAgent() string {
	return "Mozilla/5.0 (compatible; relay/" + Get() + "; +https://github.com/ShayCichocki/relay)"
}
