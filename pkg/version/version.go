// Package version exposes the application version derived from build
// metadata. A -ldflags override wins; otherwise the VCS revision from the
// build info is used, with "dev" as the fallback.
package version

import "runtime/debug"

// AppName is used in version strings and protocol handshakes.
const AppName = "hlcs"

// versionOverride is set via -ldflags for builds without VCS metadata.
var versionOverride string

// Version is the short revision identifying this build.
var Version = initVersion()

func initVersion() string {
	if versionOverride != "" {
		return short(versionOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "hlcs/<version>" for logging and user-agent strings.
func Full() string {
	return AppName + "/" + Version
}
