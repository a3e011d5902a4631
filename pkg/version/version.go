package version

import "fmt"

// Injected at build time via -ldflags "-X frameworks/sextant/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Component is the binary name reported in logs, health and metrics output.
const Component = "sextant"

// GetShortCommit returns the short git commit hash (first 7 characters)
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// String renders "sextant/dev (abcdef1)". It doubles as the User-Agent for
// outbound requests.
func String() string {
	return fmt.Sprintf("%s/%s (%s)", Component, Version, GetShortCommit())
}
