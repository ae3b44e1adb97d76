package bot

import "fmt"

// Version information (set at build time via ldflags)
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// VersionString is the reply to CTCP VERSION and .version.
func VersionString() string {
	return fmt.Sprintf("rulebot %s (built %s, commit %s)", Version, BuildDate, GitCommit)
}
