package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Stamped via -ldflags at release build time. A plain `go build` leaves them
// empty and version info falls back to the module's embedded build metadata.
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("curator %s (commit: %s, built: %s)\n", Version, commit(), buildDate())
	},
}

// VersionString returns a short version string for health checks and logs.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", Version, commit())
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if v := buildSetting("vcs.revision"); v != "" {
		if len(v) > 7 {
			return v[:7]
		}
		return v
	}
	return "unknown"
}

func buildDate() string {
	if BuildDate != "" {
		return BuildDate
	}
	if v := buildSetting("vcs.time"); v != "" {
		return v
	}
	return "unknown"
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
