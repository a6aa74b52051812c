package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/aegis/cmd/aegis/internal"
)

// Version is set at build time via -ldflags.
var (
	Version   = "v0.1.0"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalFlags.GetOutputFormat() == FormatJSON {
			return internal.PrintJSON(cmd.OutOrStdout(), map[string]string{
				"version":   Version,
				"gitCommit": GitCommit,
				"goVersion": runtime.Version(),
				"platform":  runtime.GOOS + "/" + runtime.GOARCH,
			})
		}
		cmd.Printf("Aegis %s (%s, %s %s/%s)\n",
			Version, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}
