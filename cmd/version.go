package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealpost/sealpost-cli/pkg/buildinfo"
)

// VersionCmd prints build information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(c *cobra.Command, args []string) error {
		cfg := effectiveConfig()
		info := buildinfo.Get()
		return writeOutput(c.OutOrStdout(), cfg.OutputFormat, info, func() string {
			return fmt.Sprintf("sealpost %s (commit %s, built %s)", info.Version, info.Commit, info.BuildTime)
		})
	},
}
