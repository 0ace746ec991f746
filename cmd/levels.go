package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sealpost/sealpost-cli/config"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

// LevelsCommandDeps holds the dependencies for the levels command.
type LevelsCommandDeps struct {
	Config *config.CLIConfig

	// Mock function overrides for testing
	CatalogFn func(ctx context.Context) (pipeline.Catalog, error)
	Out       io.Writer
}

var levelsDeps LevelsCommandDeps

// LevelsCmd lists the organization's security level catalog.
var LevelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "List security levels",
	Long: `List the organization-wide security level catalog.

Levels at or above the encryption threshold are marked; submitting files at
such a level encrypts them on this machine before upload.

Examples:
  sealpost levels
  sealpost levels --output json`,
	RunE: runLevels,
}

func runLevels(c *cobra.Command, args []string) error {
	cfg := levelsDeps.Config
	if cfg == nil {
		cfg = effectiveConfig()
	}
	out := levelsDeps.Out
	if out == nil {
		out = c.OutOrStdout()
	}

	catalogFn := levelsDeps.CatalogFn
	if catalogFn == nil {
		logger := newLogger(cfg)
		backend, _, err := newBackendClient(cfg, logger)
		if err != nil {
			return err
		}
		catalogFn = backend.SecurityLevels
	}

	catalog, err := catalogFn(c.Context())
	if err != nil {
		return err
	}

	sorted := make(pipeline.Catalog, len(catalog))
	copy(sorted, catalog)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	return writeOutput(out, cfg.OutputFormat, sorted, func() string {
		threshold, hasThreshold := sorted.EncryptionThreshold()

		var b strings.Builder
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tRANK\tENCRYPTION")
		for _, lvl := range sorted {
			enc := "-"
			if hasThreshold && lvl.Rank >= threshold {
				enc = "required"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", lvl.ID, lvl.Name, lvl.Rank, enc)
		}
		tw.Flush()
		return strings.TrimRight(b.String(), "\n")
	})
}
