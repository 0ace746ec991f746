// Package main provides the sealpost CLI entry point.
// sealpost is the command-line interface for the Registra secure attachment
// submission pipeline.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sealpost/sealpost-cli/cmd"
	"github.com/sealpost/sealpost-cli/config"
)

// Global flags.
var (
	cfgFile      string
	backendAddr  string
	agentAddr    string
	timeout      time.Duration
	outputFormat string
	debug        bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sealpost",
	Short: "Sealpost CLI - secure attachment submission for Registra",
	Long: `sealpost submits files as attachments of Registra documents, comments and
task results.

Files at or above the organization's encryption threshold never leave this
machine unencrypted: they are chunk-encrypted through the local cryptographic
agent backed by your hardware token, and decryption capability is granted to
the chosen recipients in the same submission.

COMMON WORKFLOWS:
  Login:            sealpost auth login
  Check your token: sealpost verify
  List levels:      sealpost levels
  Submit files:     sealpost submit --kind document --level confidential \
                      --file draft:./filing.pdf --recipient u-17

All commands support --output json for machine consumption.`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Version and help work without configuration.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		var (
			cfg *config.CLIConfig
			err error
		)
		if cfgFile != "" {
			cfg, err = config.LoadConfigFromFile(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Command-line flags override file and environment values.
		if backendAddr != "" {
			cfg.BackendAddress = backendAddr
		}
		if agentAddr != "" {
			cfg.AgentAddress = agentAddr
		}
		if timeout != 0 {
			cfg.Timeout = timeout
		}
		if outputFormat != "" {
			cfg.OutputFormat = config.OutputFormat(outputFormat)
		}
		if debug {
			cfg.Debug = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SetConfig(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.sealpost/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendAddr, "backend", "", "Registra backend base URL")
	rootCmd.PersistentFlags().StringVar(&agentAddr, "agent", "", "Local cryptographic agent address (host:port)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Backend request timeout")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(cmd.SubmitCmd)
	rootCmd.AddCommand(cmd.VerifyCmd)
	rootCmd.AddCommand(cmd.LevelsCmd)
	rootCmd.AddCommand(cmd.AuthCmd)
	rootCmd.AddCommand(cmd.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
