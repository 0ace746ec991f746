package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sealpost/sealpost-cli/agent"
	"github.com/sealpost/sealpost-cli/config"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

// VerifyCommandDeps holds the dependencies for the verify command.
type VerifyCommandDeps struct {
	Config *config.CLIConfig

	// Mock function overrides for testing
	VerifyFn func(ctx context.Context, expectedSerial string) error
	SerialFn func(ctx context.Context) (string, error)
	Out      io.Writer
}

var verifyDeps VerifyCommandDeps

// VerifyResult is the structured output of a verification check.
type VerifyResult struct {
	Verified bool   `json:"verified" yaml:"verified"`
	Serial   string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// VerifyCmd checks the hardware token against the registered serial.
var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the inserted hardware token",
	Long: `Check that the local cryptographic agent is reachable and that the inserted
hardware token matches the serial registered for your account.

This is the same check the submit command performs before encrypting, so a
passing verify means encrypted submissions will not be rejected for identity
reasons.

Examples:
  sealpost verify`,
	RunE: runVerify,
}

func runVerify(c *cobra.Command, args []string) error {
	cfg := verifyDeps.Config
	if cfg == nil {
		cfg = effectiveConfig()
	}
	out := verifyDeps.Out
	if out == nil {
		out = c.OutOrStdout()
	}
	ctx := c.Context()

	verifyFn, serialFn := verifyDeps.VerifyFn, verifyDeps.SerialFn
	if verifyFn == nil {
		logger := newLogger(cfg)
		backend, creds, err := newBackendClient(cfg, logger)
		if err != nil {
			return err
		}
		serialFn = func(ctx context.Context) (string, error) {
			if creds.TokenSerial != "" {
				return creds.TokenSerial, nil
			}
			op, err := backend.RegisteredOperator(ctx)
			if err != nil {
				return "", err
			}
			return op.TokenSerial, nil
		}
		verifier := pipeline.NewTokenVerifier(agent.NewHTTPClient(cfg.AgentBaseURL(), logger), logger)
		verifyFn = verifier.Verify
	}

	serial, err := serialFn(ctx)
	if err != nil {
		return fmt.Errorf("looking up registered token serial: %w", err)
	}
	if serial == "" {
		return errors.New("no hardware token serial is registered for your account")
	}

	result := VerifyResult{Serial: serial}
	if err := verifyFn(ctx, serial); err != nil {
		result.Reason = verifyFailureReason(err)
		writeErr := writeOutput(out, cfg.OutputFormat, result, func() string {
			return "Verification failed: " + result.Reason
		})
		if writeErr != nil {
			return writeErr
		}
		return errors.New("hardware token verification failed")
	}

	result.Verified = true
	return writeOutput(out, cfg.OutputFormat, result, func() string {
		return fmt.Sprintf("Hardware token verified (serial %s)", serial)
	})
}

// verifyFailureReason renders an identity failure for the operator.
func verifyFailureReason(err error) string {
	var idErr *pipeline.IdentityError
	if !errors.As(err, &idErr) {
		return err.Error()
	}
	switch idErr.Code {
	case pipeline.IdentityNoAgent:
		return "no hardware credential present; insert your token and make sure the sealpost agent is running"
	case pipeline.IdentitySerialMismatch:
		return fmt.Sprintf("inserted token serial %s does not match registered serial %s", idErr.Actual, idErr.Expected)
	default:
		return fmt.Sprintf("cryptographic agent unreachable: %v", idErr.Cause)
	}
}
