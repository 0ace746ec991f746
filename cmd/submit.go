package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sealpost/sealpost-cli/agent"
	"github.com/sealpost/sealpost-cli/config"
	"github.com/sealpost/sealpost-cli/pkg/metrics"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

// Submit command flags.
var (
	submitKind           string
	submitParent         string
	submitLevel          string
	submitFiles          []string
	submitFields         []string
	submitRecipients     []string
	submitOrgs           []string
	submitComment        string
	submitOnlyFileObject bool
)

// SubmitCommandDeps holds the dependencies for the submit command.
type SubmitCommandDeps struct {
	Config *config.CLIConfig

	// Mock function overrides for testing
	SubmitFn   func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error)
	CancelFn   func()
	ReadFileFn func(path string) ([]byte, error)
	Out        io.Writer
}

var submitDeps SubmitCommandDeps

// SubmitResult is the structured output of a completed submission.
type SubmitResult struct {
	ParentKind string `json:"parent_kind" yaml:"parent_kind"`
	ParentID   string `json:"parent_id" yaml:"parent_id"`
	Files      int    `json:"files" yaml:"files"`
	Level      string `json:"level" yaml:"level"`
}

// SubmitCmd submits attachments through the secure pipeline.
var SubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit attachments through the secure pipeline",
	Long: `Submit files as attachments of a document, comment or task result.

Files are classified by the chosen security level: at or above the
organization's encryption threshold they are encrypted on this machine through
the local cryptographic agent before anything leaves it; below the threshold
they are uploaded as-is. A submission is all-or-nothing: if any step fails, a
parent record created by this command is rolled back.

Examples:
  # Create a document with two draft files at a level below the threshold
  sealpost submit --kind document --field title="Q3 filing" --level internal \
    --file draft:./filing.pdf --file draft:./annex.pdf

  # Attach an encrypted file to an existing comment and grant two recipients
  sealpost submit --kind comment --parent cmt-1234 --level confidential \
    --file comment:./contract.pdf --recipient u-17 --recipient u-23

  # Task result with an accompanying comment
  sealpost submit --kind result --parent res-9 --level internal \
    --file result:./outcome.csv --comment "final numbers"

Press Ctrl-C during encryption to cancel; the agent connection is torn down
and a parent record created by this command is removed.`,
	RunE: runSubmit,
}

func init() {
	SubmitCmd.Flags().StringVar(&submitKind, "kind", "document", "Parent kind: document, comment or result")
	SubmitCmd.Flags().StringVar(&submitParent, "parent", "", "Existing parent record id (omit to create one)")
	SubmitCmd.Flags().StringVar(&submitLevel, "level", "", "Security level id for this submission")
	SubmitCmd.Flags().StringArrayVar(&submitFiles, "file", nil, "File to submit as slot:path (repeatable)")
	SubmitCmd.Flags().StringArrayVar(&submitFields, "field", nil, "Parent record field as key=value (repeatable, insert flow only)")
	SubmitCmd.Flags().StringArrayVar(&submitRecipients, "recipient", nil, "User id granted decryption capability (repeatable)")
	SubmitCmd.Flags().StringArrayVar(&submitOrgs, "org", nil, "Organization id granted decryption capability (repeatable)")
	SubmitCmd.Flags().StringVar(&submitComment, "comment", "", "Accompanying comment text")
	SubmitCmd.Flags().BoolVar(&submitOnlyFileObject, "only-file-object", false, "Share only file objects without persisting the comment")

	SubmitCmd.MarkFlagRequired("level")
}

func runSubmit(c *cobra.Command, args []string) error {
	cfg := submitDeps.Config
	if cfg == nil {
		cfg = effectiveConfig()
	}
	out := submitDeps.Out
	if out == nil {
		out = c.OutOrStdout()
	}

	kind, err := parseParentKind(submitKind)
	if err != nil {
		return err
	}
	fields, err := parseFields(submitFields)
	if err != nil {
		return err
	}
	candidates, err := collectCandidates(submitFiles, submitDeps.ReadFileFn)
	if err != nil {
		return err
	}
	if len(candidates) == 0 && submitComment == "" {
		return errors.New("nothing to submit: provide at least one --file or a --comment")
	}

	req := pipeline.SubmitRequest{
		Kind:       kind,
		Fields:     fields,
		Candidates: candidates,
		LevelID:    submitLevel,
		Recipients: pipeline.RecipientSet{
			Users:         submitRecipients,
			Organizations: submitOrgs,
		},
		Comment:        submitComment,
		OnlyFileObject: submitOnlyFileObject,
	}
	if submitParent != "" {
		req.Parent = &pipeline.ParentRef{Kind: kind, ID: submitParent}
	}

	submitFn, cancelFn := submitDeps.SubmitFn, submitDeps.CancelFn
	if submitFn == nil {
		submitFn, cancelFn, err = buildPipeline(c.Context(), cfg, submitLevel)
		if err != nil {
			return err
		}
	}

	// Ctrl-C cancels the whole submission: the context reaches every stage,
	// and the orchestrator's Cancel additionally tears the encryption batch
	// down. The pipeline then rolls back a parent record it created.
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cancelFn != nil {
		context.AfterFunc(ctx, cancelFn)
	}

	onProgress := progressRenderer(cfg.OutputFormat)

	parent, err := submitFn(ctx, req, onProgress)
	if err != nil {
		return submitFailure(err)
	}

	result := SubmitResult{
		ParentKind: string(parent.Kind),
		ParentID:   parent.ID,
		Files:      len(candidates),
		Level:      submitLevel,
	}
	return writeOutput(out, cfg.OutputFormat, result, func() string {
		return fmt.Sprintf("Submission completed: %s %s (%d files, level %s)",
			result.ParentKind, result.ParentID, result.Files, result.Level)
	})
}

// buildPipeline wires the real orchestrator from configuration and stored
// credentials.
func buildPipeline(ctx context.Context, cfg *config.CLIConfig, levelID string) (func(context.Context, pipeline.SubmitRequest, pipeline.ProgressFunc) (pipeline.ParentRef, error), func(), error) {
	logger := newLogger(cfg)

	backend, creds, err := newBackendClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	catalog, err := backend.SecurityLevels(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := catalog.ByID(levelID); !ok {
		return nil, nil, fmt.Errorf("unknown security level %q (run 'sealpost levels')", levelID)
	}
	if pin := cfg.Encryption.ThresholdLevelID; pin != "" {
		catalog = catalog.WithThresholdOverride(pin)
	}

	serial := creds.TokenSerial
	if serial == "" {
		op, err := backend.RegisteredOperator(ctx)
		if err != nil {
			return nil, nil, err
		}
		serial = op.TokenSerial
	}

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Backend:           backend,
		Agent:             agent.NewHTTPClient(cfg.AgentBaseURL(), logger),
		Catalog:           catalog,
		EncryptionEnabled: cfg.Encryption.Enabled,
		ExpectedSerial:    serial,
		ChunkSize:         cfg.Encryption.ChunkSize,
		Logger:            logger,
		Metrics:           metrics.New(prometheus.DefaultRegisterer, "sealpost"),
	})
	return orch.Submit, orch.Cancel, nil
}

// progressRenderer returns a progress observer for the encryption phase. The
// spinner only runs for text output on a terminal; structured output stays
// clean for machine consumption.
func progressRenderer(format config.OutputFormat) pipeline.ProgressFunc {
	if format != config.OutputFormatText || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	started := false
	return func(p pipeline.BatchProgress) {
		if !started {
			sp.Start()
			started = true
		}
		sp.Suffix = fmt.Sprintf(" encrypting: %d/%d chunks (%.0f%%)",
			p.ReceivedChunks, p.ExpectedChunks, p.PercentComplete)
		if p.ReceivedChunks >= p.ExpectedChunks {
			sp.Stop()
		}
	}
}

// submitFailure translates pipeline errors into operator-facing messages.
func submitFailure(err error) error {
	if pipeline.IsCancelled(err) {
		return errors.New("submission cancelled; no partially submitted record remains")
	}

	var subErr *pipeline.SubmissionError
	if !errors.As(err, &subErr) {
		return err
	}

	switch subErr.Stage {
	case pipeline.StageVerifyingIdentity:
		var idErr *pipeline.IdentityError
		if errors.As(err, &idErr) {
			switch idErr.Code {
			case pipeline.IdentityNoAgent:
				return errors.New("no hardware credential found: insert your token and make sure the sealpost agent is running")
			case pipeline.IdentitySerialMismatch:
				return fmt.Errorf("the inserted hardware token (serial %s) is not the one registered for your account (serial %s)", idErr.Actual, idErr.Expected)
			}
		}
		return fmt.Errorf("could not verify your hardware token: %v", subErr.Cause)
	case pipeline.StageEnsuringParent:
		return fmt.Errorf("could not create the %s record: %v", submitKind, subErr.Cause)
	case pipeline.StageEncrypting:
		return fmt.Errorf("encryption failed, nothing was submitted: %v", subErr.Cause)
	case pipeline.StageSharing:
		return fmt.Errorf("recipients could not be granted access, the submission was not completed: %v", subErr.Cause)
	case pipeline.StageUploadingPlain:
		return fmt.Errorf("file upload failed: %v", subErr.Cause)
	}
	return err
}
