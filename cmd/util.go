// Package cmd provides CLI commands for the sealpost tool.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sealpost/sealpost-cli/client"
	"github.com/sealpost/sealpost-cli/config"
	"github.com/sealpost/sealpost-cli/credentials"
	"github.com/sealpost/sealpost-cli/pkg/logging"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

// cliConfig is the loaded configuration, set by the root command before any
// subcommand runs.
var cliConfig *config.CLIConfig

// SetConfig installs the loaded configuration for all commands.
func SetConfig(cfg *config.CLIConfig) {
	cliConfig = cfg
}

// effectiveConfig returns the active configuration, falling back to defaults
// when the root command has not installed one (direct command tests).
func effectiveConfig() *config.CLIConfig {
	if cliConfig != nil {
		return cliConfig
	}
	return config.DefaultConfig()
}

// newLogger builds the command logger from the active configuration.
func newLogger(cfg *config.CLIConfig) logging.Logger {
	logCfg := logging.DefaultConfig()
	if cfg.Debug {
		logCfg.Level = logging.LevelDebug
	} else {
		// Interactive commands render their own output; keep the logger quiet.
		logCfg.Level = logging.LevelWarn
	}
	return logging.NewLogger(logCfg)
}

// newBackendClient builds an authenticated Registra client from the stored
// credentials.
func newBackendClient(cfg *config.CLIConfig, logger logging.Logger) (*client.Client, *credentials.Credentials, error) {
	store, err := credentials.NewStore()
	if err != nil {
		return nil, nil, fmt.Errorf("initializing credential store: %w", err)
	}

	creds, err := store.GetActiveCredential()
	if err != nil {
		return nil, nil, fmt.Errorf("no active session (run 'sealpost auth login'): %w", err)
	}

	return client.New(cfg.BackendAddress, creds.Token, cfg.Timeout, logger), creds, nil
}

// writeOutput renders v in the configured output format. The text form comes
// from textFn so structured encodings stay lossless.
func writeOutput(w io.Writer, format config.OutputFormat, v any, textFn func() string) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		return yaml.NewEncoder(w).Encode(v)
	default:
		_, err := fmt.Fprintln(w, textFn())
		return err
	}
}

// parseParentKind validates a --kind flag value.
func parseParentKind(s string) (pipeline.ParentKind, error) {
	switch pipeline.ParentKind(s) {
	case pipeline.ParentDocument, pipeline.ParentComment, pipeline.ParentResult:
		return pipeline.ParentKind(s), nil
	}
	return "", fmt.Errorf("invalid kind %q (expected document, comment or result)", s)
}

// parseFields converts repeated key=value flags into parent record fields.
func parseFields(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q (expected key=value)", p)
		}
		fields[key] = value
	}
	return fields, nil
}

// parseFileSpec parses one --file flag value of the form "slot:path".
func parseFileSpec(spec string, readFile func(string) ([]byte, error)) (*pipeline.AttachmentCandidate, error) {
	slotName, path, ok := strings.Cut(spec, ":")
	if !ok || path == "" {
		return nil, fmt.Errorf("invalid file spec %q (expected slot:path)", spec)
	}

	slot := pipeline.Slot(slotName)
	if !slot.Valid() {
		return nil, fmt.Errorf("invalid slot %q in %q (expected draft, related_document, comment or result)", slotName, spec)
	}

	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &pipeline.AttachmentCandidate{
		Name:     filepath.Base(path),
		MIMEHint: mime.TypeByExtension(filepath.Ext(path)),
		Slot:     slot,
		Data:     data,
	}, nil
}

// collectCandidates parses all --file flags.
func collectCandidates(specs []string, readFile func(string) ([]byte, error)) ([]*pipeline.AttachmentCandidate, error) {
	if readFile == nil {
		readFile = os.ReadFile
	}
	var out []*pipeline.AttachmentCandidate
	for _, spec := range specs {
		c, err := parseFileSpec(spec, readFile)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
