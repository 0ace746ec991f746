package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealpost/sealpost-cli/config"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

func resetSubmit(t *testing.T) *bytes.Buffer {
	t.Helper()
	submitKind = "document"
	submitParent = ""
	submitLevel = "internal"
	submitFiles = nil
	submitFields = nil
	submitRecipients = nil
	submitOrgs = nil
	submitComment = ""
	submitOnlyFileObject = false

	out := &bytes.Buffer{}
	submitDeps = SubmitCommandDeps{
		Config: config.DefaultConfig(),
		Out:    out,
		ReadFileFn: func(path string) ([]byte, error) {
			return []byte("content of " + path), nil
		},
	}
	t.Cleanup(func() { submitDeps = SubmitCommandDeps{} })

	SubmitCmd.SetContext(context.Background())
	return out
}

func TestRunSubmitHappyPath(t *testing.T) {
	out := resetSubmit(t)

	submitLevel = "confidential"
	submitFiles = []string{"draft:./filing.pdf", "related_document:./annex.pdf"}
	submitFields = []string{"title=Q3 filing"}
	submitRecipients = []string{"u-17"}
	submitComment = "for review"

	var got pipeline.SubmitRequest
	submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
		got = req
		return pipeline.ParentRef{Kind: pipeline.ParentDocument, ID: "doc-42"}, nil
	}

	require.NoError(t, runSubmit(SubmitCmd, nil))

	assert.Equal(t, pipeline.ParentDocument, got.Kind)
	assert.Nil(t, got.Parent)
	assert.Equal(t, "confidential", got.LevelID)
	assert.Equal(t, map[string]string{"title": "Q3 filing"}, got.Fields)
	assert.Equal(t, []string{"u-17"}, got.Recipients.Users)
	assert.Equal(t, "for review", got.Comment)

	require.Len(t, got.Candidates, 2)
	assert.Equal(t, "filing.pdf", got.Candidates[0].Name)
	assert.Equal(t, pipeline.SlotDraft, got.Candidates[0].Slot)
	assert.Equal(t, "application/pdf", got.Candidates[0].MIMEHint)
	assert.Equal(t, pipeline.SlotRelatedDocument, got.Candidates[1].Slot)

	assert.Contains(t, out.String(), "Submission completed: document doc-42")
}

func TestRunSubmitExistingParent(t *testing.T) {
	resetSubmit(t)

	submitKind = "comment"
	submitParent = "cmt-7"
	submitFiles = []string{"comment:./note.txt"}

	var got pipeline.SubmitRequest
	submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
		got = req
		return *req.Parent, nil
	}

	require.NoError(t, runSubmit(SubmitCmd, nil))
	require.NotNil(t, got.Parent)
	assert.Equal(t, pipeline.ParentRef{Kind: pipeline.ParentComment, ID: "cmt-7"}, *got.Parent)
}

func TestRunSubmitJSONOutput(t *testing.T) {
	out := resetSubmit(t)

	submitDeps.Config.OutputFormat = config.OutputFormatJSON
	submitFiles = []string{"draft:./a.pdf"}
	submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
		return pipeline.ParentRef{Kind: pipeline.ParentDocument, ID: "doc-1"}, nil
	}

	require.NoError(t, runSubmit(SubmitCmd, nil))

	var result SubmitResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "doc-1", result.ParentID)
	assert.Equal(t, 1, result.Files)
}

func TestRunSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		prepare func()
		wantMsg string
	}{
		{
			name:    "nothing to submit",
			prepare: func() {},
			wantMsg: "nothing to submit",
		},
		{
			name:    "invalid kind",
			prepare: func() { submitKind = "folder"; submitFiles = []string{"draft:./a.pdf"} },
			wantMsg: "invalid kind",
		},
		{
			name:    "invalid file spec",
			prepare: func() { submitFiles = []string{"no-slot-separator"} },
			wantMsg: "invalid file spec",
		},
		{
			name:    "invalid slot",
			prepare: func() { submitFiles = []string{"attachments:./a.pdf"} },
			wantMsg: "invalid slot",
		},
		{
			name:    "invalid field",
			prepare: func() { submitFiles = []string{"draft:./a.pdf"}; submitFields = []string{"titleonly"} },
			wantMsg: "invalid field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetSubmit(t)
			submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
				t.Fatal("submit must not run on validation failure")
				return pipeline.ParentRef{}, nil
			}
			tt.prepare()

			err := runSubmit(SubmitCmd, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRunSubmitCancelledMessage(t *testing.T) {
	resetSubmit(t)
	submitFiles = []string{"draft:./a.pdf"}
	submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
		return pipeline.ParentRef{}, &pipeline.SubmissionError{
			Stage: pipeline.StageEncrypting,
			Cause: &pipeline.EncryptionError{Code: pipeline.EncryptionCancelled},
		}
	}

	err := runSubmit(SubmitCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.NotContains(t, err.Error(), "failed", "cancellation is not reported as a failure")
}

func TestRunSubmitSerialMismatchMessage(t *testing.T) {
	resetSubmit(t)
	submitFiles = []string{"draft:./a.pdf"}
	submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
		return pipeline.ParentRef{}, &pipeline.SubmissionError{
			Stage: pipeline.StageVerifyingIdentity,
			Cause: &pipeline.IdentityError{
				Code:     pipeline.IdentitySerialMismatch,
				Expected: "SER-001",
				Actual:   "SER-999",
			},
		}
	}

	err := runSubmit(SubmitCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SER-999")
	assert.Contains(t, err.Error(), "SER-001")
}

func TestRunSubmitShareFailureMessage(t *testing.T) {
	resetSubmit(t)
	submitFiles = []string{"draft:./a.pdf"}
	submitDeps.SubmitFn = func(ctx context.Context, req pipeline.SubmitRequest, onProgress pipeline.ProgressFunc) (pipeline.ParentRef, error) {
		return pipeline.ParentRef{}, &pipeline.SubmissionError{
			Stage: pipeline.StageSharing,
			Cause: &pipeline.ShareError{Code: pipeline.ShareBackendRejected, Cause: errors.New("quota exceeded")},
		}
	}

	err := runSubmit(SubmitCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipients could not be granted access")
}
