package pipeline

import (
	"errors"
	"fmt"
)

// Stage names the steps of the submission state machine.
type Stage string

const (
	StageClassifying       Stage = "classifying"
	StageVerifyingIdentity Stage = "verifying_identity"
	StageEnsuringParent    Stage = "ensuring_parent"
	StageEncrypting        Stage = "encrypting"
	StageSharing           Stage = "sharing"
	StageUploadingPlain    Stage = "uploading_plain"
)

// ErrBatchInProgress is returned when a second submission attempts to start
// an encryption batch while one is still active.
var ErrBatchInProgress = errors.New("an encryption batch is already in progress")

// Sentinel causes for submission-level failures outside the component
// taxonomies.
var (
	// ErrParentCreationFailed indicates the parent record could not be created.
	ErrParentCreationFailed = errors.New("parent record creation failed")

	// ErrPlainUploadFailed indicates a plain multipart upload was rejected.
	ErrPlainUploadFailed = errors.New("plain file upload failed")

	// ErrSubmissionCancelled marks a submission aborted by the operator at a
	// suspension point outside the encryption stage (identity round trip,
	// sharing, plain uploads).
	ErrSubmissionCancelled = errors.New("submission cancelled by user")
)

// IdentityCode classifies token identity verification failures.
type IdentityCode string

const (
	// IdentityNoAgent means the transport returned an empty descriptor:
	// the agent is not installed or holds no credential.
	IdentityNoAgent IdentityCode = "no_agent"

	// IdentityAgentUnreachable means the agent could not be reached or
	// returned an unusable descriptor.
	IdentityAgentUnreachable IdentityCode = "agent_unreachable"

	// IdentitySerialMismatch means the token's serial differs from the one
	// registered for the operator.
	IdentitySerialMismatch IdentityCode = "serial_mismatch"
)

// IdentityError reports a hardware token identity verification failure.
// All identity failures are terminal for the current submission.
type IdentityError struct {
	Code IdentityCode

	// Expected and Actual carry the compared serials for mismatch reports.
	Expected string
	Actual   string

	Cause error
}

func (e *IdentityError) Error() string {
	switch e.Code {
	case IdentityNoAgent:
		return "identity verification failed: no hardware credential present"
	case IdentitySerialMismatch:
		return fmt.Sprintf("identity verification failed: token serial %q does not match registered serial %q", e.Actual, e.Expected)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("identity verification failed: %v", e.Cause)
		}
		return "identity verification failed: agent unreachable"
	}
}

func (e *IdentityError) Unwrap() error { return e.Cause }

// EncryptionCode classifies chunked encryption failures.
type EncryptionCode string

const (
	// EncryptionAgentUnreachable means the connectivity probe or session
	// setup failed; no chunks were sent.
	EncryptionAgentUnreachable EncryptionCode = "agent_unreachable"

	// EncryptionChunkRejected means the agent reported an error for a chunk.
	EncryptionChunkRejected EncryptionCode = "chunk_rejected"

	// EncryptionCancelled means the batch was cancelled via ForceDisconnect.
	EncryptionCancelled EncryptionCode = "cancelled"
)

// EncryptionError reports a chunked encryption batch failure.
type EncryptionError struct {
	Code EncryptionCode

	// FileName identifies the file whose chunk failed, when applicable.
	FileName string

	Cause error
}

func (e *EncryptionError) Error() string {
	switch e.Code {
	case EncryptionCancelled:
		return "encryption cancelled by user"
	case EncryptionChunkRejected:
		return fmt.Sprintf("encryption failed for %q: %v", e.FileName, e.Cause)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("encryption failed: %v", e.Cause)
		}
		return "encryption failed: agent unreachable"
	}
}

func (e *EncryptionError) Unwrap() error { return e.Cause }

// ShareCode classifies recipient key-sharing failures.
type ShareCode string

// ShareBackendRejected means the backend refused the share request. None of
// the encrypted files are considered shared.
const ShareBackendRejected ShareCode = "backend_rejected"

// ShareError reports a recipient key-sharing failure.
type ShareError struct {
	Code  ShareCode
	Cause error
}

func (e *ShareError) Error() string {
	return fmt.Sprintf("recipient key sharing failed: %v", e.Cause)
}

func (e *ShareError) Unwrap() error { return e.Cause }

// SubmissionError wraps a component failure with the stage at which the
// submission terminated. It is the only error type Submit returns.
type SubmissionError struct {
	Stage Stage
	Cause error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed at %s: %v", e.Stage, e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// IsCancelled reports whether err represents a user cancellation rather than
// a failure. Cancellation is surfaced to the operator distinctly.
func IsCancelled(err error) bool {
	var ee *EncryptionError
	if errors.As(err, &ee) && ee.Code == EncryptionCancelled {
		return true
	}
	return errors.Is(err, ErrSubmissionCancelled)
}
