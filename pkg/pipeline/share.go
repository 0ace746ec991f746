package pipeline

import (
	"context"

	"github.com/sealpost/sealpost-cli/pkg/logging"
)

// ShareRequest is the single backend request that registers encrypted
// attachments and grants decryption capability to the recipients.
type ShareRequest struct {
	Parent      ParentRef    `json:"parent"`
	Attachments []Attachment `json:"attachments"`

	// Comment is the accompanying text persisted together with the grants.
	// Ignored when OnlyFileObject is set.
	Comment string `json:"comment,omitempty"`

	Recipients RecipientSet `json:"recipients"`

	// OnlyFileObject shares only the file objects, without persisting the
	// comment body. Used when attaching to an existing comment or result.
	OnlyFileObject bool `json:"only_file_object"`
}

// ShareCoordinator distributes decryption capability for newly stored
// ciphertext objects.
type ShareCoordinator struct {
	backend Backend
	logger  logging.Logger
}

// NewShareCoordinator creates a coordinator over the given backend.
func NewShareCoordinator(backend Backend, logger logging.Logger) *ShareCoordinator {
	return &ShareCoordinator{
		backend: backend,
		logger:  logger.With(logging.F("component", "share_coordinator")),
	}
}

// Share issues exactly one backend request for the whole submission. If the
// request fails, none of the encrypted files are considered shared:
// ciphertext without a recipient grant is unusable, so the caller must treat
// the submission as failed.
func (c *ShareCoordinator) Share(ctx context.Context, parent ParentRef, encrypted []Attachment, comment string, recipients RecipientSet, onlyFileObject bool) error {
	if len(encrypted) == 0 {
		return nil
	}

	req := ShareRequest{
		Parent:         parent,
		Attachments:    encrypted,
		Recipients:     recipients,
		OnlyFileObject: onlyFileObject,
	}
	if !onlyFileObject {
		req.Comment = comment
	}

	if err := c.backend.SharePermission(ctx, req); err != nil {
		return &ShareError{Code: ShareBackendRejected, Cause: err}
	}

	c.logger.Info("decryption capability granted",
		logging.F("parent_id", parent.ID),
		logging.F("attachments", len(encrypted)),
		logging.F("users", len(recipients.Users)),
		logging.F("organizations", len(recipients.Organizations)))
	return nil
}
