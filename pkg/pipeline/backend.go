package pipeline

import "context"

// Backend is the surface the pipeline requires of the Registra backend.
// The REST client in the client package implements it.
type Backend interface {
	// CreateParent creates a parent record of the given kind and returns its id.
	CreateParent(ctx context.Context, kind ParentKind, fields map[string]string) (string, error)

	// DeleteParent deletes a parent record. Used only for rollback of records
	// created within the same submission.
	DeleteParent(ctx context.Context, kind ParentKind, id string) error

	// UploadPlainFiles uploads unencrypted files into one attachment slot of
	// the parent via a multipart request. One call per slot.
	UploadPlainFiles(ctx context.Context, parent ParentRef, slot Slot, files []*AttachmentCandidate) ([]Attachment, error)

	// SharePermission registers the encrypted attachments and grants
	// decryption capability to the recipients in a single request.
	SharePermission(ctx context.Context, req ShareRequest) error

	// SaveNonEncrypted persists an accompanying comment body when no
	// encrypted attachments are involved.
	SaveNonEncrypted(ctx context.Context, parent ParentRef, comment string) error
}
