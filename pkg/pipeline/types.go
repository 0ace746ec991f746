// Package pipeline implements the secure attachment submission pipeline:
// security-level classification, hardware token identity verification,
// chunked encryption through the local cryptographic agent, recipient key
// sharing, plain uploads, and rollback of freshly created parent records.
package pipeline

// Slot identifies the attachment collection a file belongs to on its parent
// record. Slots are distinct collections: files in different slots are
// uploaded in separate requests.
type Slot string

const (
	// SlotDraft is the draft body attachment collection of a document.
	SlotDraft Slot = "draft"
	// SlotRelatedDocument is the related-document collection of a document.
	SlotRelatedDocument Slot = "related_document"
	// SlotComment is the attachment collection of a comment.
	SlotComment Slot = "comment"
	// SlotResult is the attachment collection of a task result.
	SlotResult Slot = "result"
)

// AllSlots lists every slot in upload routing order.
var AllSlots = []Slot{SlotDraft, SlotRelatedDocument, SlotComment, SlotResult}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotDraft, SlotRelatedDocument, SlotComment, SlotResult:
		return true
	}
	return false
}

// ParentKind identifies the kind of record that owns an attachment collection.
type ParentKind string

const (
	ParentDocument ParentKind = "document"
	ParentComment  ParentKind = "comment"
	ParentResult   ParentKind = "result"
)

// ParentRef is an opaque reference to a parent record.
type ParentRef struct {
	Kind ParentKind `json:"kind"`
	ID   string     `json:"id"`
}

// AttachmentCandidate is a raw file selected by the operator, pending
// submission. Candidates are replaced by persisted Attachments once the
// submission succeeds.
type AttachmentCandidate struct {
	// Name is the file name as selected.
	Name string

	// DisplayName is the name shown in the parent record, if different.
	DisplayName string

	// MIMEHint is the content type reported at selection time.
	MIMEHint string

	// Slot is the attachment collection this file belongs to.
	Slot Slot

	// Data is the raw file content.
	Data []byte

	// Encrypt marks the candidate as requiring encryption. Set by
	// classification; flipped in place when the operator changes the
	// security level.
	Encrypt bool
}

// Size returns the candidate's byte size.
func (c *AttachmentCandidate) Size() int64 {
	return int64(len(c.Data))
}

// SecurityLevel is an entry in the organization-wide security level catalog.
// The catalog is immutable reference data loaded once per session.
type SecurityLevel struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Rank orders levels from least to most sensitive. Classification
	// compares ranks, not ids, so levels inserted between existing ones
	// classify correctly without a catalog migration.
	Rank int `json:"rank"`

	// RequiresEncryption marks levels whose attachments must be encrypted.
	RequiresEncryption bool `json:"requires_encryption"`
}

// Catalog is the ordered security level catalog.
type Catalog []SecurityLevel

// ByID returns the level with the given id.
func (c Catalog) ByID(id string) (SecurityLevel, bool) {
	for _, lvl := range c {
		if lvl.ID == id {
			return lvl, true
		}
	}
	return SecurityLevel{}, false
}

// EncryptionThreshold returns the lowest rank at which encryption is
// mandated. The second return is false when no level requires encryption.
func (c Catalog) EncryptionThreshold() (int, bool) {
	threshold := 0
	found := false
	for _, lvl := range c {
		if !lvl.RequiresEncryption {
			continue
		}
		if !found || lvl.Rank < threshold {
			threshold = lvl.Rank
			found = true
		}
	}
	return threshold, found
}

// WithThresholdOverride returns a copy of the catalog in which the named
// level and every level ranked above it require encryption. Unknown ids
// leave the catalog unchanged. Used when local configuration pins the
// threshold instead of trusting the backend's per-level flags.
func (c Catalog) WithThresholdOverride(levelID string) Catalog {
	pin, ok := c.ByID(levelID)
	if !ok {
		return c
	}
	out := make(Catalog, len(c))
	copy(out, c)
	for i := range out {
		if out[i].Rank >= pin.Rank {
			out[i].RequiresEncryption = true
		}
	}
	return out
}

// RecipientSet lists the users and organizations granted decryption
// capability for a submission. Immutable once sharing begins.
type RecipientSet struct {
	Users         []string `json:"users,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
}

// Empty reports whether the set grants access to nobody.
func (r RecipientSet) Empty() bool {
	return len(r.Users) == 0 && len(r.Organizations) == 0
}

// Attachment is a persisted attachment record returned by the backend.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Encrypt     bool   `json:"encrypt"`
	ParentID    string `json:"parent_id,omitempty"`
	Slot        Slot   `json:"slot"`
}
