package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealpost/sealpost-cli/pkg/logging"
)

func TestShareCoordinatorShare(t *testing.T) {
	parent := ParentRef{Kind: ParentDocument, ID: "doc-1"}
	encrypted := []Attachment{
		{ID: "obj-1", Name: "a.pdf", Encrypt: true, Slot: SlotDraft},
		{ID: "obj-2", Name: "b.pdf", Encrypt: true, Slot: SlotDraft},
	}
	recipients := RecipientSet{Users: []string{"u-1"}, Organizations: []string{"org-1"}}

	t.Run("single request for the whole submission", func(t *testing.T) {
		b := newFakeBackend()
		c := NewShareCoordinator(b, logging.NewNop())

		err := c.Share(context.Background(), parent, encrypted, "quarterly filing", recipients, false)
		require.NoError(t, err)

		require.Len(t, b.shares, 1)
		req := b.shares[0]
		assert.Equal(t, parent, req.Parent)
		assert.Len(t, req.Attachments, 2)
		assert.Equal(t, "quarterly filing", req.Comment)
		assert.Equal(t, recipients, req.Recipients)
		assert.False(t, req.OnlyFileObject)
	})

	t.Run("only-file-object omits the comment", func(t *testing.T) {
		b := newFakeBackend()
		c := NewShareCoordinator(b, logging.NewNop())

		err := c.Share(context.Background(), parent, encrypted, "should not persist", recipients, true)
		require.NoError(t, err)

		require.Len(t, b.shares, 1)
		assert.Empty(t, b.shares[0].Comment)
		assert.True(t, b.shares[0].OnlyFileObject)
	})

	t.Run("nothing encrypted means no request", func(t *testing.T) {
		b := newFakeBackend()
		c := NewShareCoordinator(b, logging.NewNop())

		err := c.Share(context.Background(), parent, nil, "comment", recipients, false)
		require.NoError(t, err)
		assert.Empty(t, b.shares)
	})

	t.Run("backend rejection fails the submission", func(t *testing.T) {
		b := newFakeBackend()
		b.shareErr = assert.AnError
		c := NewShareCoordinator(b, logging.NewNop())

		err := c.Share(context.Background(), parent, encrypted, "comment", recipients, false)

		var shareErr *ShareError
		require.ErrorAs(t, err, &shareErr)
		assert.Equal(t, ShareBackendRejected, shareErr.Code)
		assert.ErrorIs(t, err, assert.AnError)
	})
}
