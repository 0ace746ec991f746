package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealpost/sealpost-cli/pkg/logging"
)

func TestRollbackIfOwned(t *testing.T) {
	parent := ParentRef{Kind: ParentDocument, ID: "doc-1"}

	t.Run("freshly created parent is deleted", func(t *testing.T) {
		b := newFakeBackend()
		r := NewRollbackController(b, logging.NewNop())

		r.RollbackIfOwned(context.Background(), parent, true)

		require.Len(t, b.deletes, 1)
		assert.Equal(t, parent, b.deletes[0])
	})

	t.Run("pre-existing parent is never deleted", func(t *testing.T) {
		b := newFakeBackend()
		r := NewRollbackController(b, logging.NewNop())

		r.RollbackIfOwned(context.Background(), parent, false)

		assert.Empty(t, b.deletes)
	})

	t.Run("delete failure is swallowed", func(t *testing.T) {
		b := newFakeBackend()
		b.deleteErr = assert.AnError
		r := NewRollbackController(b, logging.NewNop())

		// Must not panic or propagate; the original failure owns the exit path.
		r.RollbackIfOwned(context.Background(), parent, true)

		assert.Len(t, b.deletes, 1)
	})

	t.Run("delete survives a cancelled submission context", func(t *testing.T) {
		b := newFakeBackend()
		r := NewRollbackController(b, logging.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r.RollbackIfOwned(ctx, parent, true)

		require.Len(t, b.deletes, 1)
		assert.NoError(t, b.deleteCtxErr, "delete request must not inherit the cancellation")
	})
}
