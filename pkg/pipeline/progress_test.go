package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchChunkAccounting(t *testing.T) {
	files := []*AttachmentCandidate{
		candidate("exact.bin", SlotDraft, 8),   // 2 chunks of 4
		candidate("ragged.bin", SlotDraft, 10), // 3 chunks
		candidate("empty.bin", SlotDraft, 0),   // still 1 chunk
	}

	b := newBatch(files, 4, nil)

	require.Len(t, b.tasks, 3)
	assert.Equal(t, 2, b.tasks[0].TotalChunks)
	assert.Equal(t, 3, b.tasks[1].TotalChunks)
	assert.Equal(t, 1, b.tasks[2].TotalChunks)
	assert.Equal(t, 6, b.expected)
	assert.NotEmpty(t, b.id)
	for _, task := range b.tasks {
		assert.Equal(t, TaskPending, task.State)
	}
}

func TestBatchProgressSequence(t *testing.T) {
	var snaps []BatchProgress
	files := []*AttachmentCandidate{candidate("a.bin", SlotDraft, 8)}
	b := newBatch(files, 4, func(p BatchProgress) { snaps = append(snaps, p) })

	b.notify()
	b.recordChunk(b.tasks[0])
	b.recordChunk(b.tasks[0])

	require.Len(t, snaps, 3)
	assert.Equal(t, BatchProgress{ExpectedChunks: 2}, snaps[0])
	assert.Equal(t, 1, snaps[1].ReceivedChunks)
	assert.Equal(t, float64(50), snaps[1].PercentComplete)
	assert.Equal(t, float64(100), snaps[2].PercentComplete)
}

func TestBatchRecordChunkNeverExceedsExpected(t *testing.T) {
	files := []*AttachmentCandidate{candidate("a.bin", SlotDraft, 4)}
	b := newBatch(files, 4, nil)

	b.recordChunk(b.tasks[0])
	b.recordChunk(b.tasks[0]) // duplicate ack

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.received)
	assert.Equal(t, 1, b.tasks[0].CompletedChunks)
}

func TestBatchCancelRemainingPreservesTerminalStates(t *testing.T) {
	files := []*AttachmentCandidate{
		candidate("done.bin", SlotDraft, 4),
		candidate("failed.bin", SlotDraft, 4),
		candidate("pending.bin", SlotDraft, 4),
	}
	b := newBatch(files, 4, nil)

	b.complete(b.tasks[0], "obj-1")
	b.fail(b.tasks[1], errors.New("rejected"))
	b.cancelRemaining()

	assert.Equal(t, TaskCompleted, b.tasks[0].State)
	assert.Equal(t, TaskFailed, b.tasks[1].State)
	assert.Equal(t, "rejected", b.tasks[1].LastError)
	assert.Equal(t, TaskCancelled, b.tasks[2].State)

	for _, task := range b.tasks {
		assert.True(t, task.State.Terminal())
	}
}
