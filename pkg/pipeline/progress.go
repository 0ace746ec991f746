package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of one file's encryption task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskConnecting TaskState = "connecting"
	TaskEncrypting TaskState = "encrypting"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskCancelled  TaskState = "cancelled"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// EncryptionTask tracks one file's journey through the encryption engine.
// Tasks exist only for the lifetime of their batch.
type EncryptionTask struct {
	FileName        string
	Slot            Slot
	TotalChunks     int
	CompletedChunks int
	State           TaskState

	// LastError holds the agent's message when State is TaskFailed.
	LastError string

	// ObjectID is the stored ciphertext object id, set on completion.
	ObjectID string
}

// BatchProgress is the aggregate progress over all tasks of one batch. It is
// the only state exposed outside the pipeline while encryption is in flight.
type BatchProgress struct {
	ExpectedChunks  int
	ReceivedChunks  int
	PercentComplete float64
}

// ProgressFunc receives progress pushes for one batch. The observer is scoped
// to a single EncryptBatch call; there is no process-wide progress state.
type ProgressFunc func(BatchProgress)

// batch aggregates the encryption tasks of one submission.
type batch struct {
	mu sync.Mutex

	id         string
	tasks      []*EncryptionTask
	expected   int
	received   int
	onProgress ProgressFunc
}

// newBatch builds one task per candidate. chunkSize must be positive. Empty
// files still count one chunk so the agent stores a ciphertext object for them.
func newBatch(files []*AttachmentCandidate, chunkSize int64, onProgress ProgressFunc) *batch {
	b := &batch{
		id:         uuid.NewString(),
		onProgress: onProgress,
	}
	for _, f := range files {
		n := int((f.Size() + chunkSize - 1) / chunkSize)
		if n == 0 {
			n = 1
		}
		b.tasks = append(b.tasks, &EncryptionTask{
			FileName:    f.Name,
			Slot:        f.Slot,
			TotalChunks: n,
			State:       TaskPending,
		})
		b.expected += n
	}
	return b
}

// snapshotLocked computes the aggregate view. Callers must hold b.mu.
func (b *batch) snapshotLocked() BatchProgress {
	p := BatchProgress{
		ExpectedChunks: b.expected,
		ReceivedChunks: b.received,
	}
	if b.expected > 0 {
		p.PercentComplete = float64(b.received) / float64(b.expected) * 100
	}
	return p
}

// notify pushes the current aggregate to the observer.
func (b *batch) notify() {
	b.mu.Lock()
	snap := b.snapshotLocked()
	cb := b.onProgress
	b.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// setAll moves every non-terminal task to the given state.
func (b *batch) setAll(state TaskState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		if !t.State.Terminal() {
			t.State = state
		}
	}
}

// recordChunk counts one acknowledged chunk and pushes progress.
// ReceivedChunks never exceeds ExpectedChunks.
func (b *batch) recordChunk(t *EncryptionTask) {
	b.mu.Lock()
	if t.CompletedChunks < t.TotalChunks {
		t.CompletedChunks++
	}
	if b.received < b.expected {
		b.received++
	}
	snap := b.snapshotLocked()
	cb := b.onProgress
	b.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// complete marks a task done and records its ciphertext object id.
func (b *batch) complete(t *EncryptionTask, objectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.State = TaskCompleted
	t.ObjectID = objectID
}

// fail marks a task failed with the agent's message.
func (b *batch) fail(t *EncryptionTask, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.State = TaskFailed
	if err != nil {
		t.LastError = err.Error()
	}
}

// cancelRemaining moves every non-terminal task to TaskCancelled so the batch
// leaves no task in a non-terminal state.
func (b *batch) cancelRemaining() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		if !t.State.Terminal() {
			t.State = TaskCancelled
		}
	}
}

// BatchResult reports the outcome of one encryption batch.
type BatchResult struct {
	// BatchID identifies the batch in logs.
	BatchID string

	// Attachments are the stored ciphertext objects for completed files.
	Attachments []Attachment

	// Tasks exposes the final state of every task for reporting.
	Tasks []*EncryptionTask
}
