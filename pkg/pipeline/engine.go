package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/sealpost/sealpost-cli/agent"
	"github.com/sealpost/sealpost-cli/pkg/logging"
)

// Engine drives chunked client-side encryption through the local
// cryptographic agent.
//
// Chunks of a file are submitted strictly in order with one chunk in flight:
// the agent reconstructs ciphertext by sequential append, so chunk i+1 is
// only sent after chunk i's acknowledgment. Files are processed sequentially
// to keep progress accounting deterministic. The engine holds at most one
// active batch; a second submission is rejected with ErrBatchInProgress.
type Engine struct {
	agent     agent.Client
	chunkSize int64
	logger    logging.Logger

	mu          sync.Mutex
	active      bool
	cancelBatch context.CancelFunc
}

// NewEngine creates an engine over the given agent client. chunkSize must be
// positive.
func NewEngine(agentClient agent.Client, chunkSize int64, logger logging.Logger) *Engine {
	return &Engine{
		agent:     agentClient,
		chunkSize: chunkSize,
		logger:    logger.With(logging.F("component", "encryption_engine")),
	}
}

// EncryptBatch encrypts the given files through the agent, pushing aggregate
// progress to onProgress after every acknowledged chunk. The observer is
// scoped to this call.
//
// The agent connection is acquired before the first chunk and released on
// every exit path, including error and cancellation paths. On failure the
// returned BatchResult still carries the final task states.
func (e *Engine) EncryptBatch(ctx context.Context, files []*AttachmentCandidate, onProgress ProgressFunc) (*BatchResult, error) {
	if len(files) == 0 {
		return &BatchResult{}, nil
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, ErrBatchInProgress
	}
	e.active = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active = false
		e.cancelBatch = nil
		e.mu.Unlock()
	}()

	// Connectivity probe before any task exists: an unreachable agent fails
	// the batch without creating tasks.
	if err := e.agent.Probe(ctx); err != nil {
		return nil, &EncryptionError{Code: EncryptionAgentUnreachable, Cause: err}
	}

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancelBatch = cancel
	e.mu.Unlock()

	b := newBatch(files, e.chunkSize, onProgress)
	result := &BatchResult{BatchID: b.id, Tasks: b.tasks}
	log := e.logger.With(logging.F("batch_id", b.id))

	b.setAll(TaskConnecting)
	session, err := e.agent.Connect(bctx)
	if err != nil {
		b.cancelRemaining()
		if errors.Is(err, agent.ErrSessionActive) {
			return result, ErrBatchInProgress
		}
		if bctx.Err() != nil {
			return result, &EncryptionError{Code: EncryptionCancelled, Cause: err}
		}
		return result, &EncryptionError{Code: EncryptionAgentUnreachable, Cause: err}
	}

	defer func() {
		if err := e.agent.Disconnect(session); err != nil {
			log.Warn("agent session close failed", logging.Err(err))
		}
	}()

	log.Info("encryption batch started",
		logging.F("files", len(files)),
		logging.F("expected_chunks", b.expected))

	// Initial push so the progress surface shows (expected, 0) before the
	// first acknowledgment arrives.
	b.notify()

	for i, file := range files {
		task := b.tasks[i]

		b.mu.Lock()
		task.State = TaskEncrypting
		b.mu.Unlock()

		objectID, err := e.encryptFile(bctx, session, file, task, b)
		if err != nil {
			if bctx.Err() != nil {
				b.cancelRemaining()
				log.Info("encryption batch cancelled", logging.F("file", file.Name))
				return result, &EncryptionError{Code: EncryptionCancelled, Cause: bctx.Err()}
			}

			b.fail(task, err)
			b.cancelRemaining()
			log.Error("encryption batch failed",
				logging.F("file", file.Name),
				logging.Err(err))

			code := EncryptionChunkRejected
			if errors.Is(err, agent.ErrUnreachable) {
				code = EncryptionAgentUnreachable
			}
			return result, &EncryptionError{Code: code, FileName: file.Name, Cause: err}
		}

		b.complete(task, objectID)
		result.Attachments = append(result.Attachments, Attachment{
			ID:          objectID,
			Name:        file.Name,
			DisplayName: file.DisplayName,
			Encrypt:     true,
			Slot:        file.Slot,
		})
	}

	log.Info("encryption batch completed", logging.F("files", len(result.Attachments)))
	return result, nil
}

// encryptFile submits one file's chunks in strict order and returns the
// stored ciphertext object id from the final acknowledgment.
func (e *Engine) encryptFile(ctx context.Context, session string, file *AttachmentCandidate, task *EncryptionTask, b *batch) (string, error) {
	var objectID string

	for seq := 0; seq < task.TotalChunks; seq++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		ack, err := e.agent.EncryptChunk(ctx, session, agent.ChunkRequest{
			FileName: file.Name,
			Seq:      seq,
			Total:    task.TotalChunks,
			Data:     chunkOf(file.Data, seq, e.chunkSize),
		})
		if err != nil {
			return "", err
		}

		b.recordChunk(task)
		if ack.ObjectID != "" {
			objectID = ack.ObjectID
		}
	}

	return objectID, nil
}

// ForceDisconnect cancels the active batch, if any. The cancellation aborts
// the in-flight chunk request; EncryptBatch moves remaining tasks to
// TaskCancelled, releases the agent session exactly once on its way out and
// returns an EncryptionCancelled error.
func (e *Engine) ForceDisconnect() {
	e.mu.Lock()
	cancel := e.cancelBatch
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// chunkOf returns the seq-th chunk of data for the given chunk size.
func chunkOf(data []byte, seq int, chunkSize int64) []byte {
	start := int64(seq) * chunkSize
	if start >= int64(len(data)) {
		return nil
	}
	end := start + chunkSize
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[start:end]
}
