package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sealpost/sealpost-cli/agent"
)

// testCatalog is the security level catalog used across the pipeline tests.
// Encryption is mandated from rank 3 upward.
var testCatalog = Catalog{
	{ID: "public", Name: "Public", Rank: 1},
	{ID: "internal", Name: "Internal", Rank: 2},
	{ID: "confidential", Name: "Confidential", Rank: 3, RequiresEncryption: true},
	{ID: "secret", Name: "Secret", Rank: 4, RequiresEncryption: true},
}

// fakeAgent is an in-memory agent.Client. It enforces the same ordering
// contract as the real agent: chunks of a file must arrive strictly in
// sequence, and only one session may be held at a time.
type fakeAgent struct {
	mu sync.Mutex

	descriptor      []byte
	descriptorErr   error
	descriptorGate  chan struct{}
	descriptorCalls int

	probeErr   error
	connectErr error

	active      bool
	sessions    int
	disconnects []string

	// rejectSeq maps a file name to the chunk index the agent rejects.
	rejectSeq map[string]int
	lastSeq   map[string]int
	chunks    []agent.ChunkRequest
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		rejectSeq: make(map[string]int),
		lastSeq:   make(map[string]int),
	}
}

func (a *fakeAgent) Descriptor(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	a.descriptorCalls++
	gate := a.descriptorGate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.descriptor, a.descriptorErr
}

func (a *fakeAgent) Probe(ctx context.Context) error {
	return a.probeErr
}

func (a *fakeAgent) Connect(ctx context.Context) (string, error) {
	if a.connectErr != nil {
		return "", a.connectErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return "", agent.ErrSessionActive
	}
	a.active = true
	a.sessions++
	return fmt.Sprintf("sess-%d", a.sessions), nil
}

func (a *fakeAgent) EncryptChunk(ctx context.Context, sessionID string, req agent.ChunkRequest) (*agent.ChunkAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return nil, agent.ErrNoSession
	}
	if seq, ok := a.rejectSeq[req.FileName]; ok && req.Seq == seq {
		return nil, errors.New("chunk integrity check failed")
	}

	last, seen := a.lastSeq[req.FileName]
	if !seen {
		last = -1
	}
	if req.Seq != last+1 {
		return nil, fmt.Errorf("out-of-order chunk %d for %q, want %d", req.Seq, req.FileName, last+1)
	}
	a.lastSeq[req.FileName] = req.Seq
	a.chunks = append(a.chunks, req)

	ack := &agent.ChunkAck{Seq: req.Seq, Received: req.Seq + 1}
	if req.Seq == req.Total-1 {
		ack.ObjectID = "obj-" + req.FileName
	}
	return ack, nil
}

func (a *fakeAgent) Disconnect(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnects = append(a.disconnects, sessionID)
	a.active = false
	return nil
}

type uploadCall struct {
	parent ParentRef
	slot   Slot
	names  []string
}

// fakeBackend is an in-memory Backend recording every call.
type fakeBackend struct {
	mu sync.Mutex

	createErr error
	createdID string
	creates   []ParentKind

	deleteErr    error
	deletes      []ParentRef
	deleteCtxErr error

	uploadErr  error
	uploadHook func()
	uploads    []uploadCall

	shareErr  error
	shareHook func()
	shares    []ShareRequest

	saveErr error
	saves   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{createdID: "parent-1"}
}

func (b *fakeBackend) CreateParent(ctx context.Context, kind ParentKind, fields map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.creates = append(b.creates, kind)
	return b.createdID, nil
}

func (b *fakeBackend) DeleteParent(ctx context.Context, kind ParentKind, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteCtxErr = ctx.Err()
	b.deletes = append(b.deletes, ParentRef{Kind: kind, ID: id})
	return b.deleteErr
}

func (b *fakeBackend) UploadPlainFiles(ctx context.Context, parent ParentRef, slot Slot, files []*AttachmentCandidate) ([]Attachment, error) {
	if b.uploadHook != nil {
		b.uploadHook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	call := uploadCall{parent: parent, slot: slot}
	var out []Attachment
	for i, f := range files {
		call.names = append(call.names, f.Name)
		out = append(out, Attachment{
			ID:       fmt.Sprintf("att-%s-%d", slot, i),
			Name:     f.Name,
			ParentID: parent.ID,
			Slot:     slot,
		})
	}
	b.uploads = append(b.uploads, call)
	return out, nil
}

func (b *fakeBackend) SharePermission(ctx context.Context, req ShareRequest) error {
	if b.shareHook != nil {
		b.shareHook()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shareErr != nil {
		return b.shareErr
	}
	b.shares = append(b.shares, req)
	return nil
}

func (b *fakeBackend) SaveNonEncrypted(ctx context.Context, parent ParentRef, comment string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves = append(b.saves, comment)
	return nil
}

func candidate(name string, slot Slot, size int) *AttachmentCandidate {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &AttachmentCandidate{Name: name, Slot: slot, Data: data}
}
