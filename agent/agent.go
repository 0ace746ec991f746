// Package agent provides the client for the local cryptographic agent.
//
// The agent is a hardware-token-backed process on the operator's machine that
// performs chunked encryption. It exposes a small JSON-over-HTTP API on a
// loopback address: credential descriptor retrieval, a connectivity probe,
// session management, and sequential chunk encryption.
package agent

import (
	"context"
	"errors"
)

// Common agent errors.
var (
	// ErrUnreachable indicates the agent process could not be reached.
	ErrUnreachable = errors.New("cryptographic agent unreachable")

	// ErrSessionActive indicates a session is already held by this client.
	// The agent connection is a shared resource scoped to one submission;
	// concurrent submissions are rejected deterministically.
	ErrSessionActive = errors.New("agent session already active")

	// ErrNoSession indicates no session is currently held.
	ErrNoSession = errors.New("no active agent session")
)

// ChunkRequest carries one file chunk to the agent. Chunks for a file must be
// submitted strictly in order; the agent reconstructs ciphertext by
// sequential append.
type ChunkRequest struct {
	// FileName identifies the file this chunk belongs to within the session.
	FileName string `json:"file_name"`

	// Seq is the zero-based chunk index within the file.
	Seq int `json:"seq"`

	// Total is the total number of chunks for the file.
	Total int `json:"total"`

	// Data is the raw chunk bytes (base64-encoded on the wire).
	Data []byte `json:"data"`
}

// ChunkAck is the agent's acknowledgment for one encrypted chunk.
type ChunkAck struct {
	// Seq echoes the acknowledged chunk index.
	Seq int `json:"seq"`

	// Received is the number of chunks the agent has accepted for this file.
	Received int `json:"received"`

	// ObjectID is the identifier of the stored ciphertext object. The agent
	// sets it on the acknowledgment of a file's final chunk.
	ObjectID string `json:"object_id,omitempty"`
}

// Client is the interface to the local cryptographic agent.
type Client interface {
	// Descriptor returns the transport-encoded credential descriptor payload.
	// The payload must be base64-decoded and JSON-parsed by the caller.
	// An empty payload means the agent holds no credential.
	Descriptor(ctx context.Context) ([]byte, error)

	// Probe checks agent connectivity without opening a session.
	Probe(ctx context.Context) error

	// Connect opens an encryption session and returns its id. At most one
	// session may be held at a time; a second call fails with ErrSessionActive.
	Connect(ctx context.Context) (string, error)

	// EncryptChunk submits one chunk for encryption and waits for its
	// acknowledgment. The next chunk of a file must not be submitted until
	// the previous chunk's acknowledgment has been received.
	EncryptChunk(ctx context.Context, sessionID string, req ChunkRequest) (*ChunkAck, error)

	// Disconnect terminates the session and releases the held session token.
	// It is safe to call with an already-released session.
	Disconnect(sessionID string) error
}
