package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealpost/sealpost-cli/pkg/logging"
)

// fakeAgent is a minimal in-process stand-in for the local cryptographic agent.
type fakeAgent struct {
	payload     string
	sessions    int
	chunkStatus int
	lastChunk   *ChunkRequest
}

func (f *fakeAgent) handler() http.Handler {
	// Method-prefixed and wildcard ServeMux patterns need Go 1.22+; route
	// manually so the fake also works on a Go 1.21 toolchain.
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/credential", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"payload": f.payload})
	})
	mux.HandleFunc("/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f.sessions++
		json.NewEncoder(w).Encode(map[string]string{"session_id": fmt.Sprintf("sess-%d", f.sessions)})
	})
	mux.HandleFunc("/v1/session/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/chunks"):
			var req ChunkRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.lastChunk = &req
			if f.chunkStatus != 0 {
				http.Error(w, "token removed", f.chunkStatus)
				return
			}
			ack := ChunkAck{Seq: req.Seq, Received: req.Seq + 1}
			if req.Seq == req.Total-1 {
				ack.ObjectID = "obj-" + req.FileName
			}
			json.NewEncoder(w).Encode(ack)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAgent) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, logging.NewNop())
}

func TestDescriptor(t *testing.T) {
	f := &fakeAgent{payload: "ZGVhZGJlZWY="}
	c := newTestClient(t, f)

	payload, err := c.Descriptor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("ZGVhZGJlZWY="), payload)
}

func TestDescriptorUnreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", logging.NewNop())

	_, err := c.Descriptor(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestProbe(t *testing.T) {
	c := newTestClient(t, &fakeAgent{})
	assert.NoError(t, c.Probe(context.Background()))
}

func TestConnectHoldsSessionToken(t *testing.T) {
	c := newTestClient(t, &fakeAgent{})

	sess, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess)
	assert.Equal(t, "sess-1", c.ActiveSession())

	// A second session while one is held is rejected deterministically.
	_, err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, c.Disconnect(sess))
	assert.Empty(t, c.ActiveSession())

	// After release a new session can be opened.
	sess2, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-2", sess2)
}

func TestEncryptChunkAck(t *testing.T) {
	f := &fakeAgent{}
	c := newTestClient(t, f)

	sess, err := c.Connect(context.Background())
	require.NoError(t, err)

	ack, err := c.EncryptChunk(context.Background(), sess, ChunkRequest{
		FileName: "draft.pdf",
		Seq:      0,
		Total:    2,
		Data:     []byte("part one"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ack.Seq)
	assert.Equal(t, 1, ack.Received)
	assert.Empty(t, ack.ObjectID)

	ack, err = c.EncryptChunk(context.Background(), sess, ChunkRequest{
		FileName: "draft.pdf",
		Seq:      1,
		Total:    2,
		Data:     []byte("part two"),
	})
	require.NoError(t, err)
	assert.Equal(t, "obj-draft.pdf", ack.ObjectID)
}

func TestEncryptChunkRejected(t *testing.T) {
	f := &fakeAgent{chunkStatus: http.StatusConflict}
	c := newTestClient(t, f)

	sess, err := c.Connect(context.Background())
	require.NoError(t, err)

	_, err = c.EncryptChunk(context.Background(), sess, ChunkRequest{FileName: "x", Seq: 0, Total: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "token removed")
}

func TestEncryptChunkRequiresSession(t *testing.T) {
	c := newTestClient(t, &fakeAgent{})
	_, err := c.EncryptChunk(context.Background(), "", ChunkRequest{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDisconnectReleasesTokenEvenIfAgentGone(t *testing.T) {
	f := &fakeAgent{}
	srv := httptest.NewServer(f.handler())
	c := NewHTTPClient(srv.URL, logging.NewNop())

	sess, err := c.Connect(context.Background())
	require.NoError(t, err)

	srv.Close()

	err = c.Disconnect(sess)
	assert.Error(t, err)
	assert.Empty(t, c.ActiveSession(), "token must be released on every exit path")
}
