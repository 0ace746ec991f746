package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sealpost/sealpost-cli/pkg/logging"
)

// DefaultRequestTimeout bounds a single agent round trip. The agent runs on
// loopback, so anything slower than this indicates a wedged process.
const DefaultRequestTimeout = 30 * time.Second

// HTTPClient talks to the local cryptographic agent over loopback HTTP.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	logger  logging.Logger

	// mu guards the held session token. Holding the token here, rather than
	// relying on call ordering, makes the one-session-at-a-time contract
	// enforceable for concurrent submissions.
	mu      sync.Mutex
	session string
}

// NewHTTPClient creates a client for the agent at baseURL
// (e.g. "http://127.0.0.1:24080").
func NewHTTPClient(baseURL string, logger logging.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: DefaultRequestTimeout},
		logger:  logger.With(logging.F("component", "agent_client")),
	}
}

// descriptorResponse is the wire shape of the credential descriptor endpoint.
type descriptorResponse struct {
	Payload string `json:"payload"`
}

// Descriptor returns the transport-encoded credential descriptor payload.
func (c *HTTPClient) Descriptor(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/credential", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: credential endpoint returned %d", ErrUnreachable, resp.StatusCode)
	}

	var dr descriptorResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("%w: decoding descriptor response: %v", ErrUnreachable, err)
	}
	return []byte(dr.Payload), nil
}

// Probe checks agent connectivity without opening a session.
func (c *HTTPClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ping", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// connectResponse is the wire shape of the session-open endpoint.
type connectResponse struct {
	SessionID string `json:"session_id"`
}

// Connect opens an encryption session and records the held session token.
func (c *HTTPClient) Connect(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.session != "" {
		c.mu.Unlock()
		return "", ErrSessionActive
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/session", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: session open returned %d", ErrUnreachable, resp.StatusCode)
	}

	var cr connectResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%w: decoding session response: %v", ErrUnreachable, err)
	}
	if cr.SessionID == "" {
		return "", fmt.Errorf("%w: agent returned empty session id", ErrUnreachable)
	}

	c.mu.Lock()
	// Re-check: another goroutine may have won the race while our request
	// was in flight.
	if c.session != "" {
		c.mu.Unlock()
		c.closeSession(cr.SessionID)
		return "", ErrSessionActive
	}
	c.session = cr.SessionID
	c.mu.Unlock()

	c.logger.Debug("agent session opened", logging.F("session_id", cr.SessionID))
	return cr.SessionID, nil
}

// EncryptChunk submits one chunk and waits for the agent's acknowledgment.
func (c *HTTPClient) EncryptChunk(ctx context.Context, sessionID string, chunk ChunkRequest) (*ChunkAck, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}

	body, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/session/%s/chunks", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("agent rejected chunk %d of %s: %s (status %d)",
			chunk.Seq, chunk.FileName, bytes.TrimSpace(msg), resp.StatusCode)
	}

	var ack ChunkAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decoding chunk ack: %w", err)
	}
	return &ack, nil
}

// Disconnect terminates the session and releases the held token. Termination
// is best-effort: the token is released even if the agent call fails, so a
// crashed agent cannot wedge the client.
func (c *HTTPClient) Disconnect(sessionID string) error {
	c.mu.Lock()
	if c.session == sessionID {
		c.session = ""
	}
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	return c.closeSession(sessionID)
}

// ActiveSession returns the currently held session id, or "".
func (c *HTTPClient) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// closeSession issues the session DELETE without touching the held token.
func (c *HTTPClient) closeSession(sessionID string) error {
	url := fmt.Sprintf("%s/v1/session/%s", c.baseURL, sessionID)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("session close returned %d", resp.StatusCode)
	}
	return nil
}
