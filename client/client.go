// Package client provides the REST client for the Registra backend. It
// implements the pipeline.Backend surface plus the session-scoped lookups the
// CLI needs (security level catalog, registered token serial).
//
// The client never retries: every pipeline operation is either confirmed or
// failed exactly once, so a rejected request cannot silently duplicate a
// parent record or a share grant.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	apperrors "github.com/sealpost/sealpost-cli/pkg/errors"
	"github.com/sealpost/sealpost-cli/pkg/logging"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

const apiPrefix = "/api/v1"

// Client is an authenticated Registra REST client.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  logging.Logger
}

// New creates a client for the given backend base URL and session token.
func New(baseURL, token string, timeout time.Duration, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With(logging.F("component", "registra_client")),
	}
}

// kindPath maps a parent kind to its REST collection.
func kindPath(kind pipeline.ParentKind) (string, error) {
	switch kind {
	case pipeline.ParentDocument:
		return "documents", nil
	case pipeline.ParentComment:
		return "comments", nil
	case pipeline.ParentResult:
		return "results", nil
	}
	return "", fmt.Errorf("%w: unknown parent kind %q", apperrors.ErrValidation, kind)
}

// CreateParent creates a parent record and returns its id.
func (c *Client) CreateParent(ctx context.Context, kind pipeline.ParentKind, fields map[string]string) (string, error) {
	path, err := kindPath(kind)
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/"+path, fields, &out); err != nil {
		return "", fmt.Errorf("creating %s: %w", kind, err)
	}

	c.logger.Debug("parent record created",
		logging.F("kind", string(kind)),
		logging.F("id", out.ID))
	return out.ID, nil
}

// DeleteParent deletes a parent record.
func (c *Client) DeleteParent(ctx context.Context, kind pipeline.ParentKind, id string) error {
	path, err := kindPath(kind)
	if err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("%s/%s/%s", apiPrefix, path, id), nil, nil); err != nil {
		return fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	return nil
}

// UploadPlainFiles uploads unencrypted files into one attachment slot of the
// parent as a single multipart request.
func (c *Client) UploadPlainFiles(ctx context.Context, parent pipeline.ParentRef, slot pipeline.Slot, files []*pipeline.AttachmentCandidate) ([]pipeline.Attachment, error) {
	path, err := kindPath(parent.Kind)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := createFilePart(mw, f)
		if err != nil {
			return nil, fmt.Errorf("building multipart body: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("building multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	url := fmt.Sprintf("%s%s/%s/%s/attachments?slot=%s", c.baseURL, apiPrefix, path, parent.ID, slot)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Attachments []pipeline.Attachment `json:"attachments"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("uploading %d files to %s slot %s: %w", len(files), parent.ID, slot, err)
	}

	c.logger.Debug("plain files uploaded",
		logging.F("parent_id", parent.ID),
		logging.F("slot", string(slot)),
		logging.F("files", len(files)))
	return out.Attachments, nil
}

// createFilePart adds one file part carrying the candidate's MIME hint.
func createFilePart(mw *multipart.Writer, f *pipeline.AttachmentCandidate) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
	contentType := f.MIMEHint
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}

// SharePermission registers the encrypted attachments and grants decryption
// capability to the recipients in a single request.
func (c *Client) SharePermission(ctx context.Context, req pipeline.ShareRequest) error {
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/shares", req, nil); err != nil {
		return fmt.Errorf("sharing %d attachments: %w", len(req.Attachments), err)
	}
	return nil
}

// SaveNonEncrypted persists an accompanying comment body for a submission
// without encrypted attachments.
func (c *Client) SaveNonEncrypted(ctx context.Context, parent pipeline.ParentRef, comment string) error {
	path, err := kindPath(parent.Kind)
	if err != nil {
		return err
	}
	body := map[string]string{"comment": comment}
	url := fmt.Sprintf("%s/%s/%s/comment", apiPrefix, path, parent.ID)
	if err := c.doJSON(ctx, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("saving comment on %s %s: %w", parent.Kind, parent.ID, err)
	}
	return nil
}

// SecurityLevels fetches the organization-wide security level catalog. The
// catalog is immutable reference data; callers load it once per session.
func (c *Client) SecurityLevels(ctx context.Context) (pipeline.Catalog, error) {
	var out struct {
		Levels pipeline.Catalog `json:"levels"`
	}
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/security-levels", nil, &out); err != nil {
		return nil, fmt.Errorf("fetching security levels: %w", err)
	}
	return out.Levels, nil
}

// Operator is the authenticated operator's profile.
type Operator struct {
	Subject string `json:"subject"`

	// TokenSerial is the hardware credential serial registered for the
	// operator. The pipeline compares it against the serial reported by the
	// local agent before any encryption.
	TokenSerial string `json:"token_serial"`
}

// RegisteredOperator fetches the authenticated operator's profile.
func (c *Client) RegisteredOperator(ctx context.Context) (*Operator, error) {
	var out Operator
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/operators/me", nil, &out); err != nil {
		return nil, fmt.Errorf("fetching operator profile: %w", err)
	}
	return &out, nil
}

// Session is the result of a successful login.
type Session struct {
	Token       string    `json:"token"`
	TokenSerial string    `json:"token_serial"`
	Subject     string    `json:"subject"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login exchanges operator credentials for a session token. The returned
// session carries the registered hardware token serial used by identity
// verification.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body := map[string]string{"username": username, "password": password}
	var out Session
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/sessions", body, &out); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	return &out, nil
}

// doJSON performs a JSON request against the backend.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do sends the request, maps backend failures to domain errors, and decodes
// the response into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return statusError(resp)
}

// statusError maps a non-2xx response to a domain error carrying the
// backend's message.
func statusError(resp *http.Response) error {
	msg := backendMessage(resp)

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = apperrors.ErrValidation
	case http.StatusUnauthorized:
		sentinel = apperrors.ErrUnauthorized
	case http.StatusForbidden:
		sentinel = apperrors.ErrForbidden
	case http.StatusNotFound:
		sentinel = apperrors.ErrNotFound
	case http.StatusConflict:
		sentinel = apperrors.ErrConflict
	default:
		if resp.StatusCode >= 500 {
			sentinel = apperrors.ErrUnavailable
		}
	}

	if sentinel == nil {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, msg)
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// backendMessage extracts the error message from a failure response body.
func backendMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
