// Package client talks to the focus-sync remote document API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/focus-sync/internal/document"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
)

// TransientError wraps an error that is likely temporary: the server was
// unreachable or answered with a retryable status.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// HeaderDeviceID identifies the uploading device so realtime listeners
// can recognise their own writes.
const HeaderDeviceID = "X-Device-ID"

const (
	// DocumentPath is the remote document endpoint.
	DocumentPath = "/sync/document"

	// RealtimePath is the realtime WebSocket endpoint.
	RealtimePath = "/sync/realtime"
)

const (
	maxRedirects = 10

	// httpClientTimeout applies when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Documents are capped
	// server side well below this.
	maxAPIResponseBytes = 16 * 1024 * 1024
)

// Client is the remote document API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only to the original host so
// credentials never leak to another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// New creates a client for the server at baseURL. If httpClient is nil,
// a client with a 30-second timeout and same-host redirect policy is
// created.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

type errorResponse struct {
	Error string `json:"error"`
}

type putRequest struct {
	Data document.Document `json:"data"`
}

// GetDocument fetches the caller's document. A missing document returns
// an error wrapping ErrNotFound.
func (c *Client) GetDocument(ctx context.Context, cred identity.Credential) (*document.Record, error) {
	var rec document.Record
	if err := c.do(ctx, http.MethodGet, DocumentPath, cred, "", nil, &rec); err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}

	if rec.Document == nil {
		rec.Document = document.Document{}
	}

	return &rec, nil
}

// PutDocument replaces the caller's document. device is recorded with
// the write and may be empty.
func (c *Client) PutDocument(ctx context.Context, cred identity.Credential, doc document.Document, device string) error {
	if doc == nil {
		doc = document.Document{}
	}

	if err := c.do(ctx, http.MethodPost, DocumentPath, cred, device, putRequest{Data: doc}, nil); err != nil {
		return fmt.Errorf("uploading document: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, cred identity.Credential, device string, body, result any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	if device != "" {
		req.Header.Set(HeaderDeviceID, device)
	}

	cred.Apply(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s %s: %w", apperr.ErrAPIRequest, method, endpoint, err)
		return &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(endpoint, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: decoding response from %s: %w", apperr.ErrAPIResponse, endpoint, err)
		}
	}

	return nil
}

func statusError(endpoint string, code int, body []byte) error {
	msg := sanitizeResponseBody(body)

	var apiErr errorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = sanitizeResponseBody([]byte(apiErr.Error))
	}

	var sentinel error

	switch code {
	case http.StatusNotFound:
		sentinel = apperr.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = apperr.ErrUnauthenticated
	default:
		sentinel = apperr.ErrAPIResponse
	}

	err := fmt.Errorf("%w: API %s returned status %d: %s", sentinel, endpoint, code, msg)
	if isTransientStatus(code) {
		return &TransientError{Err: err}
	}

	return err
}

// sanitizeResponseBody truncates a response body to 256 bytes and
// replaces invalid UTF-8 and control characters for safe logging.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for status codes that indicate a
// temporary server-side problem.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
