// Package apiclient is a Go client for the tts-server HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/server"
)

// API endpoints and paths.
const (
	apiSynthesize = "/api/synthesize"
	apiCancelTask = "/api/cancel_task/"
	apiVoices     = "/api/voices"
	apiConfig     = "/api/config"
	apiHealth     = "/healthz"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceError     = "TTS server error (%s): %s"
	errFmtServiceErrorKind = "TTS server error (%s): %s (kind: %s)"
	errFmtNonOKStatus      = "TTS server returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned before any request when the text is blank.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when the server answered 200 without a body.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrCancelled is returned when the server reports the task as cancelled.
	ErrCancelled = errors.New("synthesis cancelled")
)

// APIError is a structured non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Detail     string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf(errFmtServiceErrorKind, e.Status, e.Detail, e.Kind)
	}

	return fmt.Sprintf(errFmtServiceError, e.Status, e.Detail)
}

// Is lets errors.Is(err, ErrCancelled) match a 499 response.
func (e *APIError) Is(target error) bool {
	return target == ErrCancelled && e.StatusCode == server.StatusClientClosedRequest
}

// Audio is a synthesized file as returned by the server.
type Audio struct {
	Data     []byte
	MIMEType string
	TaskID   string
}

// Client talks to one tts-server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for baseURL (e.g. "http://localhost:8008"). The
// timeout applies to every request; synthesis of long texts needs a
// generous one.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Synthesize posts req and returns the encoded audio.
func (c *Client) Synthesize(ctx context.Context, req server.SynthesizeRequest) (*Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, apiSynthesize, requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return &Audio{
		Data:     audioData,
		MIMEType: resp.Header.Get(headerContentType),
		TaskID:   resp.Header.Get(server.HeaderTaskID),
	}, nil
}

// Cancel asks the server to cancel taskID.
func (c *Client) Cancel(ctx context.Context, taskID string) (*server.CancelResponse, error) {
	var out server.CancelResponse

	err := c.getJSON(ctx, http.MethodPost, apiCancelTask+url.PathEscape(taskID), &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// Voices lists the server's voice catalog.
func (c *Client) Voices(ctx context.Context) (*server.VoicesResponse, error) {
	var out server.VoicesResponse

	err := c.getJSON(ctx, http.MethodGet, apiVoices, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// Config returns the server's frontend defaults.
func (c *Client) Config(ctx context.Context) (*server.ConfigResponse, error) {
	var out server.ConfigResponse

	err := c.getJSON(ctx, http.MethodGet, apiConfig, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// HealthCheck verifies that the server is up.
func (c *Client) HealthCheck(ctx context.Context) (*server.HealthResponse, error) {
	var out server.HealthResponse

	err := c.getJSON(ctx, http.MethodGet, apiHealth, &out)
	if err != nil {
		return nil, fmt.Errorf("health check failed for server at %s: %w", c.baseURL, err)
	}

	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, out any) error {
	resp, err := c.do(ctx, method, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS server at %s: %w", c.baseURL, err)
	}

	return resp, nil
}

// parseErrorResponse decodes {detail, kind}, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp server.ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err != nil || errorResp.Detail == "" {
		return fmt.Errorf(errFmtNonOKStatus, resp.Status, string(body))
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Detail:     errorResp.Detail,
		Kind:       string(errorResp.Kind),
	}
}
