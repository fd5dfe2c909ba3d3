// Package tts implements the Gemini speech pipeline: the provider client with
// bounded retries and the orchestrator that chunks text, synthesizes each
// chunk and encodes the joined audio.
package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

// Provider defaults.
const (
	DefaultAPIKeyEnvVar = "GEMINI_API_KEY"
	DefaultModel        = "gemini-2.5-flash-preview-tts"
	DefaultUserAgent    = "Gemini-TTS-Server/1.0"
	DefaultTimeout      = 60 * time.Second
)

const (
	opSynthesizeChunk = "synthesize_chunk"
	opNewClient       = "new_client"

	responseModalityAudio = "AUDIO"
	headerUserAgent       = "User-Agent"
	apiKeyPrefix          = "AIza"
	apiKeyMinLength       = 35
	apiKeyVisiblePrefix   = 5
	excerptLimit          = 200

	attemptResultSuccess = "success"
)

// Error messages.
const (
	errFmtMissingAPIKey   = "set the %s environment variable"
	errFmtTextResponse    = "API returned text: '%s...'"
	errFmtInvalidResponse = "Invalid API response: %s..."
	errFmtHTTPStatus      = "HTTP %d"
	errCreateClient       = "failed to create Gemini client"
	errRateLimited        = "Rate limit (429)"
	errFmtServerError     = "Server error (%d)"
	errPermissionDenied   = "Permission denied"
	errRequestTimedOut    = "request timed out"
	errRequestFailed      = "request failed"
	errRequestCancelled   = "request cancelled"
)

var _ core.SpeechClient = (*GeminiClient)(nil)

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	// APIKeyEnvVar names the environment variable read on first use.
	APIKeyEnvVar string
	Model        string
	// BaseURL overrides the Gemini endpoint; empty uses the SDK default.
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Observer   core.Observer
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// GeminiClient synthesizes single text chunks with the Gemini API.
// The underlying SDK client is created lazily on the first call so that a
// missing API key surfaces per request rather than at startup.
type GeminiClient struct {
	opts GeminiOptions
	log  *logger.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient creates a GeminiClient, filling unset options with defaults.
func NewGeminiClient(opts GeminiOptions, log *logger.Logger) *GeminiClient {
	if opts.APIKeyEnvVar == "" {
		opts.APIKeyEnvVar = DefaultAPIKeyEnvVar
	}

	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}

	if opts.Retry.MaxAttempts == 0 && opts.Retry.BaseDelay == 0 && opts.Retry.Sleep == nil {
		opts.Retry = DefaultRetryPolicy()
	}

	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &GeminiClient{
		opts:   opts,
		log:    log,
		mu:     sync.Mutex{},
		client: nil,
	}
}

// SynthesizeChunk sends one chunk to Gemini and returns the decoded PCM
// bytes. Each attempt is bounded by timeout; rate limits, server errors,
// timeouts and transport failures are retried per the client's RetryPolicy.
func (c *GeminiClient) SynthesizeChunk(
	ctx context.Context,
	text, voiceID string,
	temperature float64,
	timeout time.Duration,
) ([]byte, error) {
	client, err := c.genaiClient(ctx)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	config := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(float32(temperature)),
		ResponseModalities: []string{responseModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceID},
			},
		},
	}

	c.log.Info("Sending request to Gemini: Model=%s, Voice=%s, Temp=%.1f", c.opts.Model, voiceID, temperature)

	policy := c.opts.Retry
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, attemptErr error) {
		c.log.Warn("Attempt %d failed (%v); retrying in %s", attempt, attemptErr, delay)

		if userOnRetry != nil {
			userOnRetry(attempt, delay, attemptErr)
		}
	}

	var audio []byte

	attempts, err := policy.Execute(ctx, func(ctx context.Context, attempt int) error {
		c.log.Info("Attempt %d/%d (timeout: %s)...", attempt+1, policy.withDefaults().MaxAttempts, timeout)

		data, callErr := c.callOnce(ctx, client, text, config, timeout)
		c.opts.Observer.ProviderAttempt(ctx, attemptResult(callErr))

		if callErr != nil {
			return callErr
		}

		audio = data

		return nil
	})
	if err != nil {
		c.log.Error("Gemini synthesis failed after %d attempt(s): %v", attempts, err)

		return nil, err
	}

	return audio, nil
}

func (c *GeminiClient) callOnce(
	ctx context.Context,
	client *genai.Client,
	text string,
	config *genai.GenerateContentConfig,
	timeout time.Duration,
) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Models.GenerateContent(attemptCtx, c.opts.Model, genai.Text(text), config)
	if err != nil {
		return nil, classifyCallError(ctx, attemptCtx, err)
	}

	return extractAudio(resp)
}

// genaiClient returns the shared SDK client, creating it on first use.
func (c *GeminiClient) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	apiKey, err := c.apiKey()
	if err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: c.opts.BaseURL,
			Headers: http.Header{headerUserAgent: []string{c.opts.UserAgent}},
		},
	}
	if c.opts.HTTPClient != nil {
		clientConfig.HTTPClient = c.opts.HTTPClient
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, WrapError(KindConfig, opNewClient, errCreateClient, err)
	}

	c.client = client

	return client, nil
}

func (c *GeminiClient) apiKey() (string, error) {
	apiKey, ok := c.opts.LookupEnv(c.opts.APIKeyEnvVar)
	if !ok || apiKey == "" {
		return "", WrapError(KindConfig, opNewClient,
			fmt.Sprintf(errFmtMissingAPIKey, c.opts.APIKeyEnvVar), ErrMissingAPIKey)
	}

	if !LooksLikeAPIKey(apiKey) {
		visible := apiKey[:min(len(apiKey), apiKeyVisiblePrefix)]
		c.log.Warn("API key format: %s... (len: %d)", visible, len(apiKey))
	}

	return apiKey, nil
}

// LooksLikeAPIKey reports whether key has the shape of a Google API key.
func LooksLikeAPIKey(key string) bool {
	return strings.HasPrefix(key, apiKeyPrefix) && len(key) >= apiKeyMinLength
}

// classifyCallError maps an SDK error to a kind-tagged Error.
func classifyCallError(parent, attemptCtx context.Context, err error) error {
	if parent.Err() != nil {
		return WrapError(KindCancelled, opSynthesizeChunk, errRequestCancelled, err)
	}

	if apiErr, ok := asAPIError(err); ok {
		return classifyStatus(apiErr.Code, err)
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, opSynthesizeChunk, errRequestTimedOut, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WrapError(KindTimeout, opSynthesizeChunk, errRequestTimedOut, err)
	}

	return WrapError(KindTransport, opSynthesizeChunk, errRequestFailed, err)
}

func classifyStatus(code int, err error) *Error {
	switch {
	case code == http.StatusTooManyRequests:
		return WrapError(KindRateLimited, opSynthesizeChunk, errRateLimited, err)
	case code >= http.StatusInternalServerError:
		return WrapError(KindServer, opSynthesizeChunk, fmt.Sprintf(errFmtServerError, code), err)
	case code == http.StatusForbidden, code == http.StatusUnauthorized:
		return WrapError(KindAuthorization, opSynthesizeChunk, errPermissionDenied, err)
	default:
		return WrapError(KindTransport, opSynthesizeChunk, fmt.Sprintf(errFmtHTTPStatus, code), err)
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}

	return genai.APIError{}, false
}

// extractAudio pulls the inline audio out of a response. A response that
// carries text instead, or nothing usable, is a content error.
func extractAudio(resp *genai.GenerateContentResponse) ([]byte, error) {
	var (
		audio []byte
		text  string
	)

	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part == nil:
			case part.InlineData != nil && len(part.InlineData.Data) > 0:
				audio = append(audio, part.InlineData.Data...)
			case part.Text != "" && text == "":
				text = part.Text
			}
		}
	}

	if len(audio) > 0 {
		return audio, nil
	}

	if text != "" {
		return nil, NewError(KindContent, opSynthesizeChunk, fmt.Sprintf(errFmtTextResponse, truncate(text, excerptLimit)))
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", resp))
	}

	return nil, NewError(KindContent, opSynthesizeChunk, fmt.Sprintf(errFmtInvalidResponse, truncate(string(raw), excerptLimit)))
}

// truncate returns at most limit runes of s.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}

func attemptResult(err error) string {
	if err == nil {
		return attemptResultSuccess
	}

	return string(KindOf(err))
}

type nopObserver struct{}

func (nopObserver) ProviderAttempt(context.Context, string)                   {}
func (nopObserver) ChunkSynthesized(context.Context)                          {}
func (nopObserver) SynthesisFinished(context.Context, string, time.Duration) {}
