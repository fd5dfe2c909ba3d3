package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/gemini-tts-server/internal/config"
	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/gemini-tts-server/internal/tts"
	"github.com/book-expert/gemini-tts-server/internal/tts/audio"
	"github.com/book-expert/gemini-tts-server/internal/voices"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StatusClientClosedRequest is returned when a synthesis task was cancelled.
const StatusClientClosedRequest = 499

const (
	msgEmptyText      = "Text cannot be empty."
	msgMissingVoice   = "Voice name must be provided."
	msgBadFormat      = "Invalid audio format. Must be 'mp3', 'wav', or 'flac'."
	msgFmtTextTooLong = "Text is too long: %d characters, the limit is %d."
	msgBadRequestBody = "Invalid request body: %v"
	msgFmtCancelled   = "Task %s was cancelled."
	msgFmtInternal    = "Internal server error: %v"
	msgNoVoices       = "No voices found or error fetching voices."
	msgCancelled      = "Cancellation request processed"
)

// SynthesizeRequest is the body of POST /api/synthesize. Pointer fields are
// optional and fall back to the configured defaults.
type SynthesizeRequest struct {
	TaskID            string   `json:"task_id"`
	Text              string   `json:"text"`
	VoiceName         string   `json:"voice_name"`
	AudioFormat       string   `json:"audio_format"`
	Temperature       *float64 `json:"temperature,omitempty"`
	StylePrompt       *string  `json:"style_prompt,omitempty"`
	ChunkSizeChars    int      `json:"chunk_size_chars"`
	APITimeoutSeconds *int     `json:"api_timeout_seconds,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Detail string   `json:"detail"`
	Kind   tts.Kind `json:"kind,omitempty"`
}

// CancelResponse is the body of POST /api/cancel_task/:task_id.
type CancelResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// ConfigResponse carries the frontend defaults.
type ConfigResponse struct {
	DefaultTheme             string  `json:"default_theme"`
	DefaultStylePrompt       string  `json:"default_style_prompt"`
	DefaultAudioFormat       string  `json:"default_audio_format"`
	DefaultTemperature       float64 `json:"default_temperature"`
	DefaultChunkSizeChars    int     `json:"default_chunk_size_chars"`
	DefaultAPITimeoutSeconds int     `json:"default_api_timeout_seconds"`
	DefaultVoiceDisplayName  string  `json:"default_voice_display_name"`
	DefaultMaxTextChars      int     `json:"default_max_text_chars"`
}

// VoicesResponse lists the voice catalog.
type VoicesResponse struct {
	Voices       []voices.Listing `json:"voices"`
	DefaultVoice string           `json:"default_voice"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveTasks int    `json:"active_tasks"`
}

// Handlers serves the API on top of a Synthesizer.
type Handlers struct {
	synthesizer core.Synthesizer
	registry    core.TaskRegistry
	catalog     *voices.Catalog
	defaults    config.DefaultsConfig
	metrics     http.Handler
	log         *logger.Logger
}

// NewHandlers wires the API handlers. A nil metrics handler disables /metrics.
func NewHandlers(
	synthesizer core.Synthesizer,
	registry core.TaskRegistry,
	catalog *voices.Catalog,
	defaults config.DefaultsConfig,
	metrics http.Handler,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		synthesizer: synthesizer,
		registry:    registry,
		catalog:     catalog,
		defaults:    defaults,
		metrics:     metrics,
		log:         log,
	}
}

// Register mounts every route on router.
func (h *Handlers) Register(router *Router) {
	router.API.POST("/synthesize", h.synthesize)
	router.API.POST("/cancel_task/:task_id", h.cancelTask)
	router.API.GET("/config", h.frontendConfig)
	router.API.GET("/voices", h.listVoices)

	router.Engine.GET("/healthz", h.health)

	if h.metrics != nil {
		router.Engine.GET("/metrics", gin.WrapH(h.metrics))
	}
}

func (h *Handlers) synthesize(c *gin.Context) {
	var req SynthesizeRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf(msgBadRequestBody, err), tts.KindValidation)

		return
	}

	if strings.TrimSpace(req.Text) == "" {
		respondError(c, http.StatusBadRequest, msgEmptyText, tts.KindValidation)

		return
	}

	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	// Registered before the remaining checks so an early cancel is honoured;
	// the synthesizer unregisters on its own exit paths, this covers the rest.
	h.registry.Register(req.TaskID)
	defer h.registry.Unregister(req.TaskID)

	c.Header(HeaderTaskID, req.TaskID)

	if req.VoiceName == "" {
		respondError(c, http.StatusBadRequest, msgMissingVoice, tts.KindValidation)

		return
	}

	_, err = audio.ParseFormat(req.AudioFormat)
	if err != nil {
		respondError(c, http.StatusBadRequest, msgBadFormat, tts.KindValidation)

		return
	}

	length := utf8.RuneCountInString(req.Text)
	if h.defaults.MaxTextChars > 0 && length > h.defaults.MaxTextChars {
		respondError(c, http.StatusBadRequest,
			fmt.Sprintf(msgFmtTextTooLong, length, h.defaults.MaxTextChars), tts.KindValidation)

		return
	}

	synthesisReq := h.buildRequest(req)

	h.log.Info("Synthesize request %s: Text='%s...', Voice='%s', Format='%s', Temp=%.2f",
		req.TaskID, preview(synthesisReq.Text, 100), req.VoiceName, synthesisReq.Format, synthesisReq.Temperature)

	outcome := h.synthesizer.Synthesize(c.Request.Context(), synthesisReq)

	switch outcome.Status {
	case core.StatusOK:
		c.Header("Content-Disposition", "inline")
		c.Header("Cache-Control", "no-cache")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, "+HeaderTaskID)
		c.Data(http.StatusOK, outcome.MIMEType, outcome.Audio)
	case core.StatusCancelled:
		respondError(c, StatusClientClosedRequest, fmt.Sprintf(msgFmtCancelled, req.TaskID), tts.KindCancelled)
	case core.StatusFailed:
		h.log.Error("Error in /api/synthesize for task %s: %v", req.TaskID, outcome.Err)
		respondError(c, http.StatusInternalServerError, fmt.Sprintf(msgFmtInternal, outcome.Err), tts.KindOf(outcome.Err))
	}
}

func (h *Handlers) buildRequest(req SynthesizeRequest) core.SynthesisRequest {
	text := req.Text
	if req.StylePrompt != nil {
		prompt := strings.TrimSpace(*req.StylePrompt)
		if prompt != "" {
			text = prompt + " " + req.Text
		}
	}

	temperature := h.defaults.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	timeout := h.defaults.APITimeout()
	if req.APITimeoutSeconds != nil {
		timeout = time.Duration(*req.APITimeoutSeconds) * time.Second
	}

	return core.SynthesisRequest{
		TaskID:      req.TaskID,
		Text:        text,
		VoiceName:   req.VoiceName,
		Format:      strings.ToLower(req.AudioFormat),
		Temperature: temperature,
		ChunkSize:   req.ChunkSizeChars,
		Timeout:     timeout,
	}
}

// cancelTask always succeeds; unknown IDs are ignored.
func (h *Handlers) cancelTask(c *gin.Context) {
	taskID := c.Param("task_id")

	found := h.registry.Cancel(taskID)
	h.log.Info("Received cancellation request for task_id: %s (active: %t)", taskID, found)

	c.JSON(http.StatusOK, CancelResponse{Message: msgCancelled, TaskID: taskID})
}

func (h *Handlers) frontendConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{
		DefaultTheme:             h.defaults.Theme,
		DefaultStylePrompt:       h.defaults.StylePrompt,
		DefaultAudioFormat:       h.defaults.AudioFormat,
		DefaultTemperature:       h.defaults.Temperature,
		DefaultChunkSizeChars:    h.defaults.ChunkSizeChars,
		DefaultAPITimeoutSeconds: h.defaults.APITimeoutSeconds,
		DefaultVoiceDisplayName:  h.defaults.VoiceDisplayName,
		DefaultMaxTextChars:      h.defaults.MaxTextChars,
	})
}

func (h *Handlers) listVoices(c *gin.Context) {
	if h.catalog == nil || h.catalog.Len() == 0 {
		respondError(c, http.StatusNotFound, msgNoVoices, "")

		return
	}

	c.JSON(http.StatusOK, VoicesResponse{
		Voices:       h.catalog.Listings(),
		DefaultVoice: h.defaults.VoiceDisplayName,
	})
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", ActiveTasks: h.registry.Len()})
}

func respondError(c *gin.Context, status int, detail string, kind tts.Kind) {
	c.JSON(status, ErrorResponse{Detail: detail, Kind: kind})
}

func preview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
