package tts

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/gemini-tts-server/internal/tts/audio"
	"github.com/book-expert/gemini-tts-server/internal/tts/text"
	"github.com/book-expert/gemini-tts-server/internal/voices"
	"github.com/book-expert/logger"
)

// Pipeline defaults.
const (
	DefaultChunkSize     = 1500
	DefaultMaxChunkChars = 4800
	MinTemperature       = 0.0
	MaxTemperature       = 2.0
)

const (
	opSynthesize = "synthesize"

	errNoProcessableText = "no processable text"
	errNoAudioProduced   = "no audio produced"
	errEmptyChunkAudio   = "TTS chunk returned no data"
	errEncodeFailed      = "failed to encode audio"
	errBadFormat         = "unsupported audio format"
	errBadTemperature    = "invalid temperature"
)

var _ core.Synthesizer = (*Synthesizer)(nil)

// SynthesizerOptions configures a Synthesizer.
type SynthesizerOptions struct {
	DefaultChunkSize int
	// MaxChunkChars is the hard provider ceiling applied to every request.
	MaxChunkChars  int
	DefaultTimeout time.Duration
	Observer       core.Observer
}

// Synthesizer turns text into one encoded audio file by chunking it,
// calling the speech client per chunk and encoding the joined PCM.
// Cancellation is checked before the first chunk and between chunks.
type Synthesizer struct {
	opts     SynthesizerOptions
	speech   core.SpeechClient
	encoder  core.AudioEncoder
	registry core.TaskRegistry
	catalog  *voices.Catalog
	log      *logger.Logger
}

// NewSynthesizer wires a Synthesizer, filling unset options with defaults.
func NewSynthesizer(
	opts SynthesizerOptions,
	speech core.SpeechClient,
	encoder core.AudioEncoder,
	registry core.TaskRegistry,
	catalog *voices.Catalog,
	log *logger.Logger,
) *Synthesizer {
	if opts.DefaultChunkSize <= 0 {
		opts.DefaultChunkSize = DefaultChunkSize
	}

	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = DefaultMaxChunkChars
	}

	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}

	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	if catalog == nil {
		catalog = voices.Default()
	}

	return &Synthesizer{
		opts:     opts,
		speech:   speech,
		encoder:  encoder,
		registry: registry,
		catalog:  catalog,
		log:      log,
	}
}

// Synthesize runs the pipeline for req. The task named by req.TaskID is
// unregistered on every exit path.
func (s *Synthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) (outcome core.Outcome) {
	started := time.Now()

	defer func() {
		if req.TaskID != "" {
			s.registry.Unregister(req.TaskID)
		}

		s.opts.Observer.SynthesisFinished(ctx, outcome.Status.String(), time.Since(started))
		s.logOutcome(req.TaskID, outcome)
	}()

	if s.cancelled(ctx, req.TaskID) {
		return core.OutcomeCancelled()
	}

	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		return core.OutcomeFailed(WrapError(KindValidation, opSynthesize, errBadFormat, err))
	}

	if math.IsNaN(req.Temperature) || math.IsInf(req.Temperature, 0) {
		return core.OutcomeFailed(WrapError(KindValidation, opSynthesize, errBadTemperature, ErrInvalidTemperature))
	}

	chunks, err := s.split(req)
	if err != nil {
		return core.OutcomeFailed(err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}

	voiceID := s.catalog.Resolve(req.VoiceName)
	temperature := min(max(req.Temperature, MinTemperature), MaxTemperature)

	s.log.Info("Task %s: Voice='%s', Format='%s', Temp=%.2f, Chunks=%d, Timeout=%s",
		req.TaskID, req.VoiceName, format, temperature, len(chunks), timeout)

	segments := make([][]byte, 0, len(chunks))

	for index, chunk := range chunks {
		if s.cancelled(ctx, req.TaskID) {
			return core.OutcomeCancelled()
		}

		s.log.Info("Task %s: Synthesizing chunk %d/%d (len %d)...", req.TaskID, index+1, len(chunks), len([]rune(chunk)))

		pcm, chunkErr := s.speech.SynthesizeChunk(ctx, chunk, voiceID, temperature, timeout)
		if chunkErr != nil {
			if IsKind(chunkErr, KindCancelled) || errors.Is(chunkErr, context.Canceled) {
				return core.OutcomeCancelled()
			}

			return core.OutcomeFailed(&ChunkError{Index: index, Total: len(chunks), Err: chunkErr})
		}

		if len(pcm) == 0 {
			return core.OutcomeFailed(&ChunkError{
				Index: index,
				Total: len(chunks),
				Err:   NewError(KindContent, opSynthesize, errEmptyChunkAudio),
			})
		}

		segments = append(segments, pcm)
		s.opts.Observer.ChunkSynthesized(ctx)
	}

	if len(segments) == 0 {
		return core.OutcomeFailed(WrapError(KindValidation, opSynthesize, errNoAudioProduced, ErrNoAudio))
	}

	s.log.Info("Task %s: Concatenating %d audio segments.", req.TaskID, len(segments))

	pcm, err := audio.Concat(segments)
	if err != nil {
		return core.OutcomeFailed(WrapError(KindValidation, opSynthesize, errNoAudioProduced, err))
	}

	data, mimeType, err := s.encoder.Encode(ctx, pcm, string(format))
	if err != nil {
		if ctx.Err() != nil {
			return core.OutcomeCancelled()
		}

		return core.OutcomeFailed(WrapError(KindEncoding, opSynthesize, errEncodeFailed, err))
	}

	return core.OutcomeOK(data, mimeType)
}

// split chunks the request text at the effective chunk size.
func (s *Synthesizer) split(req core.SynthesisRequest) ([]string, error) {
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.opts.DefaultChunkSize
	}

	chunkSize = min(chunkSize, s.opts.MaxChunkChars)

	chunks, err := text.Split(req.Text, chunkSize)
	if err != nil {
		return nil, WrapError(KindValidation, opSynthesize, errNoProcessableText, err)
	}

	if len(chunks) == 0 || strings.TrimSpace(chunks[0]) == "" {
		return nil, WrapError(KindValidation, opSynthesize, errNoProcessableText, ErrEmptyText)
	}

	return chunks, nil
}

func (s *Synthesizer) cancelled(ctx context.Context, taskID string) bool {
	if ctx.Err() != nil {
		return true
	}

	return taskID != "" && s.registry.IsCancelled(taskID)
}

func (s *Synthesizer) logOutcome(taskID string, outcome core.Outcome) {
	switch outcome.Status {
	case core.StatusOK:
		s.log.Info("Task %s synthesis completed (%d bytes)", taskID, len(outcome.Audio))
	case core.StatusCancelled:
		s.log.Info("Task %s cancelled", taskID)
	case core.StatusFailed:
		s.log.Error("Task %s synthesis failed: %v", taskID, outcome.Err)
	}
}
