// Package core defines the shared types and interfaces of the TTS server.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechClient turns one text chunk into raw PCM audio.
type SpeechClient interface {
	SynthesizeChunk(ctx context.Context, text, voiceID string, temperature float64, timeout time.Duration) ([]byte, error)
}

// AudioEncoder wraps raw PCM into a container format and reports its MIME type.
type AudioEncoder interface {
	Encode(ctx context.Context, pcm []byte, format string) ([]byte, string, error)
}

// TaskRegistry is the cancellation view of the task table used by the pipeline.
type TaskRegistry interface {
	Register(id string)
	Cancel(id string) bool
	IsCancelled(id string) bool
	Unregister(id string)
	Len() int
}

// Observer receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ProviderAttempt(ctx context.Context, result string)
	ChunkSynthesized(ctx context.Context)
	SynthesisFinished(ctx context.Context, status string, elapsed time.Duration)
}

// SynthesisRequest holds the parameters of one synthesis job.
// Zero values for ChunkSize and Timeout select the configured defaults.
type SynthesisRequest struct {
	TaskID      string
	Text        string
	VoiceName   string
	Format      string
	Temperature float64
	ChunkSize   int
	Timeout     time.Duration
}

// Synthesizer runs the full text-to-audio pipeline.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) Outcome
}

// OutcomeStatus tags an Outcome.
type OutcomeStatus int

// Outcome statuses.
const (
	StatusOK OutcomeStatus = iota
	StatusCancelled
	StatusFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one synthesis. Audio and MIMEType are set only
// for StatusOK; Err only for StatusFailed.
type Outcome struct {
	Status   OutcomeStatus
	Audio    []byte
	MIMEType string
	Err      error
}

// OutcomeOK returns a successful outcome.
func OutcomeOK(audio []byte, mimeType string) Outcome {
	return Outcome{Status: StatusOK, Audio: audio, MIMEType: mimeType, Err: nil}
}

// OutcomeCancelled returns a cancelled outcome.
func OutcomeCancelled() Outcome {
	return Outcome{Status: StatusCancelled, Audio: nil, MIMEType: "", Err: nil}
}

// OutcomeFailed returns a failed outcome carrying err.
func OutcomeFailed(err error) Outcome {
	return Outcome{Status: StatusFailed, Audio: nil, MIMEType: "", Err: err}
}
