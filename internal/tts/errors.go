package tts

import (
	"errors"
	"fmt"
)

// Kind classifies a synthesis failure.
type Kind string

// Failure kinds.
const (
	KindValidation    Kind = "validation"
	KindCancelled     Kind = "cancelled"
	KindConfig        Kind = "config"
	KindAuthorization Kind = "authorization"
	KindRateLimited   Kind = "rate_limited"
	KindServer        Kind = "server"
	KindTimeout       Kind = "timeout"
	KindTransport     Kind = "transport"
	KindContent       Kind = "content"
	KindEncoding      Kind = "encoding"
	KindUnknown       Kind = "unknown"
)

// Sentinel errors.
var (
	ErrMissingAPIKey      = errors.New("API key not found")
	ErrEmptyText          = errors.New("no processable text")
	ErrNoAudio            = errors.New("no audio produced")
	ErrTaskCancelled      = errors.New("task cancelled")
	ErrInvalidTemperature = errors.New("temperature must be a finite number")
)

// Error is a kind-tagged synthesis error.
type Error struct {
	Kind     Kind
	Op       string
	Message  string
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another provider attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// NewError creates an Error without a cause.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError tags err with kind. A nil err yields nil.
func WrapError(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// ChunkError reports which chunk of a multi-chunk synthesis failed.
type ChunkError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d/%d failed: %v", e.Index+1, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	if errors.Is(err, ErrTaskCancelled) {
		return KindCancelled
	}

	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Retryable()
	}

	return false
}
