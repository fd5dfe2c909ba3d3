// Package audio joins raw PCM segments and encodes them into the container
// formats served to clients.
package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults for Gemini speech output: mono 16-bit little-endian PCM.
const (
	DefaultSampleRate = 24000
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// Limits for parameter validation.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
	bitsPerByte   = 8
)

// Error messages.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtBitDepthValue   = "%w: bit depth must be 16"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
	errFmtUnsupported     = "%w: %q (supported: mp3, wav, flac)"
	errFmtMisaligned      = "%w: %d bytes is not a whole number of frames"
)

// Common errors for the audio package.
var (
	ErrInvalidParams     = errors.New("invalid audio parameters")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrMisalignedPCM     = errors.New("pcm payload not aligned")
	ErrNoSegments        = errors.New("no audio segments")
)

// Format is a supported output container.
type Format string

// Supported formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
)

// ParseFormat normalizes a case-insensitive format name.
func ParseFormat(name string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))

	switch format {
	case FormatWAV, FormatMP3, FormatFLAC:
		return format, nil
	default:
		return "", fmt.Errorf(errFmtUnsupported, ErrUnsupportedFormat, name)
	}
}

// MIMEType returns the Content-Type served for f.
func (f Format) MIMEType() string {
	return "audio/" + string(f)
}

// Params describes the layout of raw PCM.
type Params struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// DefaultParams returns the Gemini output layout.
func DefaultParams() Params {
	return Params{
		SampleRate: DefaultSampleRate,
		BitDepth:   DefaultBitDepth,
		Channels:   DefaultChannels,
	}
}

// Validate checks that p describes encodable PCM.
func (p Params) Validate() error {
	if p.SampleRate <= 0 || p.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidParams, MaxSampleRate)
	}

	if p.BitDepth != DefaultBitDepth {
		return fmt.Errorf(errFmtBitDepthValue, ErrInvalidParams)
	}

	if p.Channels <= 0 || p.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidParams, MaxChannels)
	}

	return nil
}

// FrameSize is the number of bytes per sample frame.
func (p Params) FrameSize() int {
	return p.BitDepth / bitsPerByte * p.Channels
}

// Duration returns the playback length of pcm.
func (p Params) Duration(pcm []byte) time.Duration {
	bytesPerSecond := p.SampleRate * p.FrameSize()
	if bytesPerSecond == 0 {
		return 0
	}

	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSecond)
}

// Concat appends segments in order. A single segment is returned unchanged.
func Concat(segments [][]byte) ([]byte, error) {
	switch len(segments) {
	case 0:
		return nil, ErrNoSegments
	case 1:
		return segments[0], nil
	}

	total := 0
	for _, segment := range segments {
		total += len(segment)
	}

	joined := make([]byte, 0, total)
	for _, segment := range segments {
		joined = append(joined, segment...)
	}

	return joined, nil
}

func (p Params) checkAligned(pcm []byte) error {
	frame := p.FrameSize()
	if frame == 0 || len(pcm)%frame != 0 {
		return fmt.Errorf(errFmtMisaligned, ErrMisalignedPCM, len(pcm))
	}

	return nil
}
