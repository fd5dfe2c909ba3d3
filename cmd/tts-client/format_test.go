package main

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/tts/audio"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "2.0 MB", formatFileSize(2*1024*1024))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45.2s", formatDuration(45200*time.Millisecond))
	assert.Equal(t, "5m 30.5s", formatDuration(5*time.Minute+30500*time.Millisecond))
}

func TestDescribeAudio(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "format-test.log")
	require.NoError(t, err)

	params := audio.DefaultParams()

	encoder, err := audio.NewEncoder(params, "", log)
	require.NoError(t, err)

	pcm := make([]byte, 2*params.SampleRate*params.FrameSize())

	wavData, mimeType, err := encoder.Encode(context.Background(), pcm, "wav")
	require.NoError(t, err)

	assert.Contains(t, describeAudio(mimeType, wavData), "audio/wav, ")
	assert.Contains(t, describeAudio(mimeType, wavData), ", 2.0s")

	assert.Equal(t, "audio/mp3, 3 B", describeAudio("audio/mp3", []byte("ID3")))
	assert.Equal(t, "audio/wav, 4 B", describeAudio("audio/wav", []byte("junk")))
}
