package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os/exec"
	"testing"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/tts/audio"
	"github.com/book-expert/logger"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "audio-test.log")
	require.NoError(t, err)

	return lg
}

// tone returns a ramp signal of the given length at the default layout.
func tone(seconds int, start int16) []byte {
	params := audio.DefaultParams()
	samples := params.SampleRate * seconds
	pcm := make([]byte, samples*2)

	for i := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(start+int16(i%100)))
	}

	return pcm
}

func TestEncode_WAVDurationMatchesSegments(t *testing.T) {
	t.Parallel()

	encoder, err := audio.NewEncoder(audio.DefaultParams(), "", createTestLogger(t))
	require.NoError(t, err)

	pcm, err := audio.Concat([][]byte{tone(1, 0), tone(1, 1000)})
	require.NoError(t, err)

	data, mimeType, err := encoder.Encode(context.Background(), pcm, "WAV")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", mimeType)

	decoder := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, decoder.IsValidFile())
	assert.Equal(t, uint32(audio.DefaultSampleRate), decoder.SampleRate)
	assert.Equal(t, uint16(1), decoder.NumChans)

	duration, err := decoder.Duration()
	require.NoError(t, err)
	assert.InDelta(t, 2*time.Second, duration, float64(10*time.Millisecond))

	buffer, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buffer.Data, 2*audio.DefaultSampleRate)
	assert.Equal(t, 1000, buffer.Data[audio.DefaultSampleRate])
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	encoder, err := audio.NewEncoder(audio.DefaultParams(), "", nil)
	require.NoError(t, err)

	_, _, err = encoder.Encode(context.Background(), tone(1, 0), "ogg")
	require.ErrorIs(t, err, audio.ErrUnsupportedFormat)
}

func TestEncode_MisalignedPCM(t *testing.T) {
	t.Parallel()

	encoder, err := audio.NewEncoder(audio.DefaultParams(), "", nil)
	require.NoError(t, err)

	_, _, err = encoder.Encode(context.Background(), []byte{1, 2, 3}, "wav")
	require.ErrorIs(t, err, audio.ErrMisalignedPCM)
}

func TestEncode_CompressedWithoutTranscoder(t *testing.T) {
	t.Parallel()

	encoder, err := audio.NewEncoder(audio.DefaultParams(), "", nil)
	require.NoError(t, err)

	_, _, err = encoder.Encode(context.Background(), tone(1, 0), "mp3")
	require.ErrorIs(t, err, audio.ErrEncoderUnavailable)

	missing, err := audio.NewEncoder(audio.DefaultParams(), "definitely-not-a-real-ffmpeg-binary -y", nil)
	require.NoError(t, err)

	_, _, err = missing.Encode(context.Background(), tone(1, 0), "flac")
	require.ErrorIs(t, err, audio.ErrEncoderUnavailable)
}

func TestEncode_CompressedFormats(t *testing.T) {
	t.Parallel()

	_, lookErr := exec.LookPath("ffmpeg")
	if lookErr != nil {
		t.Skip("ffmpeg not installed")
	}

	encoder, err := audio.NewEncoder(audio.DefaultParams(), audio.DefaultFFmpegCommand, createTestLogger(t))
	require.NoError(t, err)

	for _, format := range []string{"mp3", "flac"} {
		data, mimeType, encodeErr := encoder.Encode(context.Background(), tone(1, 0), format)
		require.NoError(t, encodeErr)
		assert.Equal(t, "audio/"+format, mimeType)
		assert.NotEmpty(t, data)
	}
}

func TestNewEncoder_RejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := audio.NewEncoder(audio.Params{SampleRate: 0, BitDepth: 16, Channels: 1}, "", nil)
	require.ErrorIs(t, err, audio.ErrInvalidParams)

	_, err = audio.NewEncoder(audio.DefaultParams(), `ffmpeg "unterminated`, nil)
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for input, expected := range map[string]audio.Format{
		"mp3":    audio.FormatMP3,
		"WAV":    audio.FormatWAV,
		" Flac ": audio.FormatFLAC,
	} {
		format, err := audio.ParseFormat(input)
		require.NoError(t, err)
		assert.Equal(t, expected, format)
	}

	_, err := audio.ParseFormat("")
	require.ErrorIs(t, err, audio.ErrUnsupportedFormat)
}

func TestConcat(t *testing.T) {
	t.Parallel()

	single := []byte{1, 2}
	joined, err := audio.Concat([][]byte{single})
	require.NoError(t, err)
	assert.Equal(t, single, joined)

	joined, err = audio.Concat([][]byte{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, joined)

	_, err = audio.Concat(nil)
	require.ErrorIs(t, err, audio.ErrNoSegments)
}

func TestParams_Duration(t *testing.T) {
	t.Parallel()

	params := audio.DefaultParams()
	assert.Equal(t, 2*time.Second, params.Duration(tone(2, 0)))
	assert.Equal(t, 2, params.FrameSize())
}
