package tts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/gemini-tts-server/internal/tasks"
	"github.com/book-expert/gemini-tts-server/internal/tts"
	"github.com/book-expert/gemini-tts-server/internal/tts/audio"
	"github.com/book-expert/gemini-tts-server/internal/voices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speechCall struct {
	text        string
	voiceID     string
	temperature float64
	timeout     time.Duration
}

// fakeSpeechClient returns two bytes of PCM per call and can run a hook
// before each call.
type fakeSpeechClient struct {
	mu       sync.Mutex
	calls    []speechCall
	failAt   int
	failWith error
	before   func(call int)
}

func (f *fakeSpeechClient) SynthesizeChunk(
	_ context.Context,
	text, voiceID string,
	temperature float64,
	timeout time.Duration,
) ([]byte, error) {
	f.mu.Lock()
	index := len(f.calls)
	f.calls = append(f.calls, speechCall{text: text, voiceID: voiceID, temperature: temperature, timeout: timeout})
	f.mu.Unlock()

	if f.before != nil {
		f.before(index)
	}

	if f.failWith != nil && index == f.failAt {
		return nil, f.failWith
	}

	return []byte{byte(index + 1), 0}, nil
}

func (f *fakeSpeechClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

// passthroughEncoder returns the PCM unchanged.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(_ context.Context, pcm []byte, format string) ([]byte, string, error) {
	parsed, err := audio.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}

	return pcm, parsed.MIMEType(), nil
}

type failingEncoder struct{}

func (failingEncoder) Encode(context.Context, []byte, string) ([]byte, string, error) {
	return nil, "", audio.ErrEncoderUnavailable
}

type recordingObserver struct {
	mu       sync.Mutex
	chunks   int
	statuses []string
}

func (r *recordingObserver) ProviderAttempt(context.Context, string) {}

func (r *recordingObserver) ChunkSynthesized(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chunks++
}

func (r *recordingObserver) SynthesisFinished(_ context.Context, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status)
}

func newTestSynthesizer(
	t *testing.T,
	speech core.SpeechClient,
	encoder core.AudioEncoder,
	registry *tasks.Registry,
	observer core.Observer,
) *tts.Synthesizer {
	t.Helper()

	return tts.NewSynthesizer(tts.SynthesizerOptions{
		DefaultChunkSize: 15,
		MaxChunkChars:    4800,
		DefaultTimeout:   30 * time.Second,
		Observer:         observer,
	}, speech, encoder, registry, voices.Default(), createTestLogger(t))
}

func threeChunkRequest(taskID string) core.SynthesisRequest {
	return core.SynthesisRequest{
		TaskID:      taskID,
		Text:        "First one here. Second one now. Third and last.",
		VoiceName:   "Fenrir",
		Format:      "wav",
		Temperature: 1.0,
		ChunkSize:   16,
		Timeout:     0,
	}
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	speech := &fakeSpeechClient{}
	registry := tasks.NewRegistry()
	observer := &recordingObserver{}
	synth := newTestSynthesizer(t, speech, passthroughEncoder{}, registry, observer)

	registry.Register("task-ok")

	outcome := synth.Synthesize(context.Background(), threeChunkRequest("task-ok"))

	require.Equal(t, core.StatusOK, outcome.Status, "err: %v", outcome.Err)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, outcome.Audio)
	assert.Equal(t, "audio/wav", outcome.MIMEType)

	require.Equal(t, 3, speech.callCount())
	assert.Equal(t, "First one here.", speech.calls[0].text)
	assert.Equal(t, "Fenrir", speech.calls[0].voiceID)
	assert.Equal(t, 30*time.Second, speech.calls[0].timeout)

	assert.Equal(t, 0, registry.Len(), "task must be unregistered")
	assert.Equal(t, 3, observer.chunks)
	assert.Equal(t, []string{"ok"}, observer.statuses)
}

func TestSynthesize_PreCancelledMakesNoCalls(t *testing.T) {
	t.Parallel()

	speech := &fakeSpeechClient{}
	registry := tasks.NewRegistry()
	synth := newTestSynthesizer(t, speech, passthroughEncoder{}, registry, nil)

	registry.Register("task-x")
	require.True(t, registry.Cancel("task-x"))

	outcome := synth.Synthesize(context.Background(), threeChunkRequest("task-x"))

	assert.Equal(t, core.StatusCancelled, outcome.Status)
	assert.Nil(t, outcome.Audio)
	assert.Equal(t, 0, speech.callCount())
	assert.Equal(t, 0, registry.Len())
}

func TestSynthesize_CancelledBetweenChunks(t *testing.T) {
	t.Parallel()

	registry := tasks.NewRegistry()
	speech := &fakeSpeechClient{
		before: func(call int) {
			if call == 1 {
				registry.Cancel("task-mid")
			}
		},
	}
	synth := newTestSynthesizer(t, speech, passthroughEncoder{}, registry, nil)

	registry.Register("task-mid")

	outcome := synth.Synthesize(context.Background(), threeChunkRequest("task-mid"))

	assert.Equal(t, core.StatusCancelled, outcome.Status)
	assert.Nil(t, outcome.Audio)
	assert.Equal(t, 2, speech.callCount(), "the in-flight chunk completes but the third never starts")
	assert.Equal(t, 0, registry.Len())
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	t.Parallel()

	speech := &fakeSpeechClient{}
	synth := newTestSynthesizer(t, speech, passthroughEncoder{}, tasks.NewRegistry(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := synth.Synthesize(ctx, threeChunkRequest(""))

	assert.Equal(t, core.StatusCancelled, outcome.Status)
	assert.Equal(t, 0, speech.callCount())
}

func TestSynthesize_ChunkFailurePreservesKind(t *testing.T) {
	t.Parallel()

	speech := &fakeSpeechClient{
		failAt:   1,
		failWith: tts.NewError(tts.KindAuthorization, "test", "Permission denied"),
	}
	registry := tasks.NewRegistry()
	synth := newTestSynthesizer(t, speech, passthroughEncoder{}, registry, nil)

	registry.Register("task-fail")

	outcome := synth.Synthesize(context.Background(), threeChunkRequest("task-fail"))

	require.Equal(t, core.StatusFailed, outcome.Status)
	assert.Equal(t, tts.KindAuthorization, tts.KindOf(outcome.Err))

	var chunkErr *tts.ChunkError
	require.ErrorAs(t, outcome.Err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, 3, chunkErr.Total)
	assert.Equal(t, 2, speech.callCount())
	assert.Equal(t, 0, registry.Len())
}

func TestSynthesize_ValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(req *core.SynthesisRequest)
	}{
		{name: "blank text", mutate: func(req *core.SynthesisRequest) { req.Text = "   \n " }},
		{name: "unsupported format", mutate: func(req *core.SynthesisRequest) { req.Format = "ogg" }},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			speech := &fakeSpeechClient{}
			registry := tasks.NewRegistry()
			synth := newTestSynthesizer(t, speech, passthroughEncoder{}, registry, nil)

			req := threeChunkRequest("task-v")
			testCase.mutate(&req)
			registry.Register(req.TaskID)

			outcome := synth.Synthesize(context.Background(), req)

			require.Equal(t, core.StatusFailed, outcome.Status)
			assert.Equal(t, tts.KindValidation, tts.KindOf(outcome.Err))
			assert.Equal(t, 0, speech.callCount())
			assert.Equal(t, 0, registry.Len())
		})
	}
}

func TestSynthesize_ClampsTemperatureAndChunkCeiling(t *testing.T) {
	t.Parallel()

	speech := &fakeSpeechClient{}
	synth := tts.NewSynthesizer(tts.SynthesizerOptions{
		DefaultChunkSize: 1500,
		MaxChunkChars:    10,
		DefaultTimeout:   time.Second,
		Observer:         nil,
	}, speech, passthroughEncoder{}, tasks.NewRegistry(), voices.Default(), createTestLogger(t))

	outcome := synth.Synthesize(context.Background(), core.SynthesisRequest{
		TaskID:      "",
		Text:        "abcdefghijklmnopqrst",
		VoiceName:   "Custom-Voice",
		Format:      "WAV",
		Temperature: 5,
		ChunkSize:   1000,
		Timeout:     2 * time.Second,
	})

	require.Equal(t, core.StatusOK, outcome.Status)
	require.Equal(t, 2, speech.callCount())
	assert.Equal(t, "abcdefghij", speech.calls[0].text)
	assert.InDelta(t, 2.0, speech.calls[0].temperature, 0.0001)
	assert.Equal(t, "Custom-Voice", speech.calls[0].voiceID, "unknown names pass through")
	assert.Equal(t, 2*time.Second, speech.calls[0].timeout)
}

func TestSynthesize_EncodingFailure(t *testing.T) {
	t.Parallel()

	synth := newTestSynthesizer(t, &fakeSpeechClient{}, failingEncoder{}, tasks.NewRegistry(), nil)

	outcome := synth.Synthesize(context.Background(), threeChunkRequest(""))

	require.Equal(t, core.StatusFailed, outcome.Status)
	assert.Equal(t, tts.KindEncoding, tts.KindOf(outcome.Err))
	assert.True(t, errors.Is(outcome.Err, audio.ErrEncoderUnavailable))
}

func TestSynthesize_WithRealEncoder(t *testing.T) {
	t.Parallel()

	encoder, err := audio.NewEncoder(audio.DefaultParams(), "", createTestLogger(t))
	require.NoError(t, err)

	synth := newTestSynthesizer(t, &fakeSpeechClient{}, encoder, tasks.NewRegistry(), nil)

	outcome := synth.Synthesize(context.Background(), threeChunkRequest(""))

	require.Equal(t, core.StatusOK, outcome.Status, "err: %v", outcome.Err)
	assert.Equal(t, "audio/wav", outcome.MIMEType)
	assert.Equal(t, "RIFF", string(outcome.Audio[:4]))
}
