// Package worker_test tests the NATS worker for the TTS server.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/gemini-tts-server/internal/tasks"
	"github.com/book-expert/gemini-tts-server/internal/worker"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jobSubject    = "test.synthesize"
	cancelSubject = "test.cancel"
)

var (
	errMockDownload = errors.New("mock download error")
	errMockSynth    = errors.New("mock synthesis error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	content            []byte
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return m.content, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

func (m *mockObjectStore) snapshot() (string, string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey, m.uploadedKey, m.uploadedData
}

// mockSynthesizer records requests and returns a scripted outcome. Like the
// real pipeline it unregisters the task when it returns.
type mockSynthesizer struct {
	mu       sync.Mutex
	requests []core.SynthesisRequest
	outcome  core.Outcome
	run      func(req core.SynthesisRequest) core.Outcome
	registry core.TaskRegistry
}

func (m *mockSynthesizer) Synthesize(_ context.Context, req core.SynthesisRequest) core.Outcome {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	run := m.run
	registry := m.registry
	m.mu.Unlock()

	if registry != nil {
		defer registry.Unregister(req.TaskID)
	}

	if run != nil {
		return run(req)
	}

	return m.outcome
}

func (m *mockSynthesizer) lastRequest(t *testing.T) core.SynthesisRequest {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.requests)

	return m.requests[len(m.requests)-1]
}

type fixture struct {
	worker         *worker.NatsWorker
	textStore      *mockObjectStore
	audioStore     *mockObjectStore
	synthesizer    *mockSynthesizer
	registry       *tasks.Registry
	natsConnection *nats.Conn
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T, synth *mockSynthesizer) *fixture {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	f := &fixture{
		worker:         nil,
		textStore:      &mockObjectStore{content: []byte("  Hello from the queue.  ")},
		audioStore:     &mockObjectStore{},
		synthesizer:    synth,
		registry:       tasks.NewRegistry(),
		natsConnection: natsConnection,
	}
	synth.registry = f.registry

	f.worker, err = worker.NewNatsWorker(
		natsConnection,
		worker.Options{
			Subject:       jobSubject,
			CancelSubject: cancelSubject,
			AudioFormat:   "mp3",
			DefaultVoice:  "Fenrir",
			JobTimeout:    5 * time.Second,
		},
		f.textStore, f.audioStore, synth, f.registry, testLogger,
	)
	require.NoError(t, err)

	return f
}

func startWorker(t *testing.T, f *fixture) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- f.worker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Run subscribes asynchronously; a flushed round-trip proves the interest is registered.
	require.Eventually(t, func() bool {
		_, err := f.natsConnection.Request(cancelSubject, []byte("probe"), 100*time.Millisecond)

		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func newEvent(voice string, temperature float64) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           "page-7.txt",
		PNGKey:            "",
		PageNumber:        7,
		TotalPages:        12,
		Voice:             voice,
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       temperature,
	}
}

func TestNewNatsWorker_RequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, worker.Options{}, nil, nil, nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{outcome: core.OutcomeOK([]byte("encoded audio"), "audio/mp3")}
	f := setupTest(t, synth)
	startWorker(t, f)

	testEvent := newEvent("Kore", 0.4)
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := f.natsConnection.Request(jobSubject, eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	_, uploadedKey, uploadedData := f.audioStore.snapshot()

	textKey, _, _ := f.textStore.snapshot()
	assert.Equal(t, "page-7.txt", textKey)

	req := synth.lastRequest(t)
	assert.Equal(t, testEvent.Header.WorkflowID, req.TaskID)
	assert.Equal(t, "Hello from the queue.", req.Text)
	assert.Equal(t, "Kore", req.VoiceName)
	assert.Equal(t, "mp3", req.Format)
	assert.InDelta(t, 0.4, req.Temperature, 0.0001)

	assert.Regexp(t, `^[0-9a-f-]{36}\.mp3$`, uploadedKey)
	assert.Equal(t, []byte("encoded audio"), uploadedData)
	assert.Equal(t, uploadedKey, replyEvent.AudioKey)
	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.EqualValues(t, 7, replyEvent.PageNumber)
	assert.EqualValues(t, 12, replyEvent.TotalPages)
}

func TestMessageHandler_UsesDefaultVoice(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{outcome: core.OutcomeOK([]byte("a"), "audio/mp3")}
	f := setupTest(t, synth)
	startWorker(t, f)

	eventData, err := json.Marshal(newEvent("", 1))
	require.NoError(t, err)

	_, err = f.natsConnection.Request(jobSubject, eventData, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "Fenrir", synth.lastRequest(t).VoiceName)
}

func TestMessageHandler_FailuresSendNoReply(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload func(t *testing.T) []byte
		prepare func(f *fixture)
	}{
		{
			name:    "malformed json",
			payload: func(*testing.T) []byte { return []byte("{not json") },
			prepare: func(*fixture) {},
		},
		{
			name: "missing text key",
			payload: func(t *testing.T) []byte {
				t.Helper()

				event := newEvent("Kore", 1)
				event.TextKey = ""

				data, err := json.Marshal(event)
				require.NoError(t, err)

				return data
			},
			prepare: func(*fixture) {},
		},
		{
			name: "download failure",
			payload: func(t *testing.T) []byte {
				t.Helper()

				data, err := json.Marshal(newEvent("Kore", 1))
				require.NoError(t, err)

				return data
			},
			prepare: func(f *fixture) { f.textStore.downloadShouldFail = true },
		},
		{
			name: "synthesis failure",
			payload: func(t *testing.T) []byte {
				t.Helper()

				data, err := json.Marshal(newEvent("Kore", 1))
				require.NoError(t, err)

				return data
			},
			prepare: func(f *fixture) { f.synthesizer.outcome = core.OutcomeFailed(errMockSynth) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			synth := &mockSynthesizer{outcome: core.OutcomeOK([]byte("a"), "audio/mp3")}
			f := setupTest(t, synth)
			tc.prepare(f)
			startWorker(t, f)

			_, err := f.natsConnection.Request(jobSubject, tc.payload(t), 300*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout)

			_, uploadedKey, _ := f.audioStore.snapshot()
			assert.Empty(t, uploadedKey)
			assert.Zero(t, f.registry.Len(), "failed jobs must not leak tasks")
		})
	}
}

func TestCancelSubject_CancelsRunningJob(t *testing.T) {
	t.Parallel()

	started := make(chan string, 1)
	synth := &mockSynthesizer{}
	f := setupTest(t, synth)

	synth.run = func(req core.SynthesisRequest) core.Outcome {
		started <- req.TaskID

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if f.registry.IsCancelled(req.TaskID) {
				return core.OutcomeCancelled()
			}

			time.Sleep(5 * time.Millisecond)
		}

		return core.OutcomeOK([]byte("late"), "audio/mp3")
	}

	startWorker(t, f)

	event := newEvent("Kore", 1)
	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	jobErr := make(chan error, 1)

	go func() {
		_, reqErr := f.natsConnection.Request(jobSubject, eventData, time.Second)
		jobErr <- reqErr
	}()

	select {
	case taskID := <-started:
		require.Equal(t, event.Header.WorkflowID, taskID)
	case <-time.After(3 * time.Second):
		t.Fatal("synthesis never started")
	}

	ack, err := f.natsConnection.Request(cancelSubject, []byte(event.Header.WorkflowID), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, event.Header.WorkflowID, string(ack.Data))

	require.ErrorIs(t, <-jobErr, nats.ErrTimeout, "cancelled jobs send no reply")
	assert.Zero(t, f.registry.Len())

	_, uploadedKey, _ := f.audioStore.snapshot()
	assert.Empty(t, uploadedKey)
}
