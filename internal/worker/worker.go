// Package worker provides a NATS worker that runs synthesis jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultJobTimeout bounds one job from download to reply.
const DefaultJobTimeout = 10 * time.Minute

var (
	// ErrSubjectEmpty indicates that no synthesize subject was configured.
	ErrSubjectEmpty = errors.New("synthesize subject cannot be empty")
	// ErrTextKeyEmpty indicates that an event carried no text key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrEmptyText indicates that the downloaded text object was blank.
	ErrEmptyText = errors.New("downloaded text is empty")
	// ErrJobCancelled indicates that the job's task was cancelled.
	ErrJobCancelled = errors.New("job cancelled")
)

// Options configures a NatsWorker.
type Options struct {
	Subject       string
	CancelSubject string
	AudioFormat   string
	DefaultVoice  string
	JobTimeout    time.Duration
}

// NatsWorker listens for synthesis jobs on a NATS subject. Text is read from
// textStore and the encoded audio is written to audioStore.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	synthesizer    core.Synthesizer
	registry       core.TaskRegistry
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	opts Options,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	synthesizer core.Synthesizer,
	registry core.TaskRegistry,
	log *logger.Logger,
) (*NatsWorker, error) {
	if opts.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if opts.AudioFormat == "" {
		opts.AudioFormat = "wav"
	}

	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		textStore:      textStore,
		audioStore:     audioStore,
		synthesizer:    synthesizer,
		registry:       registry,
		log:            log,
	}, nil
}

// Run subscribes to the job and cancel subjects and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	var cancelSub *nats.Subscription

	if w.opts.CancelSubject != "" {
		cancelSub, err = w.natsConnection.Subscribe(w.opts.CancelSubject, w.handleCancel)
		if err != nil {
			_ = sub.Unsubscribe()

			return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.CancelSubject, err)
		}
	}

	w.log.Info("Worker listening on '%s' (cancel: '%s')", w.opts.Subject, w.opts.CancelSubject)

	<-ctx.Done()

	var drainErrs []error

	if cancelSub != nil {
		drainErrs = append(drainErrs, cancelSub.Drain())
	}

	drainErrs = append(drainErrs, sub.Drain())

	drainErr := errors.Join(drainErrs...)
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process TTS job for event %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// handleCancel treats the message payload as a task ID.
func (w *NatsWorker) handleCancel(msg *nats.Msg) {
	taskID := strings.TrimSpace(string(msg.Data))
	if taskID == "" {
		w.log.Warn("Ignoring cancel request with empty task ID")

		return
	}

	found := w.registry.Cancel(taskID)
	w.log.Info("Cancel request for task %s via NATS (active: %t)", taskID, found)

	if msg.Reply != "" {
		respondErr := msg.Respond([]byte(taskID))
		if respondErr != nil {
			w.log.Warn("Failed to acknowledge cancel for task %s: %v", taskID, respondErr)
		}
	}
}

// processJob downloads the text, synthesizes it and uploads the audio.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	taskID := event.Header.WorkflowID

	// Registered before the download so a cancel can land at any point.
	w.registry.Register(taskID)

	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		w.registry.Unregister(taskID)

		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := strings.TrimSpace(string(textData))
	if text == "" {
		w.registry.Unregister(taskID)

		return "", fmt.Errorf("%w: key '%s'", ErrEmptyText, event.TextKey)
	}

	voice := event.Voice
	if voice == "" {
		voice = w.opts.DefaultVoice
	}

	outcome := w.synthesizer.Synthesize(ctx, core.SynthesisRequest{
		TaskID:      taskID,
		Text:        text,
		VoiceName:   voice,
		Format:      w.opts.AudioFormat,
		Temperature: event.Temperature,
		ChunkSize:   0,
		Timeout:     0,
	})

	switch outcome.Status {
	case core.StatusOK:
	case core.StatusCancelled:
		return "", fmt.Errorf("%w: task %s", ErrJobCancelled, taskID)
	case core.StatusFailed:
		return "", fmt.Errorf("failed to synthesize text: %w", outcome.Err)
	}

	audioKey := uuid.NewString() + "." + strings.ToLower(w.opts.AudioFormat)

	err = w.audioStore.Upload(ctx, audioKey, outcome.Audio)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if event.Header.WorkflowID == "" {
		event.Header.WorkflowID = uuid.NewString()
	}

	return &event, nil
}
