package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/config"
	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/book-expert/gemini-tts-server/internal/metrics"
	"github.com/book-expert/gemini-tts-server/internal/objectstore"
	"github.com/book-expert/gemini-tts-server/internal/server"
	"github.com/book-expert/gemini-tts-server/internal/tasks"
	"github.com/book-expert/gemini-tts-server/internal/tts"
	"github.com/book-expert/gemini-tts-server/internal/tts/audio"
	"github.com/book-expert/gemini-tts-server/internal/voices"
	"github.com/book-expert/gemini-tts-server/internal/worker"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const (
	bootstrapLogFile  = "tts-server-bootstrap.log"
	serverLogFile     = "tts-server.log"
	readHeaderTimeout = 10 * time.Second
	browserDelay      = 2500 * time.Millisecond
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// loadConfig reads --config when given; otherwise the shared configurator is
// tried and the built-in defaults are used if it has nothing for us.
func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	cfg, err := config.Load(log)
	if err != nil {
		log.Warn("Configurator unavailable (%v); using built-in defaults.", err)

		defaults := config.Default()

		return &defaults, nil
	}

	return cfg, nil
}

func applyFlags(cmd *cobra.Command, flags *serverFlags, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = flags.host
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flags.port
	}

	if cmd.Flags().Changed("open-browser") {
		cfg.Server.OpenBrowser = flags.openBrowser
	}
}

func run(parent context.Context, cmd *cobra.Command, flags *serverFlags) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Bootstrap logger until the configured log directory is known.
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Configuration, flag overrides, .env and validation.
	cfg, err := loadConfig(flags.configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	applyFlags(cmd, flags, cfg)

	err = config.LoadEnvFile(cfg.Paths.EnvFile)
	if err != nil {
		bootstrapLog.Warn("%v", err)
	}

	err = cfg.Validate()
	if err != nil {
		bootstrapLog.Error("Invalid configuration: %v", err)

		return err
	}

	// 3. Final logger.
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serverLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := tasks.NewRegistry()
	catalog := voices.Default()

	var (
		observer       core.Observer
		metricsHandler http.Handler
	)

	if cfg.Metrics.Enabled {
		recorder, err := metrics.New(cfg.Metrics.ServiceName)
		if err != nil {
			return err
		}

		defer func() {
			shutdownErr := recorder.Shutdown(context.Background())
			if shutdownErr != nil {
				log.Warn("Failed to shut down metrics: %v", shutdownErr)
			}
		}()

		err = recorder.ObserveActiveTasks(registry.Len)
		if err != nil {
			return err
		}

		observer = recorder
		metricsHandler = recorder.Handler()
	}

	synthesizer, err := buildSynthesizer(cfg, registry, catalog, observer, log)
	if err != nil {
		return err
	}

	workerErrs := make(chan error, 1)

	if cfg.NATS.URL != "" {
		closeNATS, natsErr := startWorker(ctx, cfg, synthesizer, registry, log, workerErrs)
		if natsErr != nil {
			return natsErr
		}

		defer closeNATS()
	}

	gin.SetMode(gin.ReleaseMode)

	router := server.BuildRouter(server.RouterOptions{
		StaticDir:        cfg.Server.StaticDir,
		CORSAllowOrigins: cfg.Server.CORSAllowOrigins,
		Logger:           log,
	})
	server.NewHandlers(synthesizer, registry, catalog, cfg.Defaults, metricsHandler, log).Register(router)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router.Engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErrs := make(chan error, 1)

	go func() {
		serverErrs <- httpServer.ListenAndServe()
	}()

	log.System("Gemini TTS server listening on %s (model %s, voices %d)",
		httpServer.Addr, cfg.Gemini.Model, catalog.Len())

	if cfg.Server.OpenBrowser {
		go openBrowserAfter(ctx, browserDelay, cfg.Server.BrowserURL(), log)
	}

	select {
	case <-ctx.Done():
		log.Info("Shutdown requested.")
	case err = <-serverErrs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case err = <-workerErrs:
		log.Error("NATS worker stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.System("Server stopped.")

	return nil
}

func buildSynthesizer(
	cfg *config.Config,
	registry core.TaskRegistry,
	catalog *voices.Catalog,
	observer core.Observer,
	log *logger.Logger,
) (*tts.Synthesizer, error) {
	params := audio.DefaultParams()
	params.SampleRate = cfg.Audio.SampleRate

	encoder, err := audio.NewEncoder(params, cfg.Audio.FFmpegCommand, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio encoder: %w", err)
	}

	speech := tts.NewGeminiClient(tts.GeminiOptions{
		APIKeyEnvVar: cfg.Gemini.APIKeyEnvVar,
		Model:        cfg.Gemini.Model,
		BaseURL:      cfg.Gemini.BaseURL,
		UserAgent:    cfg.Gemini.UserAgent,
		HTTPClient:   nil,
		Retry: tts.RetryPolicy{
			MaxAttempts: cfg.Gemini.MaxAttempts,
			BaseDelay:   cfg.Gemini.BaseBackoff(),
			Sleep:       nil,
			OnRetry:     nil,
		},
		Observer:  observer,
		LookupEnv: nil,
	}, log)

	return tts.NewSynthesizer(tts.SynthesizerOptions{
		DefaultChunkSize: cfg.Defaults.ChunkSizeChars,
		MaxChunkChars:    cfg.Defaults.MaxChunkCharsAPILimit,
		DefaultTimeout:   cfg.Defaults.APITimeout(),
		Observer:         observer,
	}, speech, encoder, registry, catalog, log), nil
}

// startWorker connects to NATS, binds both buckets and runs the worker until
// ctx is done. The returned func closes the connection.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	synthesizer core.Synthesizer,
	registry core.TaskRegistry,
	log *logger.Logger,
	errs chan<- error,
) (func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Metrics.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:       cfg.NATS.SynthesizeSubject,
		CancelSubject: cfg.NATS.CancelSubject,
		AudioFormat:   cfg.Defaults.AudioFormat,
		DefaultVoice:  cfg.Defaults.VoiceDisplayName,
		JobTimeout:    0,
	}, textStore, audioStore, synthesizer, registry, log)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	go func() {
		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			errs <- runErr
		}
	}()

	return natsConnection.Close, nil
}
