// main package for the tts-client
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/apiclient"
	"github.com/book-expert/gemini-tts-server/internal/server"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Flag descriptions.
const (
	flagServerDesc      = "Base URL of the tts-server"
	flagTextDesc        = "Text to convert to speech"
	flagFileDesc        = "Read the text from this file ('-' for stdin)"
	flagVoiceDesc       = "Voice display name"
	flagFormatDesc      = "Audio format: mp3, wav or flac"
	flagOutputDesc      = "Output file path (defaults to output.<format>)"
	flagCancelDesc      = "Cancel the task with this ID and exit"
	flagHealthDesc      = "Check server health and exit"
	flagTaskIDDesc      = "Task ID to use (generated when empty)"
	flagTemperatureDesc = "Sampling temperature (server default when unset)"
	flagStyleDesc       = "Style prompt prepended to the text"
	flagChunkSizeDesc   = "Chunk size in characters (server default when 0)"
	flagTimeoutDesc     = "Overall request timeout"
	flagLogDirDesc      = "Directory for the client log file"
)

// Error and log messages.
const (
	errEitherTextOrFile   = "either --text or --file must be provided"
	errCannotSpecifyBoth  = "cannot specify both --text and --file"
	errFailedToInitLogger = "failed to initialize logger: %w"
	errFailedToReadText   = "failed to read text from %s: %w"
	errFailedToSynthesize = "failed to synthesize: %w"
	errFailedToWrite      = "failed to write %s: %w"
	errHealthCheckFailed  = "Health check failed: %v"
	errServiceNotHealthy  = "TTS server is not healthy: %v\n"
	msgServiceHealthy     = "TTS server is healthy (active tasks: %d)\n"
	msgCancelled          = "%s: %s\n"
	msgGenerated          = "Generated: %s (%s, task %s)\n"
	logFileName           = "tts-client.log"
	defaultOutputBase     = "output"
)

var (
	// ErrMissingInput indicates that neither --text nor --file was given.
	ErrMissingInput = errors.New(errEitherTextOrFile)
	// ErrConflictingInput indicates that both --text and --file were given.
	ErrConflictingInput = errors.New(errCannotSpecifyBoth)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server      string
	text        string
	file        string
	voice       string
	format      string
	output      string
	cancel      string
	health      bool
	taskID      string
	temperature float64
	stylePrompt string
	chunkSize   int
	timeout     time.Duration
	logDir      string
}

func newRootCommand() *cobra.Command {
	flags := &appFlags{}

	cmd := &cobra.Command{
		Use:          "tts-client",
		Short:        "Command-line client for the Gemini tts-server",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.server, "server", "http://127.0.0.1:8008", flagServerDesc)
	cmd.Flags().StringVarP(&flags.text, "text", "t", "", flagTextDesc)
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", flagFileDesc)
	cmd.Flags().StringVarP(&flags.voice, "voice", "v", "Fenrir", flagVoiceDesc)
	cmd.Flags().StringVar(&flags.format, "format", "wav", flagFormatDesc)
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", flagOutputDesc)
	cmd.Flags().StringVar(&flags.cancel, "cancel", "", flagCancelDesc)
	cmd.Flags().BoolVar(&flags.health, "health", false, flagHealthDesc)
	cmd.Flags().StringVar(&flags.taskID, "task-id", "", flagTaskIDDesc)
	cmd.Flags().Float64Var(&flags.temperature, "temperature", 1.0, flagTemperatureDesc)
	cmd.Flags().StringVar(&flags.stylePrompt, "style-prompt", "", flagStyleDesc)
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", 0, flagChunkSizeDesc)
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, flagTimeoutDesc)
	cmd.Flags().StringVar(&flags.logDir, "log-dir", os.TempDir(), flagLogDirDesc)

	return cmd
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to health, cancel or synthesis.
func run(cmd *cobra.Command, flags *appFlags) error {
	log, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	client := apiclient.New(flags.server, flags.timeout)
	out := cmd.OutOrStdout()

	switch {
	case flags.health:
		return handleHealthCheck(ctx, client, log, out)
	case flags.cancel != "":
		return handleCancel(ctx, client, log, out, flags.cancel)
	}

	req, err := buildRequest(cmd, flags)
	if err != nil {
		log.Error("%v", err)

		return err
	}

	return handleSynthesis(ctx, client, log, out, req, outputPath(flags))
}

// handleHealthCheck performs a server health check and prints the result.
func handleHealthCheck(ctx context.Context, client *apiclient.Client, log *logger.Logger, out io.Writer) error {
	health, err := client.HealthCheck(ctx)
	if err != nil {
		log.Error(errHealthCheckFailed, err)
		fmt.Fprintf(out, errServiceNotHealthy, err)

		return err
	}

	fmt.Fprintf(out, msgServiceHealthy, health.ActiveTasks)

	return nil
}

func handleCancel(ctx context.Context, client *apiclient.Client, log *logger.Logger, out io.Writer, taskID string) error {
	resp, err := client.Cancel(ctx, taskID)
	if err != nil {
		log.Error("Cancel of task %s failed: %v", taskID, err)

		return err
	}

	log.Info("Cancelled task %s", resp.TaskID)
	fmt.Fprintf(out, msgCancelled, resp.Message, resp.TaskID)

	return nil
}

func handleSynthesis(
	ctx context.Context,
	client *apiclient.Client,
	log *logger.Logger,
	out io.Writer,
	req server.SynthesizeRequest,
	path string,
) error {
	log.Info("Synthesizing task %s to %s (voice %s, format %s)", req.TaskID, path, req.VoiceName, req.AudioFormat)

	audio, err := client.Synthesize(ctx, req)
	if err != nil {
		log.Error("Task %s failed: %v", req.TaskID, err)

		return fmt.Errorf(errFailedToSynthesize, err)
	}

	err = os.WriteFile(path, audio.Data, 0o600)
	if err != nil {
		return fmt.Errorf(errFailedToWrite, path, err)
	}

	log.Info("Successfully generated speech: %s", path)
	fmt.Fprintf(out, msgGenerated, path, describeAudio(audio.MIMEType, audio.Data), audio.TaskID)

	return nil
}

// buildRequest validates the input flags and assembles the API request.
func buildRequest(cmd *cobra.Command, flags *appFlags) (server.SynthesizeRequest, error) {
	if flags.text == "" && flags.file == "" {
		return server.SynthesizeRequest{}, ErrMissingInput
	}

	if flags.text != "" && flags.file != "" {
		return server.SynthesizeRequest{}, ErrConflictingInput
	}

	text := flags.text
	if flags.file != "" {
		data, err := readText(cmd.InOrStdin(), flags.file)
		if err != nil {
			return server.SynthesizeRequest{}, fmt.Errorf(errFailedToReadText, flags.file, err)
		}

		text = string(data)
	}

	taskID := flags.taskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	req := server.SynthesizeRequest{
		TaskID:            taskID,
		Text:              text,
		VoiceName:         flags.voice,
		AudioFormat:       strings.ToLower(flags.format),
		Temperature:       nil,
		StylePrompt:       nil,
		ChunkSizeChars:    flags.chunkSize,
		APITimeoutSeconds: nil,
	}

	if cmd.Flags().Changed("temperature") {
		temperature := flags.temperature
		req.Temperature = &temperature
	}

	if flags.stylePrompt != "" {
		prompt := flags.stylePrompt
		req.StylePrompt = &prompt
	}

	return req, nil
}

func readText(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}

	return os.ReadFile(filepath.Clean(path))
}

func outputPath(flags *appFlags) string {
	if flags.output != "" {
		return flags.output
	}

	return defaultOutputBase + "." + strings.ToLower(flags.format)
}
