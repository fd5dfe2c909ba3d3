package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// DefaultFFmpegCommand is the transcoder used for compressed formats.
const DefaultFFmpegCommand = "ffmpeg -hide_banner -loglevel error"

const wavAudioFormatPCM = 1

// ErrEncoderUnavailable is returned when a compressed format is requested
// but no transcoder is configured or installed.
var ErrEncoderUnavailable = errors.New("audio transcoder unavailable")

// Encoder turns raw PCM into wav natively and into mp3 or flac through ffmpeg.
type Encoder struct {
	params  Params
	command []string
	log     *logger.Logger
}

// NewEncoder validates params and parses the ffmpeg command line. An empty
// command disables mp3 and flac output.
func NewEncoder(params Params, ffmpegCommand string, log *logger.Logger) (*Encoder, error) {
	paramsErr := params.Validate()
	if paramsErr != nil {
		return nil, paramsErr
	}

	args, err := shellwords.NewParser().Parse(ffmpegCommand)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}

	return &Encoder{
		params:  params,
		command: args,
		log:     log,
	}, nil
}

// Params returns the PCM layout the encoder expects.
func (e *Encoder) Params() Params {
	return e.params
}

// Encode wraps pcm in the requested container and returns the bytes and MIME type.
func (e *Encoder) Encode(ctx context.Context, pcm []byte, formatName string) ([]byte, string, error) {
	format, err := ParseFormat(formatName)
	if err != nil {
		return nil, "", err
	}

	alignErr := e.params.checkAligned(pcm)
	if alignErr != nil {
		return nil, "", alignErr
	}

	wavFile, err := os.CreateTemp("", "tts-output-*.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp file for wav output: %w", err)
	}
	defer e.removeTemp(wavFile.Name())

	writeErr := writePCMToWav(wavFile, pcm, e.params)

	closeErr := wavFile.Close()
	if writeErr != nil {
		return nil, "", writeErr
	}

	if closeErr != nil {
		return nil, "", fmt.Errorf("failed to close wav temp file: %w", closeErr)
	}

	var data []byte

	if format == FormatWAV {
		data, err = os.ReadFile(wavFile.Name())
	} else {
		data, err = e.transcode(ctx, wavFile.Name(), format)
	}

	if err != nil {
		return nil, "", err
	}

	return data, format.MIMEType(), nil
}

// transcode runs ffmpeg to convert the wav at wavPath into format.
func (e *Encoder) transcode(ctx context.Context, wavPath string, format Format) ([]byte, error) {
	if len(e.command) == 0 {
		return nil, fmt.Errorf("%w: no command configured for %s", ErrEncoderUnavailable, format)
	}

	binaryPath, err := exec.LookPath(e.command[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}

	outFile, err := os.CreateTemp("", "tts-output-*."+string(format))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s output: %w", format, err)
	}

	outPath := outFile.Name()
	_ = outFile.Close()

	defer e.removeTemp(outPath)

	args := append([]string{}, e.command[1:]...)
	args = append(args, "-y", "-i", wavPath, outPath)

	// #nosec G204 -- the binary comes from server configuration, not request input
	cmd := exec.CommandContext(ctx, binaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg execution failed: %w - output: %s", err, string(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s data from temp file: %w", format, err)
	}

	return data, nil
}

func (e *Encoder) removeTemp(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && e.log != nil {
		e.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}

func writePCMToWav(file *os.File, pcm []byte, params Params) error {
	const bytesPerSample = 2

	samples := make([]int, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: params.Channels, SampleRate: params.SampleRate},
		Data:           samples,
		SourceBitDepth: params.BitDepth,
	}

	enc := wav.NewEncoder(file, params.SampleRate, params.BitDepth, params.Channels, wavAudioFormatPCM)

	err := enc.Write(buffer)
	if err != nil {
		return fmt.Errorf("write wav: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}

	return nil
}
