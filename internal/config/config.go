// Package config provides the configuration structure for the gemini-tts-server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	errFmtPortRange       = "%w: server.port must be between 1 and 65535, got %d"
	errFmtSampleRate      = "%w: audio.sample_rate must be positive, got %d"
	errFmtChunkLimit      = "%w: defaults.max_chunk_chars_api_limit must be positive, got %d"
	errFmtChunkSize       = "%w: defaults.chunk_size_chars must be positive, got %d"
	errFmtTimeout         = "%w: defaults.api_timeout_seconds must be positive, got %d"
	errFmtTemperature     = "%w: defaults.temperature must be within [0, 2], got %.2f"
	errFmtAudioFormat     = "%w: defaults.audio_format must be mp3, wav or flac, got %q"
	errFmtMaxAttempts     = "%w: gemini.max_attempts must be at least 1, got %d"
	errFmtBackoff         = "%w: gemini.base_backoff_ms must not be negative, got %d"
	errFmtMaxTextChars    = "%w: defaults.max_text_chars must not be negative, got %d"
	errFmtMissingSubjects = "%w: nats.synthesize_subject is required when nats.url is set"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	StaticDir              string   `toml:"static_dir"`
	OpenBrowser            bool     `toml:"open_browser"`
	CORSAllowOrigins       []string `toml:"cors_allow_origins"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// GeminiConfig holds the provider settings.
type GeminiConfig struct {
	APIKeyEnvVar  string `toml:"api_key_env_var"`
	Model         string `toml:"model"`
	BaseURL       string `toml:"base_url"`
	UserAgent     string `toml:"user_agent"`
	MaxAttempts   int    `toml:"max_attempts"`
	BaseBackoffMS int    `toml:"base_backoff_ms"`
}

// AudioConfig holds the PCM layout and the transcoder command line.
type AudioConfig struct {
	SampleRate    int    `toml:"sample_rate"`
	FFmpegCommand string `toml:"ffmpeg_command"`
}

// DefaultsConfig holds request defaults and the values served to the frontend.
type DefaultsConfig struct {
	Temperature           float64 `toml:"temperature"`
	ChunkSizeChars        int     `toml:"chunk_size_chars"`
	APITimeoutSeconds     int     `toml:"api_timeout_seconds"`
	AudioFormat           string  `toml:"audio_format"`
	VoiceDisplayName      string  `toml:"voice_display_name"`
	MaxChunkCharsAPILimit int     `toml:"max_chunk_chars_api_limit"`
	Theme                 string  `toml:"theme"`
	StylePrompt           string  `toml:"style_prompt"`
	MaxTextChars          int     `toml:"max_text_chars"`
}

// NATSConfig holds the configuration for the optional NATS job surface.
// An empty URL disables it.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesizeSubject      string `toml:"synthesize_subject"`
	CancelSubject          string `toml:"cancel_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	EnvFile     string `toml:"env_file"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Audio    AudioConfig    `toml:"audio"`
	Defaults DefaultsConfig `toml:"defaults"`
	NATS     NATSConfig     `toml:"nats"`
	Paths    PathsConfig    `toml:"paths"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   8008,
			StaticDir:              "static",
			OpenBrowser:            false,
			CORSAllowOrigins:       []string{"*"},
			ShutdownTimeoutSeconds: 10,
		},
		Gemini: GeminiConfig{
			APIKeyEnvVar:  "GEMINI_API_KEY",
			Model:         "gemini-2.5-flash-preview-tts",
			BaseURL:       "",
			UserAgent:     "Gemini-TTS-Server/1.0",
			MaxAttempts:   3,
			BaseBackoffMS: 1000,
		},
		Audio: AudioConfig{
			SampleRate:    24000,
			FFmpegCommand: "ffmpeg -hide_banner -loglevel error",
		},
		Defaults: DefaultsConfig{
			Temperature:           1.0,
			ChunkSizeChars:        1500,
			APITimeoutSeconds:     60,
			AudioFormat:           "wav",
			VoiceDisplayName:      "Fenrir",
			MaxChunkCharsAPILimit: 4800,
			Theme:                 "dark",
			StylePrompt:           "Read aloud in a warm and friendly tone:",
			MaxTextChars:          20000,
		},
		NATS: NATSConfig{
			URL:                    "",
			SynthesizeSubject:      "tts.synthesize",
			CancelSubject:          "tts.cancel",
			AudioObjectStoreBucket: "AUDIO_FILES",
			TextObjectStoreBucket:  "TEXT_FILES",
		},
		Paths: PathsConfig{
			BaseLogsDir: "logs",
			EnvFile:     ".env",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			ServiceName: "gemini-tts-server",
		},
	}
}

// Load loads the configuration through the shared configurator.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFile reads a TOML file over the built-in defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return nil
}

// ApplyDefaults fills empty or zero fields from Default. Temperature and
// boolean toggles are left alone because their zero values are meaningful.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	setString(&c.Server.Host, defaults.Server.Host)
	setInt(&c.Server.Port, defaults.Server.Port)
	setInt(&c.Server.ShutdownTimeoutSeconds, defaults.Server.ShutdownTimeoutSeconds)

	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = defaults.Server.CORSAllowOrigins
	}

	setString(&c.Gemini.APIKeyEnvVar, defaults.Gemini.APIKeyEnvVar)
	setString(&c.Gemini.Model, defaults.Gemini.Model)
	setString(&c.Gemini.UserAgent, defaults.Gemini.UserAgent)
	setInt(&c.Gemini.MaxAttempts, defaults.Gemini.MaxAttempts)

	setInt(&c.Audio.SampleRate, defaults.Audio.SampleRate)

	setInt(&c.Defaults.ChunkSizeChars, defaults.Defaults.ChunkSizeChars)
	setInt(&c.Defaults.APITimeoutSeconds, defaults.Defaults.APITimeoutSeconds)
	setString(&c.Defaults.AudioFormat, defaults.Defaults.AudioFormat)
	setString(&c.Defaults.VoiceDisplayName, defaults.Defaults.VoiceDisplayName)
	setInt(&c.Defaults.MaxChunkCharsAPILimit, defaults.Defaults.MaxChunkCharsAPILimit)
	setString(&c.Defaults.Theme, defaults.Defaults.Theme)

	setString(&c.NATS.SynthesizeSubject, defaults.NATS.SynthesizeSubject)
	setString(&c.NATS.CancelSubject, defaults.NATS.CancelSubject)
	setString(&c.NATS.AudioObjectStoreBucket, defaults.NATS.AudioObjectStoreBucket)
	setString(&c.NATS.TextObjectStoreBucket, defaults.NATS.TextObjectStoreBucket)

	setString(&c.Paths.BaseLogsDir, defaults.Paths.BaseLogsDir)
	setString(&c.Metrics.ServiceName, defaults.Metrics.ServiceName)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf(errFmtPortRange, ErrInvalidConfig, c.Server.Port))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf(errFmtSampleRate, ErrInvalidConfig, c.Audio.SampleRate))
	}

	if c.Defaults.MaxChunkCharsAPILimit <= 0 {
		errs = append(errs, fmt.Errorf(errFmtChunkLimit, ErrInvalidConfig, c.Defaults.MaxChunkCharsAPILimit))
	}

	if c.Defaults.ChunkSizeChars <= 0 {
		errs = append(errs, fmt.Errorf(errFmtChunkSize, ErrInvalidConfig, c.Defaults.ChunkSizeChars))
	}

	if c.Defaults.APITimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf(errFmtTimeout, ErrInvalidConfig, c.Defaults.APITimeoutSeconds))
	}

	if c.Defaults.Temperature < 0 || c.Defaults.Temperature > 2 {
		errs = append(errs, fmt.Errorf(errFmtTemperature, ErrInvalidConfig, c.Defaults.Temperature))
	}

	switch strings.ToLower(c.Defaults.AudioFormat) {
	case "mp3", "wav", "flac":
	default:
		errs = append(errs, fmt.Errorf(errFmtAudioFormat, ErrInvalidConfig, c.Defaults.AudioFormat))
	}

	if c.Defaults.MaxTextChars < 0 {
		errs = append(errs, fmt.Errorf(errFmtMaxTextChars, ErrInvalidConfig, c.Defaults.MaxTextChars))
	}

	if c.Gemini.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf(errFmtMaxAttempts, ErrInvalidConfig, c.Gemini.MaxAttempts))
	}

	if c.Gemini.BaseBackoffMS < 0 {
		errs = append(errs, fmt.Errorf(errFmtBackoff, ErrInvalidConfig, c.Gemini.BaseBackoffMS))
	}

	if c.NATS.URL != "" && c.NATS.SynthesizeSubject == "" {
		errs = append(errs, fmt.Errorf(errFmtMissingSubjects, ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BrowserURL returns the URL opened after startup. Wildcard hosts are
// replaced by localhost.
func (s ServerConfig) BrowserURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// BaseBackoff returns the retry base delay.
func (g GeminiConfig) BaseBackoff() time.Duration {
	return time.Duration(g.BaseBackoffMS) * time.Millisecond
}

// APITimeout returns the default per-attempt timeout.
func (d DefaultsConfig) APITimeout() time.Duration {
	return time.Duration(d.APITimeoutSeconds) * time.Second
}

func setString(target *string, fallback string) {
	if strings.TrimSpace(*target) == "" {
		*target = fallback
	}
}

func setInt(target *int, fallback int) {
	if *target == 0 {
		*target = fallback
	}
}
