package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/fmueller/whisperapi/internal/logging"
	"github.com/fmueller/whisperapi/internal/ratelimit"
	"github.com/fmueller/whisperapi/internal/whisper"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type HTTPConfig struct {
	Address           string        `yaml:"address"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	MultipartMemory   int64         `yaml:"multipart_memory"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type RateLimitConfig struct {
	TokenLimit          int           `yaml:"token_limit"`
	TokensPerPeriod     int           `yaml:"tokens_per_period"`
	ReplenishmentPeriod time.Duration `yaml:"replenishment_period"`
	QueueLimit          int           `yaml:"queue_limit"`
	AutoReplenishment   bool          `yaml:"auto_replenishment"`
}

// WhisperConfig locates the engine and its weights. Empty directories are
// filled from platform defaults by the caller.
type WhisperConfig struct {
	Executable           string  `yaml:"executable"`
	ModelDir             string  `yaml:"model_dir"`
	AudioDir             string  `yaml:"audio_dir"`
	DefaultModel         string  `yaml:"default_model"`
	AutoDownload         bool    `yaml:"auto_download"`
	Threads              int     `yaml:"threads"`
	SilenceGate          bool    `yaml:"silence_gate"`
	SilenceThresholdDBFS float64 `yaml:"silence_threshold_dbfs"`
}

type FFmpegConfig struct {
	Executable string `yaml:"executable"`
	SampleRate int    `yaml:"sample_rate"`
}

// TimeoutsConfig bounds each external step. Zero disables a bound.
type TimeoutsConfig struct {
	Provision  time.Duration `yaml:"provision"`
	Convert    time.Duration `yaml:"convert"`
	Transcribe time.Duration `yaml:"transcribe"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:           ":8080",
			MaxUploadBytes:    512 << 20,
			MultipartMemory:   1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			TokenLimit:          10,
			TokensPerPeriod:     2,
			ReplenishmentPeriod: 10 * time.Second,
			QueueLimit:          5,
			AutoReplenishment:   true,
		},
		Whisper: WhisperConfig{
			DefaultModel:         whisper.DefaultModel,
			AutoDownload:         true,
			SilenceThresholdDBFS: -65,
		},
		FFmpeg: FFmpegConfig{
			Executable: "ffmpeg",
			SampleRate: 16000,
		},
		Timeouts: TimeoutsConfig{
			Provision:  30 * time.Minute,
			Convert:    5 * time.Minute,
			Transcribe: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over Default and validates the result. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadOptional is Load, but a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return &cfg, nil
	}
	return Load(path)
}

func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit config: %w", err)
	}
	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}
	if err := c.FFmpeg.Validate(); err != nil {
		return fmt.Errorf("ffmpeg config: %w", err)
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (h HTTPConfig) Validate() error {
	if strings.TrimSpace(h.Address) == "" {
		return errors.New("address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(h.Address); err != nil {
		return fmt.Errorf("address %q: %w", h.Address, err)
	}
	if h.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if h.MultipartMemory <= 0 {
		return errors.New("multipart_memory must be positive")
	}
	if h.ReadHeaderTimeout < 0 || h.ShutdownTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

func (r RateLimitConfig) Options() ratelimit.Options {
	return ratelimit.Options{
		TokenLimit:          r.TokenLimit,
		TokensPerPeriod:     r.TokensPerPeriod,
		ReplenishmentPeriod: r.ReplenishmentPeriod,
		QueueLimit:          r.QueueLimit,
		AutoReplenishment:   r.AutoReplenishment,
	}
}

func (r RateLimitConfig) Validate() error {
	return r.Options().Validate()
}

func (w WhisperConfig) Validate() error {
	if _, err := whisper.ParseModel(w.DefaultModel); err != nil {
		return fmt.Errorf("default_model: %w", err)
	}
	if w.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", w.Threads)
	}
	if w.SilenceThresholdDBFS > 0 {
		return fmt.Errorf("silence_threshold_dbfs must be at most 0, got %g", w.SilenceThresholdDBFS)
	}
	return nil
}

func (f FFmpegConfig) Validate() error {
	if strings.TrimSpace(f.Executable) == "" {
		return errors.New("executable cannot be empty")
	}
	if f.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", f.SampleRate)
	}
	return nil
}

func (t TimeoutsConfig) Validate() error {
	if t.Provision < 0 || t.Convert < 0 || t.Transcribe < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

func (l LoggingConfig) Validate() error {
	if _, err := logging.ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("format must be console or json, got %q", l.Format)
	}
}

func (l LoggingConfig) Options(verbose bool) logging.Options {
	return logging.Options{Level: l.Level, Verbose: verbose, JSON: l.Format == "json"}
}
