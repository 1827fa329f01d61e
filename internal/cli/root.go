package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fmueller/whisperapi/internal/config"
	"github.com/fmueller/whisperapi/internal/logging"
	"github.com/fmueller/whisperapi/internal/platform"
	"github.com/fmueller/whisperapi/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	httpClient *http.Client
	serveFn    func(ctx context.Context, cfg *config.Config) error
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{out: os.Stdout})
}

func newRootCmd(app *appState) *cobra.Command {
	if app.serveFn == nil {
		app.serveFn = app.runServer
	}

	cmd := &cobra.Command{
		Use:           "whisperapi",
		Short:         "Speech-to-text HTTP service backed by whisper.cpp",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(app.configPath)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Options(app.verbose))
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.cfg = cfg
			app.logger = logger
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", app.configPath, "Path to a YAML config file (default: platform config dir, if present)")
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.Load(path)
	}

	env, err := platform.CurrentEnv()
	if err != nil {
		return config.Load("")
	}
	defaultPath, err := env.ConfigFile()
	if err != nil {
		return config.Load("")
	}
	return config.LoadOptional(defaultPath)
}

// Flags shared by the commands that build a transcription pipeline.
func bindEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("whisper-path", "", "Path to the whisper-cli executable")
	f.String("ffmpeg-path", "", "Path to the ffmpeg executable")
	f.String("model-dir", "", "Directory where models are stored")
	f.String("audio-dir", "", "Directory for temporary audio files")
	f.Bool("auto-download", true, "Automatically download missing models")
	f.Int("threads", 0, "Threads passed to whisper-cli; 0 keeps its default")
	f.Bool("silence-gate", false, "Skip transcription of near-silent audio")
	f.Float64("silence-threshold-dbfs", -65, "Silence gate threshold in dBFS")
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	var errs []error
	str := func(name string, dst *string) {
		if changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("address", &cfg.HTTP.Address)
	str("whisper-path", &cfg.Whisper.Executable)
	str("ffmpeg-path", &cfg.FFmpeg.Executable)
	str("model-dir", &cfg.Whisper.ModelDir)
	str("audio-dir", &cfg.Whisper.AudioDir)
	str("default-model", &cfg.Whisper.DefaultModel)
	str("log-level", &cfg.Logging.Level)
	boolean("auto-download", &cfg.Whisper.AutoDownload)
	boolean("silence-gate", &cfg.Whisper.SilenceGate)

	if changed("threads") {
		v, err := flags.GetInt("threads")
		errs = append(errs, err)
		cfg.Whisper.Threads = v
	}
	if changed("silence-threshold-dbfs") {
		v, err := flags.GetFloat64("silence-threshold-dbfs")
		errs = append(errs, err)
		cfg.Whisper.SilenceThresholdDBFS = v
	}
	if changed("json") {
		v, err := flags.GetBool("json")
		errs = append(errs, err)
		if v {
			cfg.Logging.Format = "json"
		}
	}

	return errors.Join(errs...)
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *appState) config() *config.Config {
	if a.cfg == nil {
		cfg := config.Default()
		a.cfg = &cfg
	}
	return a.cfg
}
