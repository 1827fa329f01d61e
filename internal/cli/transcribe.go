package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type transcribeOptions struct {
	language   string
	model      string
	translate  bool
	timestamps bool
	output     string
}

func newTranscribeCmd(app *appState) *cobra.Command {
	opts := transcribeOptions{language: "auto", output: outputText}

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(opts.output); err != nil {
				return err
			}

			result, err := app.transcribeFile(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if err := result.Err(); err != nil {
				return err
			}

			if text, ok := result.Payload.(string); ok && isBlankTranscript(text) {
				app.log().Warn(noSpeechHint(args[0]))
			}
			return writeTranscript(cmd.OutOrStdout(), result.Payload, opts.output)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.language, "language", opts.language, "Language: auto, a two-letter code, or an English name")
	f.StringVar(&opts.model, "model", opts.model, "Model: tiny|base|small|medium|large-v3 (default from config)")
	f.BoolVar(&opts.translate, "translate", opts.translate, "Translate to English")
	f.BoolVar(&opts.timestamps, "timestamps", opts.timestamps, "Emit timestamped segments")
	f.StringVar(&opts.output, "output", opts.output, "Output format: text|json")
	bindEngineFlags(cmd)
	return cmd
}

func (a *appState) transcribeFile(ctx context.Context, audioPath string, opts transcribeOptions) (transcription.Result, error) {
	audioPath = filepath.Clean(audioPath)
	file, err := os.Open(audioPath)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("audio file not found: %w", err)
	}
	defer file.Close()

	p, err := buildPipeline(a.config(), nil, a.noProgress, a.log())
	if err != nil {
		return transcription.Result{}, err
	}

	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("language", opts.language))
	stopSpinner := startSpinner(a.progressEnabled(), "Transcribing "+filepath.Base(audioPath))
	started := time.Now()

	result := p.service.Transcribe(ctx, transcription.Request{
		Language:   opts.language,
		Model:      opts.model,
		Translate:  opts.translate,
		Timestamps: opts.timestamps,
		Upload:     file,
		FileName:   filepath.Base(audioPath),
	})
	stopSpinner()

	if result.Success {
		a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))
	}
	return result, nil
}
