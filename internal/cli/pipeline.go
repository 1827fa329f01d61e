package cli

import (
	"fmt"
	"os"

	"github.com/fmueller/whisperapi/internal/audio"
	"github.com/fmueller/whisperapi/internal/config"
	"github.com/fmueller/whisperapi/internal/download"
	"github.com/fmueller/whisperapi/internal/metrics"
	"github.com/fmueller/whisperapi/internal/platform"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/fmueller/whisperapi/internal/whisper"
	"go.uber.org/zap"
)

// pipeline is the set of components behind one transcription.Service.
type pipeline struct {
	service  *transcription.Service
	modelDir string
	audioDir string
}

func buildPipeline(cfg *config.Config, m *metrics.Metrics, noProgress bool, logger *zap.Logger) (*pipeline, error) {
	modelDir, err := modelStorageDir(cfg)
	if err != nil {
		return nil, err
	}
	audioDir, err := platform.ResolveAudioDir(cfg.Whisper.AudioDir)
	if err != nil {
		return nil, err
	}

	engine, err := whisper.NewCLIEngine(cfg.Whisper.Executable, logger)
	if err != nil {
		return nil, err
	}
	engine.Threads = cfg.Whisper.Threads

	converter := audio.NewFFmpegConverter(cfg.FFmpeg.Executable, cfg.FFmpeg.SampleRate, logger)
	if !converter.Available() {
		return nil, fmt.Errorf("ffmpeg not found at %q; install ffmpeg or pass --ffmpeg-path", cfg.FFmpeg.Executable)
	}

	fetcher := &download.Fetcher{NoProgress: noProgress, Logger: logger}
	provisioner := whisper.NewProvisioner(modelDir, cfg.Whisper.AutoDownload, fetcher, logger)

	var observer transcription.Observer
	if m != nil {
		observer = m
	}

	svc, err := transcription.NewService(transcription.Options{
		AudioDir:     audioDir,
		DefaultModel: cfg.Whisper.DefaultModel,
		Timeouts: transcription.Timeouts{
			Provision:  cfg.Timeouts.Provision,
			Convert:    cfg.Timeouts.Convert,
			Transcribe: cfg.Timeouts.Transcribe,
		},
		SilenceGate:          cfg.Whisper.SilenceGate,
		SilenceThresholdDBFS: cfg.Whisper.SilenceThresholdDBFS,
	}, provisioner, converter, engine, observer, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("pipeline ready",
		zap.String("whisper", engine.Executable),
		zap.String("ffmpeg", converter.Executable),
		zap.String("model_dir", modelDir),
		zap.String("audio_dir", audioDir),
	)
	return &pipeline{service: svc, modelDir: modelDir, audioDir: audioDir}, nil
}

func modelStorageDir(cfg *config.Config) (string, error) {
	dir, err := platform.ResolveModelDir(cfg.Whisper.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}
