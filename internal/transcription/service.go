package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fmueller/whisperapi/internal/audio"
	"github.com/fmueller/whisperapi/internal/language"
	"github.com/fmueller/whisperapi/internal/whisper"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const DefaultSilenceThresholdDBFS = -65.0

// Stage names reported to an Observer.
const (
	StageProvision  = "provision"
	StageConvert    = "convert"
	StageTranscribe = "transcribe"
	StageFormat     = "format"
)

// Request is one transcription call. Upload is read once, to EOF; a read
// error that is already an *Error keeps its kind.
type Request struct {
	Language   string
	Model      string
	Translate  bool
	Timestamps bool
	Upload     io.Reader
	FileName   string
}

// Job is a validated Request bound to its temporary files.
type Job struct {
	ID         string
	SourcePath string
	WAVPath    string
	OutputPath string
	Language   string
	Model      whisper.Model
	Format     whisper.OutputFormat
	Translate  bool
	Timestamps bool
}

// ModelProvisioner returns the local weights path for a model, fetching it
// when necessary.
type ModelProvisioner interface {
	Ensure(ctx context.Context, model whisper.Model) (string, error)
}

// Observer receives stage timings. A nil Observer is allowed.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

// Timeouts bound each external step. Zero disables the bound; the request
// context still applies.
type Timeouts struct {
	Provision  time.Duration
	Convert    time.Duration
	Transcribe time.Duration
}

type Options struct {
	AudioDir             string
	DefaultModel         string
	Timeouts             Timeouts
	SilenceGate          bool
	SilenceThresholdDBFS float64
}

type Service struct {
	opts        Options
	storage     Storage
	provisioner ModelProvisioner
	converter   audio.Converter
	engine      whisper.Engine
	observer    Observer
	logger      *zap.Logger
}

func NewService(opts Options, provisioner ModelProvisioner, converter audio.Converter, engine whisper.Engine, observer Observer, logger *zap.Logger) (*Service, error) {
	if strings.TrimSpace(opts.AudioDir) == "" {
		return nil, errors.New("audio directory is required")
	}
	if provisioner == nil || converter == nil || engine == nil {
		return nil, errors.New("provisioner, converter and engine are required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		opts.DefaultModel = whisper.DefaultModel
	}
	if _, err := whisper.ParseModel(opts.DefaultModel); err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}
	if opts.SilenceThresholdDBFS == 0 {
		opts.SilenceThresholdDBFS = DefaultSilenceThresholdDBFS
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		opts:        opts,
		storage:     Storage{Dir: opts.AudioDir},
		provisioner: provisioner,
		converter:   converter,
		engine:      engine,
		observer:    observer,
		logger:      logger,
	}, nil
}

// Transcribe runs the whole pipeline for one request. Temporary files are
// removed before it returns, whatever the outcome.
func (s *Service) Transcribe(ctx context.Context, req Request) Result {
	payload, err := s.transcribe(ctx, req)
	if err != nil {
		var terr *Error
		if !errors.As(err, &terr) {
			terr = newError(KindUnknown, err)
		}
		s.logger.Warn("transcription failed",
			zap.String("error_code", terr.Kind.String()),
			zap.Error(terr.Err),
		)
		return failWith(terr)
	}
	return Succeed(payload)
}

func (s *Service) transcribe(ctx context.Context, req Request) (any, error) {
	lang, err := language.Normalize(req.Language)
	if err != nil {
		return nil, newError(KindInvalidLanguage, err)
	}

	modelName := req.Model
	if strings.TrimSpace(modelName) == "" {
		modelName = s.opts.DefaultModel
	}
	model, err := whisper.ParseModel(modelName)
	if err != nil {
		return nil, newError(KindInvalidModel, err)
	}

	if req.Upload == nil {
		return nil, newError(KindNoFile, errors.New("request carries no upload"))
	}

	format := whisper.OutputFormatFor(req.Timestamps)
	ws, err := s.storage.Allocate(req.FileName, format)
	if err != nil {
		return nil, newError(KindUnknown, err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			s.logger.Warn("failed to remove temporary files", zap.String("id", ws.ID), zap.Error(err))
		}
	}()

	job := Job{
		ID:         ws.ID,
		SourcePath: ws.SourcePath,
		WAVPath:    ws.WAVPath,
		OutputPath: ws.OutputPath,
		Language:   lang,
		Model:      model,
		Format:     format,
		Translate:  req.Translate,
		Timestamps: req.Timestamps,
	}

	size, err := ws.Persist(req.Upload)
	if err != nil {
		var terr *Error
		if errors.As(err, &terr) {
			return nil, terr
		}
		return nil, newError(KindUnknown, err)
	}
	if err := checkUploadType(job.SourcePath); err != nil {
		return nil, newError(KindInvalidFileType, err)
	}

	s.logger.Info("transcription started",
		zap.String("id", job.ID),
		zap.String("language", job.Language),
		zap.String("model", job.Model.Name),
		zap.Bool("translate", job.Translate),
		zap.Bool("timestamps", job.Timestamps),
		zap.Int64("upload_bytes", size),
	)
	return s.run(ctx, job)
}

func (s *Service) run(ctx context.Context, job Job) (any, error) {
	var modelPath string
	err := s.stage(ctx, StageProvision, s.opts.Timeouts.Provision, func(ctx context.Context) error {
		var err error
		modelPath, err = s.provisioner.Ensure(ctx, job.Model)
		return err
	})
	if err != nil {
		return nil, newError(KindUnknown, fmt.Errorf("provision model %s: %w", job.Model.Name, err))
	}

	err = s.stage(ctx, StageConvert, s.opts.Timeouts.Convert, func(ctx context.Context) error {
		return s.converter.ConvertToWAV(ctx, job.SourcePath, job.WAVPath)
	})
	if err != nil {
		return nil, s.processingError(ctx, fmt.Errorf("convert to wav: %w", err))
	}

	if s.opts.SilenceGate {
		silent, metrics, err := audio.IsSilentWAV(job.WAVPath, s.opts.SilenceThresholdDBFS)
		if err != nil {
			s.logger.Warn("silence check failed, transcribing anyway", zap.String("id", job.ID), zap.Error(err))
		} else if silent {
			s.logger.Info("audio is silent, skipping transcription",
				zap.String("id", job.ID),
				zap.Float64("rms_dbfs", metrics.RMSdBFS),
				zap.Float64("peak_dbfs", metrics.PeakdBFS),
			)
			return emptyPayload(job.Timestamps), nil
		}
	}

	outputPath := job.OutputPath
	err = s.stage(ctx, StageTranscribe, s.opts.Timeouts.Transcribe, func(ctx context.Context) error {
		var err error
		outputPath, err = s.engine.Transcribe(ctx, whisper.TranscriptionRequest{
			AudioPath: job.WAVPath,
			ModelPath: modelPath,
			Language:  job.Language,
			Translate: job.Translate,
			Format:    job.Format,
		})
		return err
	})
	if err != nil {
		return nil, s.processingError(ctx, err)
	}
	if outputPath != job.OutputPath {
		return nil, newError(KindFileProcessing, fmt.Errorf("engine wrote %s, expected %s", outputPath, job.OutputPath))
	}

	var payload any
	err = s.stage(ctx, StageFormat, 0, func(context.Context) error {
		if job.Timestamps {
			segments, err := whisper.ReadSegments(job.OutputPath)
			payload = segments
			return err
		}
		text, err := whisper.ReadText(job.OutputPath)
		payload = text
		return err
	})
	if err != nil {
		return nil, newError(KindFileProcessing, err)
	}

	s.logger.Info("transcription finished", zap.String("id", job.ID))
	return payload, nil
}

func (s *Service) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)

	s.logger.Debug("stage finished", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
	if s.observer != nil {
		s.observer.ObserveStage(name, elapsed, err)
	}
	return err
}

// processingError classifies a conversion or engine failure. A cancelled
// request is not the file's fault.
func (s *Service) processingError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return newError(KindUnknown, err)
	}
	return newError(KindFileProcessing, err)
}

func emptyPayload(timestamps bool) any {
	if timestamps {
		return []whisper.Segment{}
	}
	return ""
}

func checkUploadType(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect upload type: %w", err)
	}
	for m := mtype; m != nil; m = m.Parent() {
		if isMediaType(m.String()) {
			return nil
		}
	}
	return fmt.Errorf("unsupported upload type %s", mtype.String())
}

func isMediaType(mime string) bool {
	return strings.HasPrefix(mime, "audio/") ||
		strings.HasPrefix(mime, "video/") ||
		mime == "application/ogg"
}
