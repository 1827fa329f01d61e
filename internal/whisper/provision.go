package whisper

import (
	"context"
	"errors"
	"fmt"

	"github.com/fmueller/whisperapi/internal/download"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrModelMissing = errors.New("model weights missing and auto-download is disabled")

type fetchFunc func(ctx context.Context, req download.Request) error

// Provisioner makes sure a model's weights file is present in ModelDir,
// downloading it on first use. Concurrent callers asking for the same
// missing model wait on a single download.
type Provisioner struct {
	ModelDir     string
	AutoDownload bool
	Logger       *zap.Logger

	fetch fetchFunc
	group singleflight.Group
}

func NewProvisioner(modelDir string, autoDownload bool, fetcher *download.Fetcher, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = &download.Fetcher{NoProgress: true, Logger: logger}
	}
	return &Provisioner{
		ModelDir:     modelDir,
		AutoDownload: autoDownload,
		Logger:       logger,
		fetch:        fetcher.Fetch,
	}
}

// Ensure returns the local weights path for model.
func (p *Provisioner) Ensure(ctx context.Context, model Model) (string, error) {
	resolved, err := ResolveModel(model.Name, p.ModelDir)
	if err != nil {
		return "", err
	}
	if !resolved.NeedsDownload {
		return resolved.Path, nil
	}
	if !p.AutoDownload {
		return "", fmt.Errorf("%w: %s expected at %s", ErrModelMissing, resolved.Name, resolved.Path)
	}

	// The download outlives any single caller so that a cancelled request
	// does not abort a fetch other requests are waiting on.
	ch := p.group.DoChan(resolved.Name, func() (any, error) {
		p.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
		err := p.fetch(context.WithoutCancel(ctx), download.Request{
			URL:            resolved.URL,
			Destination:    resolved.Path,
			ExpectedSHA256: resolved.SHA256,
		})
		if err != nil {
			return nil, fmt.Errorf("download model %q: %w", resolved.Name, err)
		}
		p.log().Info("model downloaded", zap.String("model", resolved.Name))
		return resolved.Path, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (p *Provisioner) log() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
