package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fmueller/whisperapi/internal/config"
	"github.com/fmueller/whisperapi/internal/metrics"
	"github.com/fmueller/whisperapi/internal/ratelimit"
	"github.com/fmueller/whisperapi/internal/server"
	"github.com/fmueller/whisperapi/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.serveFn(ctx, app.config())
		},
	}

	cmd.Flags().String("address", "", "Listen address, e.g. :8080")
	cmd.Flags().String("default-model", "", "Model used when a request names none")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	bindEngineFlags(cmd)
	return cmd
}

func (a *appState) runServer(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	p, err := buildPipeline(cfg, m, true, a.log())
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(cfg.RateLimit.Options())
	if err != nil {
		return err
	}
	defer limiter.Close()

	a.log().Info("starting whisperapi",
		zap.String("version", version.Resolve()),
		zap.String("address", cfg.HTTP.Address),
		zap.String("default_model", cfg.Whisper.DefaultModel),
		zap.Int("token_limit", cfg.RateLimit.TokenLimit),
		zap.Int("queue_limit", cfg.RateLimit.QueueLimit),
	)

	srv := server.New(server.Options{
		Address:           cfg.HTTP.Address,
		ModelDir:          p.modelDir,
		MaxUploadBytes:    cfg.HTTP.MaxUploadBytes,
		MultipartMemory:   cfg.HTTP.MultipartMemory,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
		Version:           version.Resolve(),
	}, p.service, limiter, m, a.log())

	return srv.ListenAndServe(ctx)
}
