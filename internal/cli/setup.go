package cli

import (
	"fmt"

	"github.com/fmueller/whisperapi/internal/download"
	"github.com/fmueller/whisperapi/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	var modelName string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.config()
			modelDir, err := modelStorageDir(cfg)
			if err != nil {
				return err
			}

			if modelName == "" {
				modelName = cfg.Whisper.DefaultModel
			}
			resolved, err := whisper.ResolveModel(modelName, modelDir)
			if err != nil {
				return err
			}

			if !resolved.NeedsDownload {
				if err := download.VerifyFileChecksum(resolved.Path, resolved.SHA256); err != nil {
					app.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
					resolved.NeedsDownload = true
				}
			}

			if !resolved.NeedsDownload {
				app.log().Info("model already present", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
				fmt.Fprintf(cmd.OutOrStdout(), "Model %s already present at %s\n", resolved.Name, resolved.Path)
				return nil
			}

			app.log().Info("downloading model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
			fetcher := &download.Fetcher{Client: app.httpClient, NoProgress: app.noProgress, Logger: app.log()}
			if err := fetcher.Fetch(cmd.Context(), download.Request{
				URL:            resolved.URL,
				Destination:    resolved.Path,
				ExpectedSHA256: resolved.SHA256,
			}); err != nil {
				return fmt.Errorf("download model %s: %w", resolved.Name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Model %s installed at %s\n", resolved.Name, resolved.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelName, "model", "", "Model to install: tiny|base|small|medium|large-v3 (default from config)")
	cmd.Flags().String("model-dir", "", "Directory where models are stored")
	return cmd
}
