package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fmueller/whisperapi/internal/whisper"
	"github.com/spf13/cobra"
)

func newModelsCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := modelStorageDir(app.config())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tINSTALLED\tPATH")
			for _, name := range whisper.ModelNames() {
				resolved, err := whisper.ResolveModel(name, modelDir)
				if err != nil {
					return err
				}
				installed := "no"
				if !resolved.NeedsDownload {
					installed = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", resolved.Name, installed, resolved.Path)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("model-dir", "", "Directory where models are stored")
	return cmd
}
