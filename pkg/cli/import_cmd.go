package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"duck-bi/internal/app"
)

func newImportCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "import <workspace.yaml>",
		Short: "Import data sources, entities and pipelines from a workspace file",
		Long: "Reads a YAML workspace file and stores its data sources, entities and pipelines.\n" +
			"Objects whose id already exists are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0]) //nolint:gosec // path is user-provided
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck

			ws, err := app.ParseWorkspace(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				sum, err := a.Import(ctx, ws)
				if err != nil {
					return err
				}
				return printResult(cmd, sum, func(w io.Writer) error {
					_, _ = fmt.Fprintf(w, "Imported %d object(s), skipped %d.\n", sum.Created, len(sum.Skipped))
					for _, s := range sum.Skipped {
						_, _ = fmt.Fprintf(w, "  skipped %s (already exists)\n", s)
					}
					for _, p := range sum.Problems {
						_, _ = fmt.Fprintf(w, "  warning: %s\n", p)
					}
					return nil
				})
			})
		},
	}
}
