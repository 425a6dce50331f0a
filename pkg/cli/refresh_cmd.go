package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"duck-bi/internal/app"
)

func newRefreshCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <data-source-id>",
		Short: "Re-read the tables and columns of a data source",
		Long: "Introspects the data source and replaces its cached table metadata,\n" +
			"which pipeline validation checks column references and operators against.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				ds, err := a.Services.Catalog.RefreshSchema(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd, ds.Tables, func(w io.Writer) error {
					for _, t := range ds.Tables {
						name := t.Name
						if t.Schema != "" {
							name = t.Schema + "." + t.Name
						}
						_, _ = fmt.Fprintf(w, "%s (%d column(s))\n", name, len(t.Columns))
						for _, c := range t.Columns {
							_, _ = fmt.Fprintf(w, "  %s %s\n", c.Name, c.Type)
						}
					}
					return nil
				})
			})
		},
	}
}
