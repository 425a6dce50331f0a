package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"duck-bi/internal/app"
	"duck-bi/internal/domain"
)

func newValidateCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline-id>",
		Short: "Validate a stored pipeline without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				report, err := a.Services.Pipelines.Validate(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printResult(cmd, report, func(w io.Writer) error {
					for _, e := range report.Errors {
						_, _ = fmt.Fprintf(w, "error: %s\n", e)
					}
					for _, warn := range report.Warnings {
						_, _ = fmt.Fprintf(w, "warning: %s\n", warn)
					}
					if report.Valid {
						_, _ = fmt.Fprintln(w, "Pipeline is valid.")
					}
					return nil
				}); err != nil {
					return err
				}
				if !report.Valid {
					return domain.ErrValidationProblems(report.Errors)
				}
				return nil
			})
		},
	}
}

func newRunCmd(open appOpener) *cobra.Command {
	var (
		limit   int
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline-id>",
		Short: "Execute a pipeline synchronously and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				res, err := a.Services.Pipelines.ExecutePipeline(ctx, args[0], domain.ExecuteOptions{
					Limit:       limit,
					PreviewMode: preview,
				})
				if err != nil {
					return err
				}
				if err := printResult(cmd, res, func(w io.Writer) error {
					if res.Data != nil {
						printRows(w, res.Data.Columns, res.Data.Rows)
					}
					_, _ = fmt.Fprintf(w, "\nrun %s: %s, %d row(s) in %.3fs\n",
						res.RunID, res.Status, res.RowsProcessed, res.ExecutionTimeSeconds)
					return nil
				}); err != nil {
					return err
				}
				if res.Status != domain.RunSuccess {
					return fmt.Errorf("run %s %s: %s", res.RunID, res.Status, res.ErrorMessage)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows read by each source step (0 for no cap)")
	cmd.Flags().BoolVar(&preview, "preview", false, "Run in preview mode with the preview row cap and timeout")

	return cmd
}
