package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the duckbi version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := map[string]string{"version": version, "commit": commit}
			return printResult(cmd, v, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "duckbi version %s (commit: %s)\n", version, commit)
				return err
			})
		},
	}
}
