package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"krsp-query/internal/render"
	"krsp-query/internal/resultset"
)

// write renders table to stdout. The SQL text and any truncation notice go
// to stderr so piped output stays clean.
func (rt *runtime) write(cmd *cobra.Command, table *resultset.Table) error {
	stderr := cmd.ErrOrStderr()
	if rt.showSQL && table.Query != "" {
		_, _ = fmt.Fprintf(stderr, "-- %s\n", table.Query)
		if len(table.Args) > 0 {
			_, _ = fmt.Fprintf(stderr, "-- args: %v\n", table.Args)
		}
	}
	if err := render.Write(cmd.OutOrStdout(), table, rt.format); err != nil {
		return err
	}
	if notice := render.TruncationNotice(table); notice != "" {
		_, _ = fmt.Fprintf(stderr, "warning: %s\n", notice)
	}
	return nil
}
