package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"krsp-query/internal/connection"
	"krsp-query/internal/rawquery"
)

func newQueryCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>|-",
		Short: "Run one read-only SQL statement",
		Long: `Run one read-only SQL statement. Only statements starting with SELECT, SHOW,
DESCRIBE, DESC, EXPLAIN, TABLE or VALUES are accepted; anything else is
rejected before it reaches the database. Pass - to read the statement from stdin.`,
		Example: `  krspq query "SELECT gr, COUNT(*) FROM squirrel GROUP BY gr"
  echo "SHOW TABLES" | krspq query -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read statement from stdin: %w", err)
				}
				text = string(raw)
			}
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				table, err := rawquery.ExecuteReadOnlyLimit(ctx, h, text, int(rt.rowLimit(h)))
				if err != nil {
					return err
				}
				return rt.write(cmd, table)
			})
		},
	}
}
