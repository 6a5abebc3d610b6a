package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"krsp-query/internal/catalog"
	"krsp-query/internal/connection"
	"krsp-query/internal/sqltype"
)

func newCatalogCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"cat"},
		Short:   "Named, parameterized krsp queries",
	}
	cmd.AddCommand(
		newCatalogListCmd(rt),
		newCatalogShowCmd(rt),
		newCatalogRunCmd(rt),
		newCatalogVerifyCmd(rt),
	)
	return cmd
}

func newCatalogListCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the catalog entries and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := metadataTable("name", "usage", "description")
			for _, entry := range catalog.Default().Entries() {
				out.Rows = append(out.Rows, []any{entry.Name, entry.Usage(), entry.Description})
			}
			return rt.write(cmd, out)
		},
	}
}

func newCatalogShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:               "show <name> [param=value...]",
		Short:             "Print the SQL an entry would run, without running it",
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeEntryNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, parsed, err := parseEntryArgs(args)
			if err != nil {
				return err
			}
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				plan, err := catalog.Default().Plan(ctx, h, entry.Name, parsed)
				if err != nil {
					return err
				}
				q, err := plan.SQL()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "-- %s\n", plan)
				_, _ = fmt.Fprintln(out, q.SQL)
				if len(q.Args) > 0 {
					_, _ = fmt.Fprintf(out, "-- args: %v\n", q.Args)
				}
				return nil
			})
		},
	}
}

func newCatalogRunCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "run <name> [param=value...]",
		Short: "Run a catalog entry",
		Example: `  krspq catalog run litters-missing-breeding-code year=2015
  krspq catalog run trapping-by-grid grid=KL year=2015 --format csv`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeEntryNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, parsed, err := parseEntryArgs(args)
			if err != nil {
				return err
			}
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				table, err := catalog.Default().RunLimit(ctx, h, entry.Name, parsed, rt.rowLimit(h))
				if err != nil {
					return err
				}
				return rt.write(cmd, table)
			})
		},
	}
}

func newCatalogVerifyCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every table the catalog relies on is visible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				missing, err := catalog.VerifySchema(ctx, h)
				if err != nil {
					return err
				}
				out := metadataTable("table", "present")
				out.Columns[1].Category = sqltype.Bool
				for _, name := range catalog.RequiredTables {
					out.Rows = append(out.Rows, []any{name, !slices.Contains(missing, name)})
				}
				if err := rt.write(cmd, out); err != nil {
					return err
				}
				if len(missing) > 0 {
					return fmt.Errorf("schema %s is missing %s", h.Schema(), strings.Join(missing, ", "))
				}
				return nil
			})
		},
	}
}

func parseEntryArgs(args []string) (catalog.Entry, catalog.Args, error) {
	entry, ok := catalog.Default().Lookup(args[0])
	if !ok {
		return catalog.Entry{}, nil, fmt.Errorf("%w: %q (see krspq catalog list)", catalog.ErrUnknownEntry, args[0])
	}
	parsed, err := entry.ParseArgs(args[1:])
	if err != nil {
		return catalog.Entry{}, nil, fmt.Errorf("%w\nusage: %s", err, entry.Usage())
	}
	return entry, parsed, nil
}

func completeEntryNames(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		entry, ok := catalog.Default().Lookup(args[0])
		if !ok {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var params []string
		for _, p := range entry.Params {
			params = append(params, p.Name+"=")
		}
		return params, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	}
	var names []string
	for _, entry := range catalog.Default().Entries() {
		names = append(names, entry.Name+"\t"+entry.Description)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
