// Package cli implements the krspq command line: schema browsing, the query
// catalog and read-only literal queries against the krsp database.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"krsp-query/internal/app"
	"krsp-query/internal/config"
	"krsp-query/internal/connection"
	"krsp-query/internal/logging"
	"krsp-query/internal/materialize"
	"krsp-query/internal/observability"
	"krsp-query/internal/render"
)

// BuildInfo is stamped at build time via -ldflags.
type BuildInfo struct {
	Version string
	Commit  string
}

const shutdownTimeout = 5 * time.Second

// runtime is the per-invocation state filled in by the root pre-run hook.
type runtime struct {
	build BuildInfo

	cfg            *config.Config
	logger         *logging.Logger
	loggerProvider *observability.LoggerProvider

	format  render.Format
	showSQL bool
	limit   materialize.RowLimit
	// limitSet is true when --limit or --unbounded was given.
	limitSet bool
}

// Streams are the standard streams of an invocation. Results go to Out and
// diagnostics to Err.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Execute runs krspq with args.
func Execute(ctx context.Context, build BuildInfo, args []string, streams Streams) error {
	root, rt := newRootCmd(build)
	root.SetArgs(args)
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	defer rt.close()
	return root.ExecuteContext(ctx)
}

func newRootCmd(build BuildInfo) (*cobra.Command, *runtime) {
	rt := &runtime{build: build, logger: logging.Discard()}

	root := &cobra.Command{
		Use:   "krspq",
		Short: "Query the Kluane Red Squirrel Project database",
		Long: `krspq reads the krsp field database: it lists tables and columns, runs the
named queries of the built-in catalog and executes read-only SQL.

Connection settings come from flags, KRSP_* environment variables, a krspq.yaml
config file, or a named profile in a MySQL option file.`,
		Version: build.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion", "__complete", "version":
				return nil
			}
			return rt.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := root.PersistentFlags()
	config.DefineFlags(pf)
	pf.StringP("format", "f", "", "Result format (table, json, csv, markdown)")
	pf.Int("limit", 0, "Return at most this many rows (default database.max_rows)")
	pf.Bool("unbounded", false, "Return every row, ignoring the row cap")
	pf.Bool("show-sql", false, "Print the executed SQL to stderr")
	root.MarkFlagsMutuallyExclusive("limit", "unbounded")

	_ = root.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return render.Formats, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newVersionCmd(rt),
		newTablesCmd(rt),
		newDescribeCmd(rt),
		newSchemaCmd(rt),
		newCatalogCmd(rt),
		newQueryCmd(rt),
	)
	return root, rt
}

// load resolves configuration, the logger and the output flags.
func (rt *runtime) load(cmd *cobra.Command) error {
	flags := cmd.Flags()
	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}
	if flags.Changed("show-sql") {
		cfg.Output.ShowSQL, _ = flags.GetBool("show-sql")
	}
	if format, err := render.ParseFormat(cfg.Output.Format); err == nil {
		// Accept "md" as an alias before validation sees it.
		cfg.Output.Format = string(format)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = rt.build.Version
	}

	result := cfg.Validate()
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if result.HasErrors() {
		return result
	}

	logger, loggerProvider, err := app.InitLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	format, err := render.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	rt.cfg = cfg
	rt.logger = logger
	rt.loggerProvider = loggerProvider
	rt.format = format
	rt.showSQL = cfg.Output.ShowSQL

	switch {
	case flags.Changed("unbounded"):
		if unbounded, _ := flags.GetBool("unbounded"); unbounded {
			rt.limit, rt.limitSet = materialize.Unbounded, true
		}
	case flags.Changed("limit"):
		n, _ := flags.GetInt("limit")
		if n < 0 {
			return fmt.Errorf("--limit must not be negative (use --unbounded for every row)")
		}
		rt.limit, rt.limitSet = materialize.RowLimit(n), true
	}
	return nil
}

// withHandle connects, runs body and releases every resource again.
func (rt *runtime) withHandle(ctx context.Context, body func(context.Context, *connection.Handle) error) (err error) {
	a, err := app.New(rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	a.AttachLoggerProvider(rt.loggerProvider)
	rt.loggerProvider = nil
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutdownErr := a.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if err := a.Init(ctx); err != nil {
		return err
	}
	return body(ctx, a.Handle())
}

// rowLimit returns the cap for a run: the flag value, or the handle's max rows.
func (rt *runtime) rowLimit(h *connection.Handle) materialize.RowLimit {
	if rt.limitSet {
		return rt.limit
	}
	return materialize.RowLimit(h.MaxRows())
}

func (rt *runtime) close() {
	if rt.loggerProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = rt.loggerProvider.Shutdown(ctx, rt.logger.Logger)
	rt.loggerProvider = nil
}
