// Package main is the entry point for the database subsetter CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/RackSec/srslog"
	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/dbsubsetter/subsetter/internal/subsetter/config"
	"github.com/dbsubsetter/subsetter/internal/subsetter/coordinator"
	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
	_ "github.com/dbsubsetter/subsetter/internal/subsetter/driver/mysql"
	_ "github.com/dbsubsetter/subsetter/internal/subsetter/driver/postgres"
	"github.com/dbsubsetter/subsetter/internal/subsetter/events"
	"github.com/dbsubsetter/subsetter/internal/subsetter/metrics"
	"github.com/dbsubsetter/subsetter/internal/subsetter/presence"
	"github.com/dbsubsetter/subsetter/internal/subsetter/propagator"
	"github.com/dbsubsetter/subsetter/internal/subsetter/selector"
	"github.com/dbsubsetter/subsetter/internal/subsetter/subsetterrors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// options holds every flag value, following the teacher admin CLI's
// package-level-vars-bound-to-PersistentFlags/Flags convention.
type options struct {
	logarithmic   bool
	schemas       []string
	tables        []string
	excludeTables []string
	fullTables    []string
	children      int
	forced        []string
	configPath    string
	bufferSize    int
	importModule  string
	dryRun        bool
	verbose       bool
	metricsAddr   string
	logFile       string
	syslogAddr    string
	showVersion   bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "subsetter <source-url> <target-url> <fraction>",
		Short: "Copy a referentially-consistent subset of a relational database",
		Long: `subsetter connects to a source database, samples a fraction of each
table's rows, and propagates every row's foreign-key parents and a bounded
set of its children into an empty, schema-identical target database.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Printf("subsetter %s (commit %s)\n", version, commit)
				return nil
			}
			return run(cmd.Context(), args, opts)
		},
	}

	rootCmd.Flags().BoolVarP(&opts.logarithmic, "logarithmic", "l", false, "use log-formula target sizing instead of linear fraction")
	rootCmd.Flags().StringArrayVar(&opts.schemas, "schema", nil, "introspect this schema (repeatable); when any is given, the driver's default schema is not added unless listed")
	rootCmd.Flags().StringArrayVarP(&opts.tables, "table", "t", nil, "include only tables matching this pattern (repeatable)")
	rootCmd.Flags().StringArrayVarP(&opts.excludeTables, "exclude-table", "T", nil, "exclude tables matching this pattern (repeatable)")
	rootCmd.Flags().StringArrayVar(&opts.fullTables, "full-table", nil, "copy this table in full (repeatable)")
	rootCmd.Flags().IntVar(&opts.children, "children", propagator.DefaultConfig().ChildrenLimit, "per-parent child fetch cap")
	rootCmd.Flags().StringArrayVar(&opts.forced, "force", nil, "prioritize this row, TABLE:PK (repeatable)")
	rootCmd.Flags().StringVar(&opts.configPath, "config", "", "JSON config file path (logical foreign keys, table lists)")
	rootCmd.Flags().IntVar(&opts.bufferSize, "buffer", propagator.DefaultConfig().FlushSize, "batch insert flush size (0 flushes every row)")
	rootCmd.Flags().StringVar(&opts.importModule, "import", "", "accepted but not loaded: only logs a warning; no subscriber is registered")
	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the resolved schema model and exit without opening the target")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	rootCmd.Flags().StringVar(&opts.logFile, "log-file", "", "also write rotating JSON logs to this path")
	rootCmd.Flags().StringVar(&opts.syslogAddr, "syslog", "", "also forward logs to this syslog address, network!raddr (e.g. udp!localhost:514)")
	rootCmd.Flags().BoolVar(&opts.showVersion, "version", false, "print version and exit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := slog.Default()
		logger.Error("subsetter failed", slog.String("error", err.Error()))
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a startup failure onto a distinct nonzero code so
// automation can distinguish configuration mistakes from connectivity
// problems without parsing the log line (§6: "0 success; nonzero...").
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, subsetterrors.ErrConfiguration):
		return 2
	case errors.Is(err, subsetterrors.ErrConnection):
		return 3
	case errors.Is(err, subsetterrors.ErrSchemaMismatch):
		return 4
	case errors.Is(err, subsetterrors.ErrForcedRowNotFound):
		return 5
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, opts *options) error {
	logger, closeLogger, err := buildLogger(opts)
	if err != nil {
		return err
	}
	defer closeLogger()
	slog.SetDefault(logger)

	fraction, err := parseFraction(args[2])
	if err != nil {
		return fmt.Errorf("%w: fraction %q: %v", subsetterrors.ErrConfiguration, args[2], err)
	}

	sourceURL := driver.ExpandPassword(args[0])
	targetURL := driver.ExpandPassword(args[1])

	var cfgFile *config.File
	if opts.configPath != "" {
		cfgFile, err = config.Load(opts.configPath)
		if err != nil {
			return err
		}
	} else {
		cfgFile = &config.File{}
	}

	schemas := dedup(append(append([]string{}, opts.schemas...), cfgFile.Schemas...))
	defaultSchema := ""
	if len(schemas) > 0 {
		defaultSchema = schemas[0]
	}

	sourceKind, err := driver.KindFromURL(sourceURL)
	if err != nil {
		return fmt.Errorf("%w: %v", subsetterrors.ErrConfiguration, err)
	}
	source, err := driver.Open(ctx, sourceKind, sourceURL)
	if err != nil {
		return fmt.Errorf("%w: open source: %v", subsetterrors.ErrConnection, err)
	}
	defer source.Close()

	model, err := source.Introspect(ctx, schemas)
	if err != nil {
		return fmt.Errorf("%w: introspect source: %v", subsetterrors.ErrSchemaMismatch, err)
	}

	includePatterns := dedup(append(append([]string{}, opts.tables...), cfgFile.Tables...))
	excludePatterns := dedup(append(append([]string{}, opts.excludeTables...), cfgFile.ExcludeTables...))
	applySelection(model, includePatterns, excludePatterns)
	if len(model.SelectedTables()) == 0 {
		return fmt.Errorf("%w: no tables selected (check --table/--exclude-table/--schema)", subsetterrors.ErrConfiguration)
	}

	logicalFKs, err := cfgFile.LogicalForeignKeys(model, defaultSchema)
	if err != nil {
		return err
	}
	for _, fk := range logicalFKs {
		if !model.AddForeignKey(fk) {
			return fmt.Errorf("%w: logical fk %s references a table outside the introspected model", subsetterrors.ErrConfiguration, fk.Name)
		}
	}

	for _, name := range opts.fullTables {
		key, err := resolveTable(model, name, defaultSchema)
		if err != nil {
			return err
		}
		t, _ := model.Table(key)
		if !t.Selected {
			// Open question (a): exclusion is authoritative; a --full-table
			// name that --exclude-table also matches is a conflict, not a
			// silent override.
			return fmt.Errorf("%w: --full-table %s is excluded by --exclude-table/--table", subsetterrors.ErrConfiguration, key.String())
		}
		t.Prioritized = true
	}

	forcedRows := make([]coordinator.ForcedRow, 0, len(opts.forced))
	for _, spec := range opts.forced {
		tableName, pkRaw, err := config.ParseForcedRow(spec)
		if err != nil {
			return err
		}
		key, err := resolveTable(model, tableName, defaultSchema)
		if err != nil {
			return err
		}
		t, _ := model.Table(key)
		if len(t.PK) != 1 {
			return fmt.Errorf("%w: --force=%s: composite or missing primary key not supported", subsetterrors.ErrConfiguration, spec)
		}
		forcedRows = append(forcedRows, coordinator.ForcedRow{Table: key, Key: dbmodel.NewKeyTuple([]any{config.ParseScalarKey(pkRaw)})})
	}

	fullTableKeys := make([]dbmodel.TableKey, 0, len(opts.fullTables))
	for _, t := range model.TopologicalOrder() {
		if t.Prioritized {
			fullTableKeys = append(fullTableKeys, t.Key)
		}
	}

	for _, t := range model.SelectedTables() {
		count, err := source.RowCount(ctx, t.Key)
		if err != nil {
			return fmt.Errorf("%w: row count %s: %v", subsetterrors.ErrConnection, t.Key, err)
		}
		t.SourceRowCount = count
		t.TargetCount = dbmodel.TargetCount(count, fraction, opts.logarithmic, t.Prioritized)
	}

	if opts.dryRun {
		return printPlan(os.Stdout, model)
	}

	targetKind, err := driver.KindFromURL(targetURL)
	if err != nil {
		return fmt.Errorf("%w: %v", subsetterrors.ErrConfiguration, err)
	}
	target, err := driver.Open(ctx, targetKind, targetURL)
	if err != nil {
		return fmt.Errorf("%w: open target: %v", subsetterrors.ErrConnection, err)
	}
	defer target.Close()

	if err := verifySchemaMatch(ctx, target, model, schemas); err != nil {
		return err
	}

	m := metrics.New()
	var metricsServer *http.Server
	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: opts.metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	idx := presence.New()
	sel := selector.New(source, rand.New(rand.NewSource(time.Now().UnixNano())))
	bus := events.NewBus(logger)

	bus.Subscribe(func(evt events.RowAdded) {
		m.RowsCopiedTotal.WithLabelValues(evt.TargetTable.String(), boolLabel(evt.Prioritized)).Inc()
	})

	var co *coordinator.Coordinator
	lastReport := time.Now()
	bus.Subscribe(func(events.RowAdded) {
		if time.Since(lastReport) < 5*time.Second {
			return
		}
		lastReport = time.Now()
		logProgress(logger, model)
		m.TablesSaturated.Set(float64(len(co.Saturated())))
		for _, t := range model.SelectedTables() {
			m.TableCompleteness.WithLabelValues(t.Key.String()).Set(clampGauge(t.CompletenessScore()))
		}
	})

	if opts.importModule != "" {
		logger.Warn("--import requested but dynamic plugin loading is out of scope; register subscribers via events.Bus in a Go wiring point instead",
			slog.String("module", opts.importModule))
	}

	propCfg := propagator.Config{
		FlushSize:          opts.bufferSize,
		ChildrenLimit:      opts.children,
		DefaultDepthBudget: propagator.DefaultConfig().DefaultDepthBudget,
	}
	prop := propagator.New(model, idx, sel, target, bus, logger, propCfg, string(sourceKind), string(targetKind))
	co = coordinator.New(model, prop, sel, target, logger, coordinator.DefaultConfig(), forcedRows, fullTableKeys)

	logger.Info("starting subsetting run",
		slog.String("source", string(sourceKind)),
		slog.String("target", string(targetKind)),
		slog.Float64("fraction", fraction),
		slog.Int("selected_tables", len(model.SelectedTables())),
	)

	if err := co.Run(ctx); err != nil {
		return err
	}

	logProgress(logger, model)
	logger.Info("subsetting run complete")
	return nil
}

// applySelection implements §4.1's include/exclude rule: a table is
// selected if (no include patterns, or it matches at least one) and (no
// exclude patterns, or it matches none).
func applySelection(model *dbmodel.Model, include, exclude []string) {
	for _, t := range model.Tables() {
		selected := true
		if len(include) > 0 {
			selected = dbmodel.MatchesAny(t.Key, include)
		}
		if selected && len(exclude) > 0 && dbmodel.MatchesAny(t.Key, exclude) {
			selected = false
		}
		t.Selected = selected
	}
}

// resolveTable looks up name against model. A dotted name is taken as
// schema-qualified; a bare name is tried first within defaultSchema, then
// matched against the first table of that name in any schema.
func resolveTable(model *dbmodel.Model, name, defaultSchema string) (dbmodel.TableKey, error) {
	if strings.Contains(name, ".") {
		parts := strings.SplitN(name, ".", 2)
		key := dbmodel.TableKey{Schema: parts[0], Name: parts[1]}
		if _, ok := model.Table(key); ok {
			return key, nil
		}
		return dbmodel.TableKey{}, fmt.Errorf("%w: unknown table %q", subsetterrors.ErrConfiguration, name)
	}
	key := dbmodel.TableKey{Schema: defaultSchema, Name: name}
	if _, ok := model.Table(key); ok {
		return key, nil
	}
	for _, t := range model.Tables() {
		if t.Key.Name == name {
			return t.Key, nil
		}
	}
	return dbmodel.TableKey{}, fmt.Errorf("%w: unknown table %q", subsetterrors.ErrConfiguration, name)
}

// verifySchemaMatch introspects target and checks that every selected
// source table exists there and has every column the source table has
// (extra target columns are allowed), the cheapest
// useful form of §7's ErrSchemaMismatch check against an empty,
// schema-identical target.
func verifySchemaMatch(ctx context.Context, target driver.Driver, model *dbmodel.Model, schemas []string) error {
	targetModel, err := target.Introspect(ctx, schemas)
	if err != nil {
		return fmt.Errorf("%w: introspect target: %v", subsetterrors.ErrSchemaMismatch, err)
	}
	for _, t := range model.SelectedTables() {
		tt, ok := targetModel.Table(t.Key)
		if !ok {
			return fmt.Errorf("%w: target is missing table %s", subsetterrors.ErrSchemaMismatch, t.Key)
		}
		want := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			want[c.Name] = true
		}
		for _, c := range tt.Columns {
			delete(want, c.Name)
		}
		if len(want) > 0 {
			return fmt.Errorf("%w: target table %s is missing columns present in source", subsetterrors.ErrSchemaMismatch, t.Key)
		}
	}
	return nil
}

func printPlan(w io.Writer, model *dbmodel.Model) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSELECTED\tPRIORITIZED\tSOURCE_ROWS\tTARGET_ROWS\tFOREIGN_KEYS")
	for _, t := range model.Tables() {
		fmt.Fprintf(tw, "%s\t%v\t%v\t%d\t%d\t%d\n",
			t.Key.String(), t.Selected, t.Prioritized, t.SourceRowCount, t.TargetCount, len(t.Outgoing))
	}
	return tw.Flush()
}

func logProgress(logger *slog.Logger, model *dbmodel.Model) {
	for _, t := range model.SelectedTables() {
		logger.Info("table progress",
			slog.String("table", t.Key.String()),
			slog.Int64("copied", t.CopiedCount()),
			slog.Int64("target", t.TargetCount),
		)
	}
}

func parseFraction(raw string) (float64, error) {
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return 0, err
	}
	if f <= 0 || f > 1 {
		return 0, fmt.Errorf("fraction must be in (0, 1], got %v", f)
	}
	return f, nil
}

func dedup(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func clampGauge(score float64) float64 {
	if score > 1 {
		return 1
	}
	return score
}

// buildLogger wires stderr plus the optional rotating file (lumberjack) and
// syslog (srslog) sinks into a single slog.Logger, grounded on the teacher's
// main.go JSON-to-stdout setup but fanned out to the ambient log
// destinations its go.mod already carries.
func buildLogger(opts *options) (*slog.Logger, func(), error) {
	writers := []io.Writer{os.Stderr}
	var closers []io.Closer

	if opts.logFile != "" {
		lj := &lumberjack.Logger{Filename: opts.logFile, MaxSize: 100, MaxBackups: 5, MaxAge: 28, Compress: true}
		writers = append(writers, lj)
		closers = append(closers, lj)
	}

	if opts.syslogAddr != "" {
		network, raddr, ok := strings.Cut(opts.syslogAddr, "!")
		if !ok {
			network, raddr = "udp", opts.syslogAddr
		}
		w, err := srslog.Dial(network, raddr, srslog.LOG_INFO|srslog.LOG_DAEMON, "subsetter")
		if err != nil {
			return nil, nil, fmt.Errorf("%w: dial syslog %s: %v", subsetterrors.ErrConfiguration, opts.syslogAddr, err)
		}
		writers = append(writers, w)
		closers = append(closers, w)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level}))
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	return logger, closeAll, nil
}
