package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/batch"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
	"github.com/hochfrequenz/lake-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/lake-orchestrator/internal/registry"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
	"github.com/hochfrequenz/lake-orchestrator/tui"
	"github.com/hochfrequenz/lake-orchestrator/web/api"
)

var (
	runNoStore    bool
	runProgress   bool
	historyLimit  int
	reportJSON    bool
	lakesYAML     bool
	serveHost     string
	servePort     int
	scheduleServe bool
	watchInterval time.Duration
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run BASE [key=value...]",
		Short: "Run one batch from a base argument file",
		Long: `Resolve the named base argument file, apply key=value overrides and run
one batch over the selected lakes. Exits 1 when any lake failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not record the batch in the run store")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "print lake state changes as they happen")
	rootCmd.AddCommand(runCmd)

	// lakes command
	lakesCmd := &cobra.Command{
		Use:   "lakes",
		Short: "List registered lakes",
		RunE:  runLakes,
	}
	lakesCmd.Flags().BoolVar(&lakesYAML, "yaml", false, "dump the normalised registry as YAML")
	rootCmd.AddCommand(lakesCmd)

	// keys command
	keysCmd := &cobra.Command{
		Use:   "keys [KEY...]",
		Short: "List accepted argument keys and their defaults",
		RunE:  runKeys,
	}
	rootCmd.AddCommand(keysCmd)

	// report command
	reportCmd := &cobra.Command{
		Use:   "report [BATCH]",
		Short: "Show the report of a batch (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReport,
	}
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(reportCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history LAKE",
		Short: "Show recent runs of one lake",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled batches until interrupted",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().BoolVar(&scheduleServe, "serve", false, "also serve the API and stream batch events")
	rootCmd.AddCommand(scheduleCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only batch API",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Launch the terminal dashboard",
		RunE:  runWatch,
	}
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, positional []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	base, overrides, err := splitRunArgs(positional)
	if err != nil {
		return err
	}
	runCfg, err := a.resolver().Resolve(base, overrides)
	if err != nil {
		return err
	}
	if logLevel == "" {
		level := runCfg.LogLevel
		if runCfg.Debug {
			level = "debug"
		}
		a.setLevel(level)
	}

	ctx, stop := signalContext()
	defer stop()
	ctx = a.context(ctx)

	reg, err := a.registry()
	if err != nil {
		return err
	}

	var store *runstore.Store
	if !runNoStore {
		if store, err = a.store(ctx); err != nil {
			return err
		}
		defer store.Close()
	}

	var sink orchestrator.EventSink
	if runProgress {
		sink = progressPrinter(cmd.ErrOrStderr())
	}
	report, err := a.orchestrator(reg, runCfg, store, sink).Run(ctx, runCfg)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	if report.ExitCode() != 0 {
		return errLakesFailed
	}
	return nil
}

func runLakes(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	reg, err := a.registry()
	if err != nil {
		return err
	}

	if lakesYAML {
		data, err := reg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return printLakes(cmd.OutOrStdout(), reg, a.adapter("").Types())
}

func printLakes(out io.Writer, reg *registry.Registry, types []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tELEVATION\tMAX DEPTH\tFORCING\tINFLOWS\tFORECAST")
	for _, lake := range reg.List() {
		forecast := "-"
		if lake.Forecast != nil {
			forecast = lake.Forecast.Product()
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%.1f\t%s\t%d\t%s\n",
			lake.Key, lake.Name, lake.Elevation, lake.MaxDepth,
			bindings(lake.Forcing), len(lake.Inflows), forecast)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d lakes in %s\n", reg.Len(), reg.Path())
	fmt.Fprintf(out, "binding types: %s\n", strings.Join(types, ", "))
	return nil
}

func runKeys(cmd *cobra.Command, names []string) error {
	return printKeys(cmd.OutOrStdout(), names)
}

func runReport(cmd *cobra.Command, positional []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx := a.context(cmd.Context())
	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var id string
	if len(positional) == 1 {
		id = positional[0]
	} else {
		latest, err := store.LatestBatch(ctx)
		if errors.Is(err, runstore.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "No batches recorded yet")
			return nil
		}
		if err != nil {
			return err
		}
		id = latest.ID
	}

	report, err := store.Report(ctx, id)
	if err != nil {
		return err
	}
	if reportJSON {
		return writeReportJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func runHistory(cmd *cobra.Command, positional []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx := a.context(cmd.Context())
	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.LakeHistory(ctx, positional[0], historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded for %s\n", positional[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tSTATE\tSTARTED\tFETCH\tPUBLISH\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(r.BatchID), r.State, formatTime(r.StartedAt),
			r.FetchAttempts, r.PublishAttempts, failureText(r))
	}
	return w.Flush()
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	schedule, err := batch.LoadScheduleConfig(a.cfg.General.ScheduleFile)
	if err != nil {
		return err
	}
	if len(schedule.Batches) == 0 {
		return fmt.Errorf("no batches in %s", a.cfg.General.ScheduleFile)
	}

	ctx, stop := signalContext()
	defer stop()
	ctx = a.context(ctx)

	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	watcher, err := registry.NewWatcher(a.cfg.General.RegistryPath, a.adapter(""), a.logger)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()
	lakes := watcherSource{w: watcher}

	sched, err := batch.NewScheduler(schedule.Batches, batch.WithLogger(a.logger))
	if err != nil {
		return err
	}

	var sink orchestrator.EventSink
	g, ctx := errgroup.WithContext(ctx)
	if scheduleServe {
		server := api.NewServer(store, lakes, a.addr(), a.logger)
		sink = server.Hub()
		g.Go(func() error { return server.Start(ctx) })
	}

	g.Go(func() error {
		for _, name := range sched.ListBatches() {
			a.logger.Info("batch scheduled", "batch", name, "next", sched.NextRun(name))
		}
		sched.Start(ctx, func(ctx context.Context, bc batch.BatchConfig) error {
			overrides, err := args.ParseOverrides(bc.Overrides)
			if err != nil {
				return err
			}
			runCfg, err := a.resolver().Resolve(bc.Base, overrides)
			if err != nil {
				return err
			}
			report, err := a.orchestrator(lakes, runCfg, store, sink).Run(ctx, runCfg)
			if err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("%s: %w", orchestrator.Summary(report), errLakesFailed)
			}
			return nil
		})
		return nil
	})
	return g.Wait()
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	ctx = a.context(ctx)

	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	watcher, err := registry.NewWatcher(a.cfg.General.RegistryPath, a.adapter(""), a.logger)
	if err != nil {
		return err
	}
	watcher.SetOnReload(func(r *registry.Registry) {
		a.logger.Info("registry reloaded", "lakes", r.Len())
	})
	watcher.Start(ctx)
	defer watcher.Stop()

	server := api.NewServer(store, watcherSource{w: watcher}, a.addr(), a.logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", a.addr())
	return server.Start(ctx)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	// Logging to stderr would corrupt the alt screen.
	a.logger = logging.Discard()
	slog.SetDefault(a.logger)

	ctx := a.context(cmd.Context())
	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	model := tui.NewModel(tui.ModelConfig{Source: store, Interval: watchInterval})
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// progressPrinter writes one line per lake state change.
func progressPrinter(out io.Writer) orchestrator.EventFunc {
	var mu sync.Mutex
	return func(e orchestrator.Event) {
		if e.Type != orchestrator.EventRunState {
			return
		}
		line := fmt.Sprintf("%s  %-12s %s", e.At.Local().Format("15:04:05"), e.LakeKey, e.State)
		if e.FailureKind != "" {
			line += " (" + string(e.FailureKind) + ")"
		}
		mu.Lock()
		fmt.Fprintln(out, line)
		mu.Unlock()
	}
}

func printReport(out io.Writer, report *domain.BatchReport) {
	fmt.Fprintln(out, orchestrator.Summary(report))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LAKE\tSTATE\tFETCH\tPUBLISH\tFAILURE")
	for _, r := range report.Records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			r.LakeKey, r.State, r.FetchAttempts, r.PublishAttempts, failureText(r))
	}
	w.Flush()
}

// printKeys lists the named keys, or the whole schema when names is empty.
func printKeys(out io.Writer, names []string) error {
	keys := args.Schema()
	if len(names) > 0 {
		keys = keys[:0]
		for _, name := range names {
			k, ok := args.Lookup(name)
			if !ok {
				return fmt.Errorf("%w: unknown argument key %q", args.ErrConfiguration, name)
			}
			keys = append(keys, k)
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTYPE\tDEFAULT\tDESCRIPTION")
	for _, k := range keys {
		desc := k.Description
		if len(k.Choices) > 0 {
			desc += " (" + strings.Join(k.Choices, "|") + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.Name, k.Kind, k.DefaultString(), desc)
	}
	return w.Flush()
}

func failureText(r domain.RunRecord) string {
	if r.State != domain.StateFailed {
		return ""
	}
	msg := r.Error
	if len(msg) > 60 {
		msg = msg[:57] + "..."
	}
	return fmt.Sprintf("%s: %s", r.FailureKind, msg)
}

func bindings(bs []domain.ForcingBinding) string {
	if len(bs) == 0 {
		return "-"
	}
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
