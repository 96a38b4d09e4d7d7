package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/config"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/engine"
	"github.com/hochfrequenz/lake-orchestrator/internal/forcing"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
	"github.com/hochfrequenz/lake-orchestrator/internal/notify"
	"github.com/hochfrequenz/lake-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/lake-orchestrator/internal/registry"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
)

// errLakesFailed makes the process exit 1 after the report was printed.
var errLakesFailed = errors.New("one or more lakes failed")

// app bundles what every command needs
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.General.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.New(level, cfg.General.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

// setLevel rebuilds the logger at level; empty keeps the current one.
func (a *app) setLevel(level string) {
	if level == "" {
		return
	}
	a.logger = logging.New(level, a.cfg.General.LogFormat, os.Stderr)
	slog.SetDefault(a.logger)
}

func (a *app) addr() string {
	host, port := a.cfg.Web.Host, a.cfg.Web.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (a *app) context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.logger)
}

// adapter builds the forcing adapter for one data API endpoint.
func (a *app) adapter(dataAPI string) *forcing.Adapter {
	return forcing.NewDefaultAdapter(dataAPI, a.cfg.ProviderTimeout(), a.cfg.Providers.UserAgent)
}

func (a *app) registry() (*registry.Registry, error) {
	return registry.Load(a.cfg.General.RegistryPath, a.adapter(""))
}

func (a *app) resolver() *args.Resolver {
	return args.NewResolver(a.cfg.General.ArgsDir)
}

func (a *app) store(ctx context.Context) (*runstore.Store, error) {
	store, err := runstore.Open(ctx, a.cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	return store, nil
}

func (a *app) notifier() notify.Notifier {
	var n notify.Notifier = notify.NewMultiNotifier(
		notify.NewDesktopNotifier(a.cfg.Notifications.Desktop),
		notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook),
	)
	if a.cfg.Notifications.OnlyFailures {
		n = notify.FailuresOnly{Next: n}
	}
	return n
}

// orchestrator wires one batch run. store and sink may be nil.
func (a *app) orchestrator(lakes orchestrator.LakeSource, runCfg args.RunConfiguration, store *runstore.Store, sink orchestrator.EventSink) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithStorage(a.cfg.Storage),
		orchestrator.WithNotifier(a.notifier()),
	}
	if store != nil {
		opts = append(opts, orchestrator.WithStore(store))
	}
	if sink != nil {
		opts = append(opts, orchestrator.WithEvents(sink))
	}
	return orchestrator.New(lakes, a.adapter(runCfg.DataAPI), engine.NewExecutor(a.cfg.Engine), opts...)
}

// splitRunArgs separates the base name from key=value overrides.
func splitRunArgs(positional []string) (string, []args.Override, error) {
	if len(positional) == 0 {
		return "", nil, fmt.Errorf("%w: base argument file name required", args.ErrConfiguration)
	}
	overrides, err := args.ParseOverrides(positional[1:])
	if err != nil {
		return "", nil, err
	}
	return positional[0], overrides, nil
}

// watcherSource selects lakes from whatever registry the watcher holds now.
type watcherSource struct {
	w *registry.Watcher
}

func (s watcherSource) Select(keys []string) ([]domain.LakeParameters, error) {
	return s.w.Current().Select(keys)
}

func (s watcherSource) List() []domain.LakeParameters {
	return s.w.Current().List()
}

func writeReportJSON(w io.Writer, report *domain.BatchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
