package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jjo/promql-assist/pkg/ai"
	"github.com/jjo/promql-assist/pkg/assist"
	"github.com/jjo/promql-assist/pkg/config"
	"github.com/jjo/promql-assist/pkg/datasource"
	"github.com/jjo/promql-assist/pkg/language"
	"github.com/jjo/promql-assist/pkg/logging"
	"github.com/jjo/promql-assist/pkg/state"
)

// globalFlags are the root flags shared by every subcommand.
type globalFlags struct {
	configPath string
	url        string
	file       string
	logLevel   string
	noLookups  bool
	ai         ai.AIConfig
}

// app holds everything a subcommand needs to build a controller.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	ds       datasource.Datasource
	provider language.Provider
	ai       ai.Config
	store    *state.Store
	closers  []func() error
}

func newApp(ctx context.Context, g *globalFlags, getenv func(string) string) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, g)

	a := &app{cfg: cfg, logger: logging.New(cfg.Logging.Level, cfg.Logging.JSON, os.Stderr)}

	ds, err := openDatasource(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if ds != nil {
		a.ds = ds
		a.provider = language.NewPromQL(ds.Lookup(), a.logger)
		if r, ok := ds.(*datasource.Remote); ok {
			a.closers = append(a.closers, r.Close)
		}
	}

	a.ai, err = ai.Resolve(ai.Sources{
		Flags:       map[string]string(g.ai),
		Env:         getenv,
		ProfilePath: ai.DefaultProfilePath(),
		Base:        cfg.AI,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.State.Path != "" {
		store, err := state.Open(cfg.State.Path, a.logger)
		if err != nil {
			a.logger.Warn("editor state unavailable", "path", cfg.State.Path, "error", err)
		} else {
			a.store = store
			a.closers = append(a.closers, store.Close)
		}
	}

	if cfg.Metrics.Address != "" {
		if err := a.serveMetrics(ctx, cfg.Metrics.Address); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func applyFlags(cfg *config.Config, g *globalFlags) {
	if g.url != "" {
		cfg.Datasource.URL = g.url
	}
	if g.file != "" {
		cfg.Datasource.File = g.file
		cfg.Datasource.URL = ""
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.noLookups {
		cfg.Datasource.LookupsDisabled = true
	}
}

// openDatasource returns nil when neither a URL nor a file is configured.
func openDatasource(cfg *config.Config, logger *slog.Logger) (datasource.Datasource, error) {
	dc := cfg.Datasource
	switch {
	case dc.URL != "":
		r, err := datasource.NewRemote(dc.URL, datasource.RemoteOptions{
			Name:            dc.URL,
			LookupsDisabled: dc.LookupsDisabled,
			Timeout:         dc.Timeout,
			LabelValuesTTL:  cfg.Cache.LabelValuesTTL,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("datasource %s: %w", dc.URL, err)
		}
		return r, nil
	case dc.File != "":
		store, err := datasource.LoadFile(dc.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load metrics: %w", err)
		}
		logger.Info("loaded metrics", "file", dc.File, "metrics", len(store.MetricNames()), "samples", store.Samples())
		return datasource.NewLocal(store, datasource.LocalOptions{
			Name:            dc.File,
			LookupsDisabled: dc.LookupsDisabled,
			Timeout:         dc.Timeout,
			Logger:          logger,
		}), nil
	}
	return nil, nil
}

// options returns controller options wired to the configured datasource and stores.
// Interfaces stay nil when nothing backs them.
func (a *app) options(now time.Time) assist.Options {
	opts := assist.Options{
		Datasource: a.ds,
		Provider:   a.provider,
		AI:         a.ai,
		HistoryCap: a.cfg.State.HistoryCap,
		Logger:     a.logger,
	}
	if a.cfg.Datasource.Range > 0 {
		opts.Window = datasource.LastWindow(now, a.cfg.Datasource.Range)
	}
	if a.store != nil {
		opts.Labels = a.store
		opts.History = a.store
	}
	return opts
}

// history reads the persisted history, newest first.
func (a *app) history() []string {
	if a.store == nil {
		return nil
	}
	h, err := a.store.History(a.cfg.State.HistoryCap)
	if err != nil {
		a.logger.Warn("failed to read history", "error", err)
	}
	return h
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	if err := assist.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
