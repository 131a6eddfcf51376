package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nmslite/targetwatch/internal/channels"
	"github.com/nmslite/targetwatch/internal/collector"
	"github.com/nmslite/targetwatch/internal/config"
	"github.com/nmslite/targetwatch/internal/credentials"
	"github.com/nmslite/targetwatch/internal/database"
	"github.com/nmslite/targetwatch/internal/fetcher"
	"github.com/nmslite/targetwatch/internal/poller"
	"github.com/nmslite/targetwatch/internal/registry"
)

// engine is the wired polling stack for one process
type engine struct {
	logger   *slog.Logger
	store    *credentials.Store
	events   *channels.EventChannels
	registry registry.Registry
	manager  *poller.Manager
	pool     *pgxpool.Pool

	metricsCfg config.MetricsConfig
	metrics    *prometheus.Registry
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	store, err := credentials.NewStore(logger)
	if err != nil {
		return nil, err
	}

	profiles := cfg.Credentials.Profiles()
	resolver := credentials.NewResolver(store,
		credentials.WithProfiles(profiles),
		credentials.WithLogger(logger))
	if len(profiles) > 0 {
		logger.Warn("fallback credential profiles enabled", "count", len(profiles))
	}

	backend, err := newBackendClient(cfg.Collector, logger)
	if err != nil {
		return nil, err
	}

	api, err := newCollector(cfg.Collector, backend, logger)
	if err != nil {
		return nil, err
	}

	reg, pool, err := newRegistry(ctx, cfg, backend, logger)
	if err != nil {
		return nil, err
	}

	events := channels.NewEventChannels(cfg.Channel, logger)
	f := fetcher.New(resolver, api, events, logger)
	pollMetrics := poller.NewMetrics()
	manager := poller.NewManager(reg, f, events, logger, poller.Config{
		Interval:      cfg.Poller.Interval(),
		DownThreshold: cfg.Poller.DownThreshold,
		Metrics:       pollMetrics,
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promReg.MustRegister(pollMetrics.Collectors(manager.LiveTasks)...)

	logger.Info("engine initialized",
		"collector", cfg.Collector.Mode,
		"registry", cfg.Registry.Source,
		"interval", cfg.Poller.Interval(),
	)

	return &engine{
		logger:   logger,
		store:    store,
		events:   events,
		registry: reg,
		manager:  manager,
		pool:     pool,

		metricsCfg: cfg.Metrics,
		metrics:    promReg,
	}, nil
}

// close releases everything; the manager must already be shut down
func (e *engine) close() {
	e.events.Close()
	if e.pool != nil {
		e.pool.Close()
	}
}

// newBackendClient returns nil when no backend is configured
func newBackendClient(cfg config.CollectorConfig, logger *slog.Logger) (*collector.HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, nil
	}
	tokens := collector.NewTokenSource(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL(), cfg.APIToken)
	return collector.NewHTTPClient(collector.HTTPConfig{
		BaseURL:  cfg.BaseURL,
		DataMode: cfg.DataMode,
		Timeout:  cfg.Timeout(),
		Tokens:   tokens,
	}, logger)
}

func newCollector(cfg config.CollectorConfig, backend *collector.HTTPClient, logger *slog.Logger) (collector.MetricsAPI, error) {
	switch cfg.Mode {
	case "direct":
		return collector.NewDirect(collector.DirectConfig{
			KnownHostsFile: cfg.Direct.KnownHosts,
			SSHConfigFile:  cfg.Direct.SSHConfig,
			Domain:         cfg.Direct.Domain,
			UseHTTPS:       cfg.Direct.UseHTTPS,
			Timeout:        cfg.Direct.Timeout(),
		}, logger)
	case "http", "":
		if backend == nil {
			return nil, errors.New("collector.base_url is required for the http collector")
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown collector mode %q", cfg.Mode)
	}
}

func newRegistry(ctx context.Context, cfg *config.Config, backend *collector.HTTPClient, logger *slog.Logger) (registry.Registry, *pgxpool.Pool, error) {
	switch cfg.Registry.Source {
	case "static", "":
		reg, err := registry.NewMemory(cfg.Registry.Targets...)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid static targets: %w", err)
		}
		return reg, nil, nil
	case "http":
		if backend == nil {
			return nil, nil, errors.New("collector.base_url is required for the http registry")
		}
		return registry.NewHTTP(backend, cfg.Registry.HTTPTTL(), logger), nil, nil
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Registry.Migrate {
			if err := database.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("database migrations applied")
		}
		return registry.NewPostgres(pool, logger), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry source %q", cfg.Registry.Source)
	}
}
