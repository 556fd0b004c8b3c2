package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"MotoMind-Vision/internal/api"
	"MotoMind-Vision/internal/capture"
	"MotoMind-Vision/internal/config"
	"MotoMind-Vision/internal/decode"
	"MotoMind-Vision/internal/events"
	"MotoMind-Vision/internal/observability/alerting"
	"MotoMind-Vision/internal/observability/metrics"
	"MotoMind-Vision/internal/plugins"
	"MotoMind-Vision/internal/plugins/analytics"
	"MotoMind-Vision/internal/plugins/vindecode"
	"MotoMind-Vision/internal/plugins/vinvalidation"
	"MotoMind-Vision/internal/storage/mysql"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/logger"
	"MotoMind-Vision/pkg/plugin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("motomind-visiond: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("daemon")

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				lg.Warn("close resource failed", slog.Any("error", err))
			}
		}
	}()

	m := metrics.New()
	var serverOpts []api.Option

	var wmi vin.WMISource
	if cfg.WMI.MySQL.DSN != "" {
		db, err := mysql.Open(ctx, cfg.WMI.MySQL)
		if err != nil {
			return err
		}
		closers = append(closers, db)
		repo, err := mysql.NewWMIRepository(ctx, db, cfg.WMI.MySQL)
		if err != nil {
			return err
		}
		if cfg.WMI.Seed {
			if err := repo.Seed(ctx, vin.DefaultTable()); err != nil {
				return err
			}
		}
		wmi = repo
		serverOpts = append(serverOpts, api.WithHealthCheck("mysql", repo.Ping))
	}

	cache, err := buildCache(ctx, cfg, &closers, &serverOpts)
	if err != nil {
		return err
	}
	provider, err := decode.NewProvider(cfg.Decode.APIProvider, decode.ProviderConfig{
		NHTSABaseURL: cfg.Decode.NHTSABaseURL,
		WMI:          wmi,
	})
	if err != nil {
		return err
	}
	decoder, err := decode.NewDecoder(provider, cfg.Decode.Options,
		decode.WithCache(cache),
		decode.WithLogger(logger.Named("decode")),
		decode.WithObserver(m),
	)
	if err != nil {
		return err
	}

	publisher, err := events.NewPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	closers = append(closers, publisher)
	if src, ok := publisher.(api.EventSource); ok {
		serverOpts = append(serverOpts, api.WithEvents(src))
	}

	validation := vinvalidation.DefaultOptions()
	validation.Options = cfg.Validation
	factories := plugins.RegisterWithDefaults(nil, plugins.Defaults{
		Validation: validation,
		Confidence: cfg.Confidence,
		Decode:     vindecode.Options{Options: cfg.Decode.Options, NHTSABaseURL: cfg.Decode.NHTSABaseURL},
	})
	pluginCfg := cfg.Plugins
	if len(pluginCfg.Plugins) == 0 {
		pluginCfg.Plugins = plugins.DefaultConfig().Plugins
	}
	sessions := plugins.Sessions(factories, pluginCfg,
		plugin.WithLogger(logger.Named("plugin")),
		plugin.WithObserver(m),
		plugin.WithResource(vindecode.ResourceDecoder, decoder),
		plugin.WithResource(analytics.ResourcePublisher, publisher),
	)
	if err := verifyPipeline(ctx, sessions, lg); err != nil {
		return err
	}

	hostOpts := []capture.Option{
		capture.WithRetryPolicy(cfg.Capture.RetryPolicy),
		capture.WithObserver(m),
		capture.WithLogger(logger.Named("capture")),
	}
	if alerter := buildAlerter(cfg.Alerting); alerter != nil {
		hostOpts = append(hostOpts, capture.WithAlerter(alerter))
	}

	serverOpts = append(serverOpts,
		api.WithDecoder(decoder),
		api.WithValidation(cfg.Validation),
		api.WithHostOptions(hostOpts...),
		api.WithBatchConcurrency(cfg.Capture.BatchConcurrency),
		api.WithMetrics(m),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
	server := api.NewServer(cfg.Server.Address, sessions, serverOpts...)

	lg.Info("motomind-visiond started",
		slog.String("addr", cfg.Server.Address),
		slog.String("decode_provider", decoder.Provider()),
		slog.String("events_driver", cfg.Events.Driver),
		slog.Int("plugins", len(pluginCfg.Plugins)),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("motomind-visiond stopped")
	return nil
}

// buildCache layers the in-process LRU over Redis when an address is configured.
func buildCache(ctx context.Context, cfg *config.Config, closers *[]io.Closer, serverOpts *[]api.Option) (decode.Cache, error) {
	local, err := decode.NewMemoryCache(cfg.Decode.CacheSize)
	if err != nil {
		return nil, err
	}
	if cfg.Decode.Redis.Address == "" {
		return local, nil
	}
	shared, err := decode.NewRedisCache(ctx, cfg.Decode.Redis)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, shared)
	*serverOpts = append(*serverOpts, api.WithHealthCheck("redis", shared.Ping))
	return decode.LayeredCache{Local: local, Shared: shared}, nil
}

func buildAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// verifyPipeline builds and tears down one session so configuration errors
// surface at startup rather than on the first request.
func verifyPipeline(ctx context.Context, sessions capture.ManagerFactory, log *slog.Logger) error {
	mgr, err := sessions(ctx)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	for _, info := range mgr.List() {
		log.Info("plugin enabled", slog.String("id", info.ID), slog.String("version", info.Version))
	}
	return mgr.DestroyAll(ctx)
}
