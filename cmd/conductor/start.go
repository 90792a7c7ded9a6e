package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/conductor/internal/api"
	"github.com/mattjoyce/conductor/internal/auth"
	"github.com/mattjoyce/conductor/internal/bus"
	"github.com/mattjoyce/conductor/internal/config"
	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/history"
	"github.com/mattjoyce/conductor/internal/lock"
	"github.com/mattjoyce/conductor/internal/log"
	"github.com/mattjoyce/conductor/internal/notify"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/storage"
	"github.com/mattjoyce/conductor/internal/tracing"
)

const pruneInterval = time.Hour

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", envOr(configEnv, "config.yaml"), "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(cfg)
	if err != nil {
		logger.Warn("could not fingerprint configuration", "error", err)
	}
	logger.Info("conductor starting", "version", version, "config", *configPath, "config_blake3", fingerprint)

	if err := run(cfg, logger); err != nil {
		logger.Error("conductor stopped with error", "error", err)
		return 1
	}
	logger.Info("conductor stopped")
	return 0
}

func run(cfg *config.Config, logger *slog.Logger) error {
	instance, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		return fmt.Errorf("acquire instance lock %s: %w", cfg.Service.LockPath, err)
	}
	defer instance.Release()
	logger.Info("acquired instance lock", "path", instance.Path())

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Service.Name, version, cfg.Tracing.Output); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer db.Close()
	hist := history.New(db)
	logger.Info("history database opened", "path", cfg.State.Path)

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	hub := events.NewHub(cfg.Notify.EventBuffer)
	notifier := notify.Multi{
		notify.NewHubNotifier(hub),
		hist,
		notify.NewWebhookNotifier(cfg.Notify.WebhookSecret, cfg.Notify.WebhookTimeout, log.WithComponent("notify")),
	}

	var agent pd.AgentClient
	var etcdBus *bus.Bus
	if cfg.Etcd.Enabled() {
		etcdBus, err = bus.Dial(bus.Options{
			Endpoints:      cfg.Etcd.Endpoints,
			DialTimeout:    cfg.Etcd.DialTimeout,
			RequestTimeout: cfg.Etcd.RequestTimeout,
			Prefix:         cfg.Etcd.Prefix,
		}, log.WithComponent("bus"))
		if err != nil {
			return err
		}
		defer etcdBus.Close()
		etcdBus.PublishFeeds(hub)
		agent = etcdBus
		logger.Info("etcd bus connected", "endpoints", cfg.Etcd.Endpoints, "prefix", cfg.Etcd.Prefix)
	} else {
		agent = bus.NewHubAgent(hub, log.WithComponent("bus"))
		logger.Info("no etcd endpoints; agent commands go to the event stream")
	}

	core := pd.New(agent, notifier, log.WithComponent("pd"))

	errCh := make(chan error, 3)

	if etcdBus != nil {
		go func() {
			if err := etcdBus.Run(ctx, core); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("bus: %w", err)
			}
		}()
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, core, hist, reg, hub, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	if cfg.State.HistoryRetention > 0 {
		go pruneHistory(ctx, hist, cfg.State.HistoryRetention, logger)
	}

	logger.Info("conductor running (press Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		return nil
	case err := <-errCh:
		return err
	}
}

// pruneHistory drops history rows older than retention, once at start and
// then every pruneInterval.
func pruneHistory(ctx context.Context, hist *history.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := hist.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("history prune failed", "error", err)
		case n > 0:
			logger.Info("history pruned", "rows", n, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
