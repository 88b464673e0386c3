package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-blockscan/internal/blockscan/common/clock"
	"github.com/haukened/rr-blockscan/internal/blockscan/common/log"
	"github.com/haukened/rr-blockscan/internal/blockscan/config"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
	"github.com/haukened/rr-blockscan/internal/blockscan/gateways/api"
	"github.com/haukened/rr-blockscan/internal/blockscan/gateways/httpserver"
	"github.com/haukened/rr-blockscan/internal/blockscan/metrics"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/storage/bolt"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/storage/memory"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/storage/redis"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/verdictcache"
	"github.com/haukened/rr-blockscan/internal/blockscan/services/blocklist"
	"github.com/haukened/rr-blockscan/internal/blockscan/services/refresher"
)

const (
	version = "0.1.0-dev"
	appName = "rr-blockscan"
)

// storage is what the binary needs from a backend.
type storage interface {
	blocklist.Storage
	io.Closer
}

// Application holds the wired components.
type Application struct {
	config  *config.AppConfig
	clock   clock.Clock
	storage storage
	cache   verdictcache.Cache
	service *blocklist.Service
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":          version,
		"env":              cfg.Env,
		"log_level":        cfg.LogLevel,
		"api_url":          cfg.APIURL,
		"storage":          cfg.Storage,
		"refresh_interval": cfg.RefreshInterval,
	}, "Starting "+appName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	code := 0
	if err := app.Run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(map[string]any{"error": err}, appName+" failed")
		code = 1
	}
	if err := app.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Failed to close storage")
	}
	stop()
	os.Exit(code)
}

// buildApplication constructs all components and wires them together.
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	store, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}

	client := api.NewClient(api.Options{
		BlocklistURL: cfg.APIURL,
		APIKey:       cfg.APIKey,
		Timeout:      cfg.HTTPTimeout,
		Logger:       logger,
	})

	ref, err := refresher.New(refresher.Options{
		Fetcher: client,
		Request: domain.BlocklistRequest{
			PriorityBlockLists: cfg.PriorityBlockLists,
			PriorityAllowLists: cfg.PriorityAllowLists,
			Cursor:             cfg.CursorPtr(),
		},
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build refresher: %w", err)
	}

	cache, err := verdictcache.New(cfg.VerdictCacheSize)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}

	svc, err := blocklist.New(blocklist.Options{
		Storage:   store,
		Refresher: ref,
		Retry: refresher.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
		},
		Cache:  cache,
		Clock:  clk,
		Logger: logger,
		ReportError: func(err error) {
			logger.Warn(map[string]any{"error": err, "kind": domain.ErrorKind(err)}, "blocklist error")
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build blocklist service: %w", err)
	}

	return &Application{config: cfg, clock: clk, storage: store, cache: cache, service: svc}, nil
}

// buildStorage opens the configured snapshot backend.
func buildStorage(ctx context.Context, cfg *config.AppConfig) (storage, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		log.Info(map[string]any{"type": "memory"}, "Snapshot storage configured")
		return memory.New(), nil
	case config.StorageBolt:
		store, err := bolt.New(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info(map[string]any{"type": "bolt", "path": cfg.BoltPath}, "Snapshot storage configured")
		return store, nil
	case config.StorageRedis:
		store, err := redis.New(ctx, redis.Config{URL: cfg.RedisURL})
		if err != nil {
			return nil, err
		}
		log.Info(map[string]any{"type": "redis"}, "Snapshot storage configured")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// Run dispatches on args:
//
//	allow <hostname>   add hostname to the local allow-list
//	<url> [url...]     refresh once, then print one verdict per url
//	(none)             run the updater until ctx is done, or refresh once
//	                   when no refresh interval is configured
func (app *Application) Run(ctx context.Context, args []string, out io.Writer) error {
	switch {
	case len(args) > 0 && args[0] == "allow":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s allow <hostname>", appName)
		}
		if err := app.service.AllowDomainLocally(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "ALLOWED %s\n", args[1])
		return nil
	case len(args) > 0:
		return app.scan(ctx, args, out)
	default:
		return app.serve(ctx)
	}
}

func (app *Application) scan(ctx context.Context, urls []string, out io.Writer) error {
	if _, err := app.service.RefreshBlocklist(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Refresh failed, scanning with stored blocklist")
	}

	var invalid int
	for _, raw := range urls {
		v, err := app.service.ScanDomain(ctx, raw)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "ERROR %s: %v\n", raw, err)
			continue
		}
		fmt.Fprintf(out, "%s %s\n", v.Action, raw)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d urls could not be scanned", invalid, len(urls))
	}
	return nil
}

func (app *Application) serve(ctx context.Context) error {
	if app.config.RefreshInterval <= 0 {
		_, err := app.service.RefreshBlocklist(ctx)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return blocklist.NewUpdater(app.service, app.config.RefreshInterval, log.GetLogger()).Run(ctx)
	})

	if app.config.MetricsAddr != "" {
		srv := httpserver.New(app.config.MetricsAddr, app.service, app.clock, log.GetLogger(), app.collectors()...)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info(nil, appName+" stopped gracefully")
		return nil
	}
	return err
}

// collectors exports verdict cache counters and, for bolt, store statistics.
func (app *Application) collectors() []prometheus.Collector {
	cs := metrics.VerdictCacheCollectors(app.cache)
	if store, ok := app.storage.(*bolt.Store); ok {
		cs = append(cs, metrics.StorageCollectors(func() (int, int64) {
			st := store.Stats()
			return st.Keys, st.UpdatedUnix
		})...)
	}
	return cs
}

// Close releases the storage backend.
func (app *Application) Close() error {
	return app.storage.Close()
}
