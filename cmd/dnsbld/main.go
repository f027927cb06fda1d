package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/clock"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/config"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/gateways/lookup"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/gateways/transport"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/infra/metrics"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/repos/registry"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/repos/replycache"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/services/screening"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "dnsbld"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the screening server
type Application struct {
	config    *config.AppConfig
	logger    log.Logger
	metrics   *metrics.Metrics
	resolver  *lookup.Resolver
	service   *screening.Service
	transport transport.ServerTransport
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":    version,
		"env":        cfg.Env,
		"log_level":  cfg.Log.Level,
		"listen":     cfg.Listen,
		"servers":    cfg.Resolver.Servers,
		"blacklists": cfg.Blacklists.File,
	}, "Starting "+appName)

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				if err := app.Reload(); err != nil {
					log.Error(map[string]any{"error": err}, "Blacklist reload failed")
				}
				continue
			}
			log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
			cancel()
			return
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, appName+" stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := &clock.RealClock{}
	logger := log.GetLogger()
	m := metrics.New()

	lookupOpts := lookup.Options{
		Servers: cfg.Resolver.Servers,
		Timeout: cfg.Resolver.Timeout,
		Logger:  logger,
	}
	if cfg.Resolver.CacheSize > 0 {
		cache, err := replycache.New(cfg.Resolver.CacheSize, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create reply cache: %w", err)
		}
		lookupOpts.Cache = cache
		logger.Info(map[string]any{
			"type": "LRU",
			"size": cfg.Resolver.CacheSize,
		}, "Reply cache configured")
	}

	res, err := lookup.NewResolver(lookupOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup resolver: %w", err)
	}

	svc := screening.NewService(screening.Options{
		Registry: registry.New(),
		Resolver: res,
		Clock:    clk,
		Logger:   logger,
		Metrics:  m,
	})

	tr, err := transport.NewTransport(transport.TransportTCP, cfg.Listen, logger)
	if err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	app := &Application{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		resolver:  res,
		service:   svc,
		transport: tr,
	}
	if err := app.Reload(); err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("failed to load blacklists: %w", err)
	}
	return app, nil
}

// Reload re-reads the blacklists file and applies it. On error the running
// configuration is left untouched.
func (app *Application) Reload() error {
	lists, err := config.LoadBlacklists(app.config.Blacklists.File)
	if err != nil {
		return err
	}
	app.service.Reload(lists)
	return nil
}

// Run starts the server and blocks until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- app.service.Run(context.Background(), app.resolver.Completions())
	}()

	if addr := app.config.Metrics.Listen; addr != "" {
		go func() {
			if err := app.metrics.Serve(ctx, addr, app.logger); err != nil {
				app.logger.Error(map[string]any{"error": err}, "Metrics endpoint failed")
			}
		}()
	}

	if err := app.transport.Start(ctx, app.service); err != nil {
		_ = app.resolver.Close()
		<-serviceDone
		return fmt.Errorf("failed to start transport: %w", err)
	}

	if app.config.Blacklists.Watch {
		err := config.WatchBlacklists(app.config.Blacklists.File, func(lists []domain.Blacklist, err error) {
			if err != nil {
				app.logger.Error(map[string]any{"error": err}, "Blacklist reload failed")
				return
			}
			app.service.Reload(lists)
		})
		if err != nil {
			app.logger.Warn(map[string]any{"error": err}, "Could not watch blacklists file")
		}
	}

	app.logger.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "tcp",
	}, "Screening server started")

	<-ctx.Done()

	app.logger.Info(nil, "Shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs error
		errs = multierr.Append(errs, app.transport.Stop())
		errs = multierr.Append(errs, app.resolver.Close())
		errs = multierr.Append(errs, <-serviceDone)
		app.service.Shutdown()
		done <- errs
	}()

	select {
	case err := <-done:
		if err != nil {
			app.logger.Warn(map[string]any{"error": err}, "Errors during shutdown")
		}
		app.logger.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		app.logger.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
