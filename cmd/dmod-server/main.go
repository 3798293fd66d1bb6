// Package main runs the DMOD request service: the websocket listener that
// fronts session management, job submission and dataset management.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/config"
	"github.com/NOAA-OWP/DMOD-sub002/dataservice"
	"github.com/NOAA-OWP/DMOD-sub002/inquiry"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/metric"
	"github.com/NOAA-OWP/DMOD-sub002/requestservice"
	"github.com/NOAA-OWP/DMOD-sub002/server"
	"github.com/NOAA-OWP/DMOD-sub002/session"
	"github.com/NOAA-OWP/DMOD-sub002/storage"
	"github.com/NOAA-OWP/DMOD-sub002/storage/fsstore"
	"github.com/NOAA-OWP/DMOD-sub002/storage/objstore"
	"github.com/NOAA-OWP/DMOD-sub002/validation"
)

const (
	// Version is the build version stamped into logs.
	Version = "0.1.0"
	appName = "dmod-server"
)

type cliConfig struct {
	configPath      string
	logLevel        string
	validateOnly    bool
	shutdownTimeout time.Duration
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}
	flag.StringVar(&cli.configPath, "config", "config.yaml", "path to the configuration file")
	flag.StringVar(&cli.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&cli.validateOnly, "validate", false, "validate the configuration and exit")
	flag.DurationVar(&cli.shutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	flag.Parse()
	return cli
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("app", appName, "version", Version)
}

func run() error {
	cli := parseFlags()
	logger := newLogger(cli.logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	if cli.validateOnly {
		logger.Info("configuration is valid", "path", cli.configPath)
		return nil
	}

	ctx := context.Background()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	sessions := session.NewInMemoryManager()

	collection, err := inquiry.NewManagerCollection(backend, metricsRegistry.Metrics, logger)
	if err != nil {
		return err
	}
	engine := inquiry.NewEngine(collection, logger)

	var validator *validation.Validator
	if cfg.Validation.SchemaFile != "" {
		validator, err = validation.NewValidatorFromFile(cfg.Validation.SchemaFile)
		if err != nil {
			return err
		}
	}

	srv, err := server.NewService(
		cfg.Service.Name,
		cfg.Server,
		cfg.Security,
		message.DefaultRegistry(),
		sessions,
		nil,
		metricsRegistry,
		logger,
	)
	if err != nil {
		return err
	}

	requests := requestservice.New(engine, collection, logger)
	if err := requests.Register(srv); err != nil {
		return err
	}
	data := dataservice.New(collection, validator, logger)
	if err := data.Register(srv); err != nil {
		return err
	}

	srv.Health().SetHealthy("storage", "")
	srv.AddBackgroundTask("dataset-expiry-purge", time.Hour, func(ctx context.Context) error {
		purged, err := collection.PurgeExpired(ctx)
		if purged > 0 {
			logger.Info("purged expired datasets", "count", purged)
		}
		if err != nil {
			srv.Health().SetUnhealthy("storage", err.Error())
		} else {
			srv.Health().SetHealthy("storage", "")
		}
		return err
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	return srv.Stop(cli.shutdownTimeout)
}

func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Mode {
	case config.StorageModeObject:
		return objstore.New(ctx, cfg.Storage.Object)
	default:
		return fsstore.New(cfg.Storage.Root)
	}
}
