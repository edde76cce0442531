package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/config"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
)

const (
	// Application info
	appName    = "notifyd"
	appVersion = "0.1.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML configuration file")
		endpoint    = flag.String("endpoint", "", "Broker endpoint (overrides config and "+config.EnvEndpoint+")")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notifyd failed", zap.Error(err))
	}
}

// run starts the daemon and blocks until SIGINT, SIGTERM or SIGHUP.
func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("app", appName),
		zap.String("version", appVersion),
		zap.String("endpoint", cfg.Endpoint))

	d := newDaemon(cfg, logger)
	if err := d.start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.stop(shutdownCtx)

	logger.Info("stopped")
	return nil
}
