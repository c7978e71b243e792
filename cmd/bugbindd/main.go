// Bugbindd is the bug-report/test-case matching daemon.
//
// This binary starts the bugbind HTTP server with full service
// initialization: the correction ledger, the issue tracker and test
// management clients, the matching engine, and the webhook endpoints.
//
// Configuration is loaded from a YAML file plus BUGBIND_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	bugbindd
//
//	# Explicit config file
//	bugbindd -config ~/.config/bugbind/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/config"
	"github.com/fyrsmithlabs/bugbind/internal/httpapi"
	"github.com/fyrsmithlabs/bugbind/internal/logging"
	"github.com/fyrsmithlabs/bugbind/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  bugbindd           Start the bugbind daemon\n")
			fmt.Fprintf(os.Stderr, "  bugbindd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("bugbindd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the bugbind server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger
//  3. Builds the service graph (ledger, clients, engine, workflows)
//  4. Starts the HTTP server with webhook endpoints
//  5. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Redaction.Fields = cfg.Logging.RedactFields
	logCfg.Redaction.Patterns = cfg.Logging.RedactPatterns
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("Starting bugbindd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("matching_mode", cfg.Matching.Mode),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	registry, closeServices, err := services.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := closeServices(); err != nil {
			logger.Warn("closing services", zap.Error(err))
		}
	}()

	logger.Info("Services initialized",
		zap.Bool("learning_enabled", !cfg.Matching.LearningDisabled),
		zap.Bool("pre_filter_enabled", !cfg.Matching.PreFilterDisabled),
		zap.Bool("persistent_ledger", cfg.Ledger.Path != ""))

	srv, err := httpapi.NewServer(registry.Workflows(), registry.Corrections(),
		httpapi.NewMetrics(), logger, &httpapi.Config{
			Host:               "0.0.0.0",
			Port:               cfg.Server.Port,
			WebhookSecret:      cfg.Server.WebhookSecret,
			RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("webhook_prefix", "/api/v1/webhook"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
