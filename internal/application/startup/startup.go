// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/container"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/tracing"
	"github.com/AtRiskMedia/tractstack-leads/internal/presentation/http/server"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// Initialize performs the complete startup sequence and blocks until a
// shutdown signal arrives.
func Initialize(cfg *config.Config) error {
	setupLogging(cfg)

	start := time.Now().UTC()

	log.Println("\033[32m" + `
  tractstack leads: conversion pipeline
` + "\033[97m" + `
  made by At Risk Media
` + "\033[0m")

	// Step 1: Channeled logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()
	logger.Startup().Info("Channeled logging initialized", "directory", cfg.Logging.Directory, "toFile", cfg.Logging.ToFile)

	// Step 2: Tracing
	phaseStart := time.Now()
	shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		logger.Startup().Warn("Tracing disabled", "error", err.Error())
	}
	logger.LogStartupPhase("tracing", time.Since(phaseStart), err == nil)

	// Step 3: Dependency injection container
	phaseStart = time.Now()
	appContainer, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.LogStartupPhase("container", time.Since(phaseStart), false)
		return fmt.Errorf("failed to build container: %w", err)
	}
	logger.LogStartupPhase("container", time.Since(phaseStart), true)
	logger.Startup().Info("Sinks configured",
		"sinks", strings.Join(appContainer.Dispatcher.Sinks(), ","),
		"dispatchBound", appContainer.Dispatcher.Bound(),
		"journal", appContainer.Journal != nil)

	// Step 4: HTTP server
	phaseStart = time.Now()
	httpServer := server.New(cfg, appContainer)
	logger.LogStartupPhase("http_server", time.Since(phaseStart), true)

	// Step 5: Graceful shutdown
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+cfg.Port)
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", cfg.Port)

	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			appContainer.Close()
			return err
		}
	}

	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Closing data layer hub and journal...")
	if err := appContainer.Close(); err != nil {
		logger.Shutdown().Error("Error closing container", "error", err.Error())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error flushing traces", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))
	return nil
}

// NewLogger builds the channeled logger from configuration.
func NewLogger(cfg config.LoggingConfig) (*logging.ChanneledLogger, error) {
	lc := logging.DefaultLoggerConfig()
	lc.OutputToFile = cfg.ToFile
	lc.LogDirectory = cfg.Directory
	lc.JSONFormat = cfg.JSON
	lc.DefaultLevel = parseLevel(cfg.Level)
	return logging.NewChanneledLogger(lc)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// setupLogging configures application logging
func setupLogging(cfg *config.Config) {
	if cfg.ReleaseMode || os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
