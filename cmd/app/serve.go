package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgehost/pkg/api"
	"edgehost/pkg/config"
	"edgehost/pkg/database"
	"edgehost/pkg/drivers/fileexport"
	"edgehost/pkg/drivers/logsink"
	"edgehost/pkg/endpoint"
	"edgehost/pkg/health"
	"edgehost/pkg/host"
	"edgehost/pkg/models"

	"github.com/gin-gonic/gin"
)

// serve runs the host daemon until SIGINT or SIGTERM.
func serve(configDir string) error {
	// ══════════════════════════════════════════════════════════════
	// CONFIGURATION
	// ══════════════════════════════════════════════════════════════
	conf, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ══════════════════════════════════════════════════════════════
	// STRUCTURED LOGGING
	// ══════════════════════════════════════════════════════════════
	handlerOpts := &slog.HandlerOptions{Level: conf.SlogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	if conf.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Info("Config loaded", "db_driver", conf.DBDriver, "endpoints", len(conf.Endpoints))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ══════════════════════════════════════════════════════════════
	// DATABASE
	// ══════════════════════════════════════════════════════════════
	db, err := database.Connect(conf)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	if err := database.Migrate(db); err != nil {
		return err
	}
	store, err := database.NewConfigStore(db, conf.EncryptionKey)
	if err != nil {
		return err
	}

	// ══════════════════════════════════════════════════════════════
	// ENDPOINT TYPES
	// ══════════════════════════════════════════════════════════════
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	slog.Info("Endpoint types registered", "types", registry.Types())

	fingerprint, err := host.ExecutableFingerprint()
	if err != nil {
		slog.Warn("Could not fingerprint executable, instances will carry none", "error", err)
	}

	// ══════════════════════════════════════════════════════════════
	// HOST MANAGER
	// ══════════════════════════════════════════════════════════════
	// Host events fan in to a single channel consumed by the fault monitor.
	eventChan := make(chan models.Event, conf.EventQueueSize)

	manager := host.NewManager(
		registry,
		endpoint.Services{Store: store, Logger: logger},
		eventChan,
		host.WithFingerprint(fingerprint),
		host.WithStartConcurrency(conf.StartConcurrency),
	)

	for _, spec := range conf.Endpoints {
		if _, err := manager.Create(ctx, spec); err != nil {
			slog.Error("Failed to create declared endpoint", "instance", spec.Name, "type", spec.Type, "error", err)
		}
	}

	if stored, err := store.Instances(ctx); err != nil {
		slog.Warn("Could not list stored configurations", "error", err)
	} else {
		for _, name := range stored {
			if _, err := manager.Get(name); err != nil {
				slog.Warn("Stored configuration has no endpoint instance", "instance", name)
			}
		}
	}

	// ══════════════════════════════════════════════════════════════
	// START SERVICES
	// ══════════════════════════════════════════════════════════════
	faultMonitor := health.NewFaultMonitor(
		eventChan,
		manager,
		conf.FaultRecoveryEnabled,
		conf.FaultWindowMinutes,
		conf.FaultThreshold,
	)
	go faultMonitor.Run(ctx)

	if err := manager.AutoStart(ctx).Err(); err != nil {
		slog.Error("Some endpoints failed to auto-start", "error", err)
	}

	// ══════════════════════════════════════════════════════════════
	// ROUTER SETUP
	// ══════════════════════════════════════════════════════════════
	if conf.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Auth(conf), api.NewEndpointHandler(manager))

	server := &http.Server{
		Addr:              conf.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ══════════════════════════════════════════════════════════════
	// START SERVER
	// ══════════════════════════════════════════════════════════════
	serverErr := make(chan error, 1)
	go func() {
		if conf.TLSCertFile != "" && conf.TLSKeyFile != "" {
			slog.Info("Starting HTTPS server", "address", conf.ServerAddress)
			serverErr <- server.ListenAndServeTLS(conf.TLSCertFile, conf.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server", "address", conf.ServerAddress)
			serverErr <- server.ListenAndServe()
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	// ══════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ══════════════════════════════════════════════════════════════
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	if err := manager.StopAll(shutdownCtx).Err(); err != nil {
		slog.Error("Some endpoints failed to stop", "error", err)
	}
	slog.Info("Shutdown complete")
	return runErr
}

// newRegistry registers every endpoint type compiled into the host.
func newRegistry() (*endpoint.Registry, error) {
	registry := endpoint.NewRegistry()
	for _, register := range []func(*endpoint.Registry) error{
		fileexport.Register,
		logsink.Register,
	} {
		if err := register(registry); err != nil {
			return nil, fmt.Errorf("failed to register endpoint type: %w", err)
		}
	}
	return registry, nil
}
