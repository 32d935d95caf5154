package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wayfarer/internal/api"
	"wayfarer/internal/assist"
	"wayfarer/internal/auth"
	"wayfarer/internal/config"
	"wayfarer/internal/flights"
	"wayfarer/internal/localstore"
	"wayfarer/internal/logging"
	"wayfarer/internal/remotestore"
	syncpkg "wayfarer/internal/sync"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logging, routing DEBUG/INFO to the log file only
	var logOutput io.Writer = os.Stdout
	var fileWriter *logging.FileWriter
	if cfg.Logging.FileEnabled {
		fileWriter, err = logging.NewFileWriter(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer fileWriter.Close()
		logOutput = logging.NewMultiWriter(os.Stdout, fileWriter, true)
	}
	logger := logging.NewLogger("main", logging.ParseLevel(cfg.Logging.Level), logOutput)
	logger.Info("Starting Wayfarer v%s...", version)

	// Initialize local store with migrations
	local, err := localstore.New(cfg.Local.Path)
	if err != nil {
		logger.Error("Failed to initialize local store: %v", err)
		os.Exit(1)
	}
	defer local.Close()
	logger.Info("Local store initialized at %s", cfg.Local.Path)

	// Initialize remote store when configured
	var remote syncpkg.RemoteStore
	var remoteStore *remotestore.Store
	if cfg.Remote.DSN != "" && !cfg.Remote.Disabled {
		remoteStore, err = remotestore.New(context.Background(), cfg.Remote.DSN,
			logging.NewLogger("remotestore", logging.ParseLevel(cfg.Logging.Level), logOutput))
		if err != nil {
			logger.Error("Failed to initialize remote store: %v", err)
			os.Exit(1)
		}
		defer remoteStore.Close()
		remote = remoteStore
		logger.Info("Remote store mirroring enabled")
	} else {
		logger.Info("Remote store mirroring disabled, running local-only")
	}

	// Initialize inference backend client
	assistClient := assist.NewClient(
		cfg.Assist.BaseURL,
		cfg.Assist.APIKey,
		time.Duration(cfg.Assist.ConnectTimeoutSecs)*time.Second,
		logging.NewLogger("assist", logging.ParseLevel(cfg.Logging.Level), logOutput),
	)
	logger.Info("Inference backend: %s", cfg.Assist.BaseURL)

	// Initialize flight search client
	flightClient := flights.NewClient(
		cfg.Flights.BaseURL,
		cfg.Flights.ClientID,
		cfg.Flights.ClientSecret,
		logging.NewLogger("flights", logging.ParseLevel(cfg.Logging.Level), logOutput),
	)
	if flightClient.Configured() {
		logger.Info("Flight search enabled")
	}

	// WebSocket hub doubles as the coordinator's push channel
	hub := api.NewWebSocketHub(logging.NewLogger("websocket", logging.ParseLevel(cfg.Logging.Level), logOutput))

	// Initialize sync coordinator and outbox replay
	coordinator := syncpkg.NewCoordinator(local, remote, assistClient, hub, syncpkg.Options{
		OutboxInterval:    time.Duration(cfg.Sync.OutboxIntervalSecs) * time.Second,
		OutboxMaxAttempts: cfg.Sync.OutboxMaxAttempts,
		StrictSequence:    cfg.Sync.StrictSequence,
		StreamIdleTimeout: time.Duration(cfg.Assist.IdleTimeoutSecs) * time.Second,
	}, logging.NewLogger("sync", logging.ParseLevel(cfg.Logging.Level), logOutput))
	coordinator.StartOutbox()
	defer coordinator.Close()
	logger.Info("Sync coordinator initialized")

	// Initialize authentication
	authProvider := auth.NewUserpassAuth(local, cfg.Auth.SessionExpiryDays, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDurationMinutes)

	// Sweep expired session tokens hourly
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := local.CleanupExpiredTokens(context.Background()); err != nil {
					logger.Warn("Token cleanup failed: %v", err)
				}
			case <-cleanupDone:
				return
			}
		}
	}()
	defer close(cleanupDone)

	// Initialize API server
	apiServer := api.NewServer(coordinator, assistClient, flightClient, authProvider, hub,
		logging.NewLogger("api", logging.ParseLevel(cfg.Logging.Level), logOutput))

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	handler := auth.Middleware(authProvider)(mux)

	// Watch the config file for log level changes
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	watcher, err := config.NewWatcher("config.json", func(updated *config.Config) {
		logger.SetLevel(logging.ParseLevel(updated.Logging.Level))
		logger.Info("Log level set to %s", updated.Logging.Level)
	}, logging.NewLogger("config", logging.ParseLevel(cfg.Logging.Level), logOutput))
	if err != nil {
		logger.Warn("Config watcher unavailable: %v", err)
	} else {
		go watcher.Start(watchCtx)
	}

	// Create HTTP server. WriteTimeout stays zero so assistant streams are
	// not cut off mid-response.
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
		}
	}()

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	logger.Info("Wayfarer stopped")
}
