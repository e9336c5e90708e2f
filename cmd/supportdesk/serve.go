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

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/supportdesk/pkg/api"
	"github.com/codeready-toolchain/supportdesk/pkg/cleanup"
	"github.com/codeready-toolchain/supportdesk/pkg/config"
	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/presence"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/services"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
)

func serveCmd() *cobra.Command {
	var usersFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and dispatcher server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(usersFile)
		},
	}
	cmd.Flags().StringVar(&usersFile, "users", "",
		"YAML user directory to import before serving (required to populate the memory store)")
	return cmd
}

// needsDatabase reports whether any configured backend lives in PostgreSQL.
func needsDatabase(cfg *config.Config) bool {
	return cfg.Store.Backend == config.StoreBackendPostgres ||
		cfg.Transport.Mode == config.TransportModePostgres ||
		cfg.Presence.Backend == config.PresenceBackendDatabase
}

func runServe(usersFile string) error {
	podID := resolvePodID()
	slog.Info("Starting supportdesk", "pod_id", podID, "config_dir", configDir)

	// Background work (listener, cleanup, dispatcher) outlives the HTTP
	// server during shutdown so that queued events can still be written.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// 1. Initialize configuration
	cfg, err := config.Initialize(appCtx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// 2. Initialize database
	var (
		dbConfig database.Config
		dbClient *database.Client
	)
	if needsDatabase(cfg) {
		dbConfig, err = database.LoadConfigFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load database config: %w", err)
		}
		dbClient, err = database.NewClient(appCtx, dbConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")
	}

	// 3. Store and presence backends
	var (
		st       services.SessionStore
		upserter userUpserter
		pgStore  *store.Postgres
	)
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		slog.Warn("Using in-memory store, sessions and users are lost on restart")
		mem := store.NewMemory()
		st, upserter = mem, mem
	default:
		pgStore = store.NewPostgres(dbClient)
		st, upserter = pgStore, pgStore
	}
	if usersFile != "" {
		users, err := readUsersFile(usersFile)
		if err != nil {
			return err
		}
		n, err := importUsers(appCtx, upserter, users)
		if err != nil {
			return err
		}
		slog.Info("User directory imported", "file", usersFile, "count", n)
	}

	var (
		pres        services.PresenceTracker
		redisClient *presence.Redis
	)
	switch cfg.Presence.Backend {
	case config.PresenceBackendMemory:
		pres = presence.NewMemory()
	case config.PresenceBackendRedis:
		redisClient, err = presence.NewRedis(appCtx, cfg.Presence.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Error("Error closing redis client", "error", err)
			}
		}()
		pres = redisClient
	default:
		pres = pgStore
	}
	slog.Info("Backends initialized",
		"store", cfg.Store.Backend, "presence", cfg.Presence.Backend, "transport", cfg.Transport.Mode)

	// 4. Streaming infrastructure
	connManager := events.NewConnectionManager(cfg.Server.WSWriteTimeout)
	var (
		transport      services.Transport
		notifyListener *events.NotifyListener
	)
	switch cfg.Transport.Mode {
	case config.TransportModePostgres:
		publisher := events.NewPublisher(dbClient.DB())
		transport = events.NewNotifyTransport(publisher)

		// Dedicated pgx connection for LISTEN
		notifyListener = events.NewNotifyListener(dbConfig.DSN(), connManager, publisher)
		if err := notifyListener.Start(appCtx); err != nil {
			return fmt.Errorf("failed to start NotifyListener: %w", err)
		}
		defer notifyListener.Stop(context.Background())
		connManager.SetListener(notifyListener)

		cleanupService := cleanup.NewService(cfg.Transport, publisher)
		cleanupService.Start(appCtx)
		defer cleanupService.Stop()
	default:
		transport = events.NewLocalTransport(connManager)
	}
	slog.Info("Streaming infrastructure initialized")

	// 5. Domain services
	router := services.NewMessageRouter(st, transport)
	lifecycle := services.NewSessionLifecycle(st, queue.NewWaitingPool(), pres, router, transport)
	restored, err := lifecycle.Restore(appCtx)
	if err != nil {
		return fmt.Errorf("failed to restore waiting queue: %w", err)
	}
	slog.Info("Waiting queue restored", "sessions", restored)

	relay := services.NewCallSignalRelay(transport)
	calls := services.NewCallLogService(st)
	query := services.NewChatQueryService(st, lifecycle, pres, calls, time.Local)

	// 6. Start dispatcher (before HTTP server)
	dispatcher := queue.NewDispatcher(podID, cfg.Dispatcher)
	dispatcher.Start(appCtx)
	connManager.SetHandler(services.NewEventHandler(lifecycle, router, relay, calls, transport, dispatcher))

	// 7. Create HTTP server
	httpServer := api.NewServer(cfg, dbClient, query, dispatcher, connManager)
	if redisClient != nil {
		httpServer.AddHealthCheck("redis", redisClient)
	}
	if notifyListener != nil {
		httpServer.AddHealthCheck("listener", notifyListener)
	}

	// 8. Start HTTP server (non-blocking)
	connCtx, connCancel := context.WithCancel(appCtx)
	defer connCancel()
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(connCtx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("supportdesk started successfully",
		"pod_id", podID,
		"workers", cfg.Dispatcher.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var serveErr error
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case serveErr = <-errCh:
		slog.Error("Server error triggered shutdown", "error", serveErr)
	}

	// 10. Graceful shutdown: stop accepting, drop connections, then let the
	// dispatcher finish queued events.
	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	connCancel()

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Dispatcher stopped gracefully")
	case <-time.After(cfg.Dispatcher.GracefulShutdownTimeout):
		slog.Warn("Shutdown timeout exceeded, queued events dropped")
	}

	slog.Info("Shutdown complete")
	return serveErr
}
