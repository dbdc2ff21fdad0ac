// taskstream server: serves task sessions over gRPC and WebSocket, exposes
// the HTTP API and optionally records finished runs in PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/api"
	"github.com/codeready-toolchain/taskstream/pkg/config"
	"github.com/codeready-toolchain/taskstream/pkg/database"
	"github.com/codeready-toolchain/taskstream/pkg/history"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/codeready-toolchain/taskstream/pkg/tasks"
	"github.com/codeready-toolchain/taskstream/pkg/transport/grpcstream"
	"github.com/codeready-toolchain/taskstream/pkg/version"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging installs the default logger from LOG_FORMAT (text|json) and
// LOG_LEVEL (debug|info|warn|error).
func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler).With("app", version.AppName))
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	envErr := godotenv.Load(envPath)
	setupLogging()
	if envErr != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", envErr)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting taskstream",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Register task bodies
	registry := session.NewRegistry()
	tasks.Register(registry, cfg.Tasks)
	slog.Info("Task types registered", "task_types", registry.Types(),
		"default", cfg.Session.DefaultTaskType)

	opts := session.Options{
		DefaultTaskType:      cfg.Session.DefaultTaskType,
		ProgressMaxPerSecond: cfg.Session.ProgressMaxPerSecond,
		ShutdownTimeout:      cfg.Session.ShutdownTimeout,
		MaxRecordedEvents:    cfg.Session.MaxRecordedEvents,
	}

	// 3. Optional run history
	var (
		dbClient *database.Client
		runStore *history.Store
	)
	if cfg.History.Enabled {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		runStore = history.NewStore(dbClient.Pool())
		opts.Recorder = runStore
		slog.Info("Connected to PostgreSQL database, run history enabled")
	} else {
		slog.Info("Run history disabled")
	}

	manager := session.NewManager(registry, opts)

	// 4. gRPC server (optional)
	grpcServer := grpc.NewServer()
	grpcstream.Register(grpcServer, manager)

	var lis net.Listener
	if cfg.Server.GRPCAddr != "" {
		lis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("gRPC disabled")
	}

	// 5. HTTP server
	httpServer := api.NewServer(cfg, manager)
	if runStore != nil {
		httpServer.SetHistory(dbClient, runStore)
	}

	// 6. Start both servers (non-blocking)
	errCh := make(chan error, 2)
	if lis != nil {
		go func() {
			slog.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				slog.Error("gRPC server error", "error", err)
				errCh <- err
			}
		}()
	}
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.Start(cfg.Server.HTTPAddr); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("taskstream started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: cancel live sessions so every client still gets
	// its Finished message, then stop the servers.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if n := manager.CancelAll(); n > 0 {
		drained := waitForSessions(shutdownCtx, manager)
		if drained {
			slog.Info("Live sessions drained", "count", n)
		} else {
			slog.Warn("Shutdown timeout exceeded with sessions still open", "remaining", manager.Active())
		}
	}

	grpcDone := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(grpcDone)
	}()
	select {
	case <-grpcDone:
		slog.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("gRPC graceful stop timed out, forcing")
		grpcServer.Stop()
	}

	// Stop HTTP server with its own timeout budget
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// waitForSessions polls until no session is live or ctx ends.
func waitForSessions(ctx context.Context, manager *session.Manager) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for manager.Active() > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}
