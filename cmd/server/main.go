/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the PCP production scheduling server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file, .env, environment)
  2. Set up the logger for the environment
  3. Open the store (SQLite or MySQL) and migrate it
  4. Wire planning service, approval workflow and dispatcher
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: $CONFIG_PATH, else env only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the approval dispatcher (drains queued triggers)
  4. Close database connection

EXAMPLES:
  # Local run with defaults (SQLite at ./data/pcp.db)
  ./server

  # In-memory database
  PCP_SQLITE_PATH=":memory:" ./server

  # MySQL from a config file
  ./server -config=config/prod.yaml

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - api/dispatcher.go: Background approval dispatcher
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/pcp-engine/api"
	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/config"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/store/mysql"
	"github.com/warp/pcp-engine/store/sqlite"
	"github.com/warp/pcp-engine/store/sqlstore"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	log := setupLogger(cfg.Env)

	ctx := context.Background()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Error("failed to initialize database", slog.String("driver", cfg.Storage.Driver), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	svc := planning.NewService(store, nil, log, planning.ServiceConfig{
		LookaheadDays: cfg.Engine.LookaheadDays,
		RetryAttempts: cfg.Engine.RetryAttempts,
	})
	workflow := approval.NewWorkflow(store, svc, log)

	dispatcher := api.NewApprovalDispatcher(workflow, log, cfg.Approval.QueueSize, cfg.Approval.SweepInterval)
	svc.SetNotifier(dispatcher)
	dispatcher.Start()
	defer dispatcher.Stop()

	handler := api.NewHandler(svc, workflow, store, log)
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("server starting", slog.String("env", cfg.Env), slog.String("address", cfg.HTTPServer.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		return
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Storage) (*sqlstore.Store, error) {
	if cfg.Driver == "mysql" {
		return mysql.New(ctx, mysql.Options{
			Host:     cfg.MySQL.Host,
			Port:     cfg.MySQL.Port,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Database: cfg.MySQL.Database,
		}.DSN())
	}

	if cfg.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
	}
	return sqlite.New(ctx, cfg.SQLitePath)
}

func setupLogger(env string) *slog.Logger {
	var handler slog.Handler

	switch env {
	case config.EnvLocal:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	case config.EnvDev:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	return slog.New(handler)
}
