package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aigoflow/analytics-service/internal/config"
	"github.com/aigoflow/analytics-service/internal/llm"
	"github.com/aigoflow/analytics-service/internal/repository"
	"github.com/aigoflow/analytics-service/internal/services"
	"github.com/aigoflow/analytics-service/internal/statsdb"
	"github.com/aigoflow/analytics-service/internal/store"
	"github.com/aigoflow/analytics-service/pkg/server"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize audit store
	_ = os.MkdirAll(filepath.Dir(cfg.AuditDBPath), 0755)
	auditDB, err := store.Open(cfg.AuditDBPath, cfg.AuditBusyTimeout)
	if err != nil {
		slog.Error("Failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()

	// Log startup event
	auditDB.Event("info", "startup", "Server starting", map[string]interface{}{
		"service":   cfg.ServiceName,
		"http_addr": cfg.HTTPAddr,
		"stats_db":  cfg.StatsDBPath,
		"audit_db":  cfg.AuditDBPath,
	})

	// Initialize repository
	repo := repository.NewSQLiteRepository(auditDB)

	// Open the stats dataset
	_ = os.MkdirAll(filepath.Dir(cfg.StatsDBPath), 0755)
	statsDB, err := statsdb.Open(cfg.StatsDBPath)
	if err != nil {
		auditDB.Event("error", "stats.failed", "Stats database open failed", map[string]interface{}{
			"stats_db": cfg.StatsDBPath,
			"error":    err.Error(),
		})
		slog.Error("Failed to open stats database", "error", err)
		os.Exit(1)
	}
	defer statsDB.Close()
	executor := statsdb.NewExecutor(statsDB, cfg.RowCap, cfg.ExecuteTimeout)

	// Initialize the model client; without a credential it serves
	// deterministic stubs so the pipeline still works offline.
	llmClient, err := llm.NewChatClient(cfg)
	if err != nil {
		slog.Error("Failed to create model client", "error", err)
		os.Exit(1)
	}
	if llmClient.Offline() {
		slog.Warn("No model credential configured, running in offline stub mode")
	}

	// Initialize services
	registry := services.NewRequestRegistry(cfg.RegistryRetention)
	queryService := services.NewQueryService(cfg, llmClient, executor, repo, registry)

	auditDB.Event("info", "services.init", "Initializing services", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"nats_url":  cfg.NatsURL,
	})

	// Initialize NATS service
	natsService, err := services.NewNATSService(cfg, queryService)
	if err != nil {
		auditDB.Event("error", "nats.failed", "NATS service initialization failed", map[string]interface{}{
			"nats_url": cfg.NatsURL,
			"error":    err.Error(),
		})
		slog.Error("Failed to create NATS service", "error", err)
		os.Exit(1)
	}

	// Initialize health service for discovery
	healthService := services.NewHealthService(natsService.GetConnection(), cfg, llmClient)

	// Start HTTP server
	httpServer := server.NewServer(cfg.HTTPAddr, queryService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditDB.Event("info", "server.ready", "Server ready to accept requests", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"nats_url":  cfg.NatsURL,
	})

	// Start all services
	go func() {
		if err := httpServer.Start(ctx); err != nil {
			auditDB.Event("error", "http.failed", "HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	go func() {
		if err := natsService.Start(ctx); err != nil {
			auditDB.Event("error", "nats.failed", "NATS service failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("NATS service failed", "error", err)
		}
	}()

	go func() {
		if err := healthService.Start(ctx); err != nil {
			auditDB.Event("error", "health.failed", "Health service failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("Health service failed", "error", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	auditDB.Event("info", "shutdown", "Server shutting down", nil)
	slog.Info("Shutting down server")
}
