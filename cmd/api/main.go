package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swaplane/swaplane-backend/internal/api"
	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/chains/evm"
	"github.com/swaplane/swaplane-backend/internal/chains/mock"
	suichain "github.com/swaplane/swaplane-backend/internal/chains/sui"
	"github.com/swaplane/swaplane-backend/internal/config"
	"github.com/swaplane/swaplane-backend/internal/log"
	"github.com/swaplane/swaplane-backend/internal/metrics"
	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/relayer"
	"github.com/swaplane/swaplane-backend/internal/resolver"
	"github.com/swaplane/swaplane-backend/internal/secret"
	"github.com/swaplane/swaplane-backend/internal/store"
	"github.com/swaplane/swaplane-backend/internal/ws"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting SwapLane relayer",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"chains", len(cfg.Chains),
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("swaplane-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Order and execution storage. "memory" keeps everything in-process for
	// local development.
	var st store.Store
	if cfg.Database.PostgresDSN == "memory" {
		logger.Warnw("Using in-memory store; all state is lost on restart")
		st = store.NewMemory()
	} else {
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			logger.Fatalw("Failed to open database", "error", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalw("Database ping failed", "error", err)
		}
		st = store.NewPostgres(db, logger)
	}
	logger.Infow("Store initialized")

	// Setup Redis cache
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	// Secret keeper (encryption at rest is optional)
	keeper, err := secret.NewKeeper(cfg.Security.SecretEncryptionKey)
	if err != nil {
		logger.Fatalw("Invalid secret encryption key", "error", err)
	}
	if !keeper.Enabled() {
		logger.Warnw("Secret encryption disabled; secrets are stored in plaintext")
	}

	// Chain adapter registry
	registry := chains.NewRegistry(logger)
	registry.RegisterFactory("evm", evm.Factory)
	registry.RegisterFactory("sui", suichain.Factory)
	registry.RegisterFactory("mock", mock.Factory)
	if err := registry.LoadFromConfig(ctx, cfg.Chains); err != nil {
		logger.Fatalw("Failed to load chain adapters", "error", err)
	}

	// Setup services
	domain := cfg.SigningDomain()
	validator := order.NewValidator(domain, logger)
	svc := relayer.NewService(st, cache, validator, domain, keeper, logger)
	gate := relayer.NewGate(st, cache, registry, keeper, logger)

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(cache, logger, cfg.Security.CORSAllowedOrigins)

	// Create context for background services
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	go wsHub.Run(hubCtx)

	// Periodic adapter health sweep feeds the chain status endpoint.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hubCtx.Done():
				return
			case <-ticker.C:
				registry.CheckHealth(hubCtx)
			}
		}
	}()

	// Resolver settles active orders when this instance is also a taker.
	var orch *resolver.Orchestrator
	if cfg.Resolver.Enabled {
		deposit, err := cfg.SafetyDeposit()
		if err != nil {
			logger.Fatalw("Invalid resolver config", "error", err)
		}
		orch = resolver.New(st, gate, registry, cfg.Resolver.TakerAddress, logger,
			resolver.WithSafetyDeposit(deposit),
			resolver.WithMaxConcurrent(cfg.Resolver.MaxConcurrent),
		)
		if err := orch.Start(hubCtx); err != nil {
			logger.Fatalw("Failed to resume executions", "error", err)
		}
		go orch.Watch(hubCtx, cache)
		logger.Infow("Resolver started", "taker", cfg.Resolver.TakerAddress)
	}

	// Setup API handler and middleware
	handler := api.NewHandler(svc, gate, registry, st, cache, wsHub, sseHandler, logger, metricsObj)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutCancel()

		if err := server.Shutdown(shutCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		hubCancel()
		if orch != nil {
			orch.Wait()
		}

		logger.Infow("Server stopped")
	}
}
