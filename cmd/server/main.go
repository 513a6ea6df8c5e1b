package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/stitts-dev/fpl-optimizer/internal/api"
	"github.com/stitts-dev/fpl-optimizer/internal/api/handlers"
	"github.com/stitts-dev/fpl-optimizer/internal/optimizer"
	"github.com/stitts-dev/fpl-optimizer/internal/pool"
	"github.com/stitts-dev/fpl-optimizer/internal/providers"
	"github.com/stitts-dev/fpl-optimizer/internal/repository"
	"github.com/stitts-dev/fpl-optimizer/internal/services"
	"github.com/stitts-dev/fpl-optimizer/internal/websocket"
	"github.com/stitts-dev/fpl-optimizer/pkg/config"
	"github.com/stitts-dev/fpl-optimizer/pkg/database"
	"github.com/stitts-dev/fpl-optimizer/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.GetLogger().Fatalf("Failed to load config: %v", err)
	}

	log := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	svcLog := logger.WithService("fpl-optimizer")

	rules, err := cfg.Rules()
	if err != nil {
		log.Fatalf("Invalid selection rules: %v", err)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := repository.AutoMigrate(db.DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Connect to Redis
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable, squads will not be cached until it recovers")
	}
	cache := services.NewSquadCache(redisClient, cfg.CacheTTL, logger.WithComponent("cache"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(logger.WithComponent("websocket"))
	go hub.Run(ctx)

	// Data providers
	guard := providers.DefaultGuardConfig()
	guard.Timeout = cfg.ExternalAPITimeout
	guard.RatePerSecond = cfg.ExternalRateLimit
	guard.BreakerThreshold = cfg.CircuitBreakerThreshold

	providerLog := logger.WithComponent("providers")
	fpl := providers.NewFPLClient(cfg.FPLBaseURL, guard, providerLog)
	odds := providers.NewOddsClient(cfg.OddsBaseURL, cfg.OddsAPIKey, cfg.OddsSport, cfg.OddsRegions, guard, providerLog)

	builder := pool.NewBuilder()
	builder.OddsWeightDefensive = cfg.OddsWeightDef
	builder.OddsWeightAttacking = cfg.OddsWeightFwd
	builder.ExcludeUnavailable = cfg.ExcludeUnavailable
	builder.Logger = logger.WithComponent("pool")
	poolProvider := providers.NewPoolProvider(fpl, odds, builder, providerLog)

	// Optimizer and pipeline
	solverLog := logger.WithComponent("solver")
	selector, err := optimizer.NewSelector(rules, cfg.SolverMaxDuration,
		optimizer.WithLogger(logger.WithComponent("optimizer")),
		optimizer.WithSolver(services.NewSolverFactory(cfg.SolverMaxLPIterations, solverLog, nil)),
	)
	if err != nil {
		log.Fatalf("Failed to create selector: %v", err)
	}

	repo := repository.NewGormSquadRepository(db.DB, logger.WithComponent("repository"))
	selection := services.NewSelectionService(poolProvider, repo, selector, cache, hub, services.SelectionConfig{
		FallbackToFresh: cfg.FallbackToFreshSelection,
		MaxLPIterations: cfg.SolverMaxLPIterations,
	}, nil)

	var scheduler *services.Scheduler
	if cfg.EnableScheduler {
		scheduler = services.NewScheduler(selection, services.SchedulerConfig{
			Spec:       cfg.ScheduleCron,
			Season:     cfg.Season,
			MaxChanges: cfg.MaxChanges,
			Timeout:    3 * cfg.SolverMaxDuration,
		}, logger.WithComponent("scheduler"))
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer scheduler.Stop()
	}

	// HTTP
	selectionHandler := handlers.NewSelectionHandler(selector, selection, repo, cache, cfg.Season, cfg.MaxChanges, svcLog)
	var status handlers.SchedulerStatus
	if scheduler != nil {
		status = scheduler
	}
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"database": db,
		"redis":    cache,
	}, status)
	router := api.NewRouter(cfg.CorsOrigins, selectionHandler, healthHandler, hub)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SolverMaxDuration*3 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		svcLog.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	svcLog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		svcLog.Errorf("Server forced to shutdown: %v", err)
	}

	svcLog.Info("Server exited")
}
