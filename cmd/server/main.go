package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/config"
	"github.com/coramini/relay-server-go/internal/database"
	"github.com/coramini/relay-server-go/internal/handler"
	"github.com/coramini/relay-server-go/internal/jobs"
	"github.com/coramini/relay-server-go/internal/logging"
	"github.com/coramini/relay-server-go/internal/middleware"
	"github.com/coramini/relay-server-go/internal/redis"
	"github.com/coramini/relay-server-go/internal/repository"
	"github.com/coramini/relay-server-go/internal/repository/memstore"
	"github.com/coramini/relay-server-go/internal/service"
)

type repositories struct {
	presence repository.PresenceRepository
	commands repository.CommandRepository
	pairing  repository.PairingCodeRepository
	devices  repository.DeviceRepository
	chat     repository.ChatRepository
}

func main() {
	if _, err := logging.Setup("info", ""); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.SetLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repos repositories
		db    *database.DB
	)
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store := memstore.New()
		repos = repositories{
			presence: memstore.NewPresenceRepository(store),
			commands: memstore.NewCommandRepository(store),
			pairing:  memstore.NewPairingCodeRepository(store),
			devices:  memstore.NewDeviceRepository(store),
			chat:     memstore.NewChatRepository(store),
		}
		log.Warn().Msg("using in-memory store; state is lost on restart")
	default:
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		if err := db.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate database")
			}
			log.Info().Msg("database schema applied")
		}

		repos = repositories{
			presence: repository.NewPresenceRepository(db.DB),
			commands: repository.NewCommandRepository(db.DB),
			pairing:  repository.NewPairingCodeRepository(db.DB),
			devices:  repository.NewDeviceRepository(db.DB),
			chat:     repository.NewChatRepository(db.DB),
		}
	}

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
		log.Info().Msg("redis connected")
	}

	clk := clock.Real()
	tokens, err := service.NewTokenIssuer(cfg.VerificationSecret, clk)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token issuer")
	}

	presenceService := service.NewPresenceService(repos.presence, clk, cfg.PresenceStaleWindow())
	commandService := service.NewCommandService(repos.commands, clk)
	pairingService := service.NewPairingService(repos.pairing, repos.devices, tokens, clk, service.PairingServiceConfig{
		Prefix: cfg.PairingCodePrefix,
		TTL:    cfg.PairingCodeTTL(),
	})
	chatService := service.NewChatService(repos.chat, clk)

	authMiddleware := middleware.NewAuthMiddleware(cfg.RelayAPIKey, cfg.RelayAPIKeyHash, middleware.NewAuthFailureLimiter())
	pairingLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.PairingRateLimitPerMin, "pairing")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	rpcHandler := handler.NewRPCHandler(presenceService, commandService, pairingService, chatService, pairingLimit.Handler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		checks := map[string]string{"store": cfg.StoreBackend}

		pingCtx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()
		if db != nil {
			if err := db.Ping(pingCtx); err != nil {
				log.Error().Err(err).Msg("health check: database unreachable")
				status, code = "degraded", http.StatusServiceUnavailable
				checks["database"] = "down"
			} else {
				checks["database"] = "up"
			}
		}
		if redisClient != nil {
			// The limiter fails open, so redis being down does not degrade.
			if redisClient.Healthy(pingCtx) {
				checks["redis"] = "up"
			} else {
				checks["redis"] = "down"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"checks":    checks,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/rest/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/rpc", rpcHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(pairingService, commandService, clk, cfg.CommandLease(), config.CleanupJobInterval)
	cleanupJob.Start(ctx)
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
