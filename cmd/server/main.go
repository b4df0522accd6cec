package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/partyjam/partyjam/internal/config"
	"github.com/partyjam/partyjam/internal/database"
	"github.com/partyjam/partyjam/internal/guard"
	"github.com/partyjam/partyjam/internal/handler"
	"github.com/partyjam/partyjam/internal/monitoring"
	"github.com/partyjam/partyjam/internal/playback"
	"github.com/partyjam/partyjam/internal/queue"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/router"
	"github.com/partyjam/partyjam/internal/service"
	"github.com/partyjam/partyjam/internal/spotify"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.Load()
	spCfg := config.LoadSpotifyConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	db, err := database.Open(database.Params{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		MaxOpenConns: cfg.DBMaxOpen, MaxIdleConns: cfg.DBMaxIdle, ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("Redis unavailable, perimeter rate limiting and response cache disabled")
	}

	monitoring.InitMetrics()

	// Repositories.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	verifications := repository.NewVerificationRepo(db)
	events := repository.NewEventRepo(db)
	creds := repository.NewCredentialRepo(db)
	requests := repository.NewRequestRepo(db)
	spTokens := repository.NewSpotifyTokenRepo(db)
	eventLog := repository.NewEventLogRepo(db)

	// Relay publisher. Without AMQP_URL the event log alone carries
	// updates and clients fall back to polling.
	var relay service.RelayPublisher
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, log.Logger)
		defer pub.Close()
		relay = pub
	}
	notifier := service.NewNotifier(eventLog, relay, log.Logger)

	// Spotify integration.
	spAuth := spotify.NewAuthenticator(spCfg.ClientID, spCfg.RedirectURL, spCfg.CallTimeout, spCfg.AuthBase)
	spClient := spotify.NewClient(spCfg.CallTimeout, spCfg.APIBase)
	tokenMgr := spotify.NewTokenManager(spTokens, spAuth, spCfg.TokenMargin, log.Logger)
	connTracker := spotify.NewConnTracker(spCfg.BackoffBase, spCfg.BackoffMax)

	// Services.
	eventSvc := service.NewEventService(events, creds, requests, notifier, log.Logger)
	guardCfg := config.LoadGuardConfig()
	submitGuard := guard.NewMemoryGuard(guardCfg.Window)
	go func() {
		for range time.Tick(guardCfg.PruneEvery) {
			submitGuard.Prune()
		}
	}()
	requestSvc := service.NewRequestService(requests, events, submitGuard, tokenMgr,
		spClient, connTracker, notifier, cfg.IPHashSalt, log.Logger)

	reconciler := playback.NewManager(spTokens, users, events, eventLog, requestSvc,
		tokenMgr, spClient, connTracker, notifier, spCfg.PollInterval, spCfg.Retention, log.Logger)
	if err := reconciler.Start(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to start playback reconciler")
	}
	defer reconciler.Close()

	// HTTP server.
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	router.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, verifications, eventSvc, log.Logger), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewPublicHandler(users, eventSvc, requestSvc, eventLog),
		rdb, config.LoadRateLimitConfig(), config.LoadCacheConfig())
	router.RegisterAdmin(e, cfg.JWTSecret,
		handler.NewAdminEventHandler(eventSvc),
		handler.NewAdminRequestHandler(users, requestSvc),
		handler.NewAdminPlaybackHandler(tokenMgr, spClient, connTracker, reconciler),
		handler.NewSpotifyAuthHandler(spAuth, tokenMgr, connTracker, reconciler, log.Logger))

	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("Server listening")
		if err := e.Start(addr); err != nil {
			log.Info().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
