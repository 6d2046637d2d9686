// Command server runs the shoutout-exchange backend: the HTTP API, the
// background expiry sweeper, and the shared rate-limit store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shoutswap/go-shoutout-backend/internal/config"
	httpapi "github.com/shoutswap/go-shoutout-backend/internal/http"
	"github.com/shoutswap/go-shoutout-backend/internal/observability"
	"github.com/shoutswap/go-shoutout-backend/internal/ratelimit"
	"github.com/shoutswap/go-shoutout-backend/internal/repo"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
	"github.com/shoutswap/go-shoutout-backend/internal/sweeper"
	"github.com/shoutswap/go-shoutout-backend/internal/sysutil"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	version := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), "dev")

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting server")

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("opening database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrating schema failed")
	}

	// Social API rate limiter. The bucket store is shared across instances:
	// Redis when configured, otherwise the primary database. The in-memory
	// store is a dev-only escape hatch.
	var store ratelimit.Store
	switch {
	case sysutil.IsTruthy(os.Getenv("SOCIAL_RATE_MEMORY")):
		store = ratelimit.NewMemoryStore()
		log.Warn().Msg("using in-memory rate-limit store; buckets are not shared across instances")
	case cfg.Social.RedisAddr != "":
		store = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.Social.RedisAddr}))
		log.Info().Str("addr", cfg.Social.RedisAddr).Msg("using redis rate-limit store")
	default:
		store = ratelimit.NewGormStore(db)
	}
	social := &ratelimit.Limiter{
		Store: store,
		Cfg:   ratelimit.Config{Capacity: cfg.Social.Capacity, RefillPerSec: cfg.Social.RefillPerSec},
		Log:   log.Logger,
	}

	// Services
	notifier := services.LogDispatcher{Log: log.Logger}
	compliance := &services.ComplianceService{
		DB:           db,
		Notifier:     notifier,
		Identities:   services.NoopIdentityDirectory{},
		BanThreshold: cfg.Exchange.BanThreshold,
		Log:          log.Logger,
	}
	quota := &services.QuotaService{
		DB:         db,
		Catalog:    services.NewStaticPlanCatalog(cfg.Quota),
		Plans:      services.StaticPlanDirectory{},
		Compliance: compliance,
	}
	exchanges := &services.ExchangeService{
		DB:         db,
		Quota:      quota,
		Compliance: compliance,
		Notifier:   notifier,
		Window:     cfg.Exchange.Window,
		Log:        log.Logger,
	}

	// Background jobs
	sw := &sweeper.Sweeper{
		Exchanges:        exchanges,
		Notifier:         notifier,
		Interval:         cfg.Sweep.Interval,
		ReminderInterval: cfg.Sweep.ReminderInterval,
		ReminderWindow:   cfg.Sweep.ReminderWindow,
		BatchLimit:       cfg.Sweep.BatchLimit,
		Log:              log.Logger,
	}
	if err := sw.Start(); err != nil {
		log.Fatal().Err(err).Msg("starting sweeper failed")
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Services{
		Exchanges:  exchanges,
		Compliance: compliance,
		Quota:      quota,
		Social:     social,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown: stop accepting, finish in-flight requests, stop the
	// sweeper, flush traces.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	sw.Stop()
	if err := shutdownOTel(shutCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("server stopped")
}
