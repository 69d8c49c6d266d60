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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/config"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/domain/template"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/auth"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/cache"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/db"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/middleware"
)

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)

	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.IsDev() {
		logger.Warn().
			Str("dev_user", auth.DevUserID).
			Msg("development mode: requests are authenticated as the dev user without a token")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, closeStore, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gw := newServerGateway(cfg, pool, store, logger)

	e, err := newServer(cfg, logger, gw, db.HealthHandler(pool))
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newCacheStore connects to Redis when REDIS_URL is set, so every server
// instance sees the same invalidations. Otherwise entries live in process.
func newCacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, func(), error) {
	if cfg.RedisURL == "" {
		mem := cache.NewInMemoryStore()
		sweepCtx, cancel := context.WithCancel(context.Background())
		mem.StartCleanup(sweepCtx, time.Minute)
		logger.Info().Msg("using in-memory template cache")
		return mem, cancel, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Msg("using redis template cache")
	return cache.NewRedisStore(client), func() { _ = client.Close() }, nil
}

// newServerGateway stacks caching over retrying over Postgres.
func newServerGateway(cfg *config.Config, pool db.Beginner, store cache.Store, logger zerolog.Logger) template.Gateway {
	pg := template.NewPGGateway(pool, template.WithTemplateLimit(cfg.TemplateLimit))
	retrying := template.NewRetryingGateway(pg,
		template.WithMaxAttempts(cfg.TemplateRetryAttempts),
		template.WithBaseDelay(cfg.TemplateRetryBaseDelay),
		template.WithRetryLogger(logger),
	)
	return template.NewCachingGateway(retrying, store,
		template.WithCacheTTL(cfg.TemplateCacheTTL),
		template.WithCacheLogger(logger),
	)
}

// newServer builds the echo instance with the middleware chain, health
// endpoints and template routes.
func newServer(cfg *config.Config, logger zerolog.Logger, gw template.Gateway, dbHealth echo.HandlerFunc) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg))
	template.NewHandler(gw, logger).RegisterRoutes(apiV1)

	return e, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" && cfg.AuthIssuer == "" {
		return auth.DevAuthMiddleware(), nil
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: key,
		Skipper:    auth.AuthSkipper,
	}), nil
}
