package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hospitalops/hospital/internal/config"
	"github.com/hospitalops/hospital/internal/domain/appointment"
	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/domain/prescription"
	"github.com/hospitalops/hospital/internal/platform/auth"
	"github.com/hospitalops/hospital/internal/platform/db"
	"github.com/hospitalops/hospital/internal/platform/middleware"
	"github.com/hospitalops/hospital/internal/platform/outbox"
)

const apiPrefix = "/api/v1"

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := newServer(cfg, pool, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires repositories, services and routes onto a fresh echo
// instance. No query runs until a request arrives.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Validator = middleware.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))

	// Repositories and unit of work
	tx := db.NewTxRunner(pool)
	events := outbox.NewStore(pool)
	users := identity.NewUserRepo(pool)
	patients := identity.NewPatientRepo(pool)
	doctors := identity.NewDoctorRepo(pool)
	specialties := identity.NewSpecialtyRepo(pool)
	appointments := appointment.NewRepo(pool)

	// Services
	apptSvc := appointment.NewService(appointments, patients, doctors, specialties, tx, events, logger,
		appointment.Options{IdempotentCancel: cfg.CancelIdempotent})
	tokens := auth.NewTokenIssuer(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	identitySvc := identity.NewService(users, patients, doctors, specialties, tx, tokens, apptSvc, logger)
	rxSvc := prescription.NewService(prescription.NewRepo(pool), prescription.NewMedicineRepo(pool),
		appointments, tx, events, logger)

	// API group: JWT, actor resolution, then per-user rate limiting.
	api := e.Group(apiPrefix)
	api.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
		Skipper:    auth.AuthSkipper,
	}))
	api.Use(identity.NewResolver(users, patients, doctors).Middleware())
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterPublicRoutes(api)
	identityHandler.RegisterRoutes(api)
	appointment.NewHandler(apptSvc).RegisterRoutes(api)
	prescription.NewHandler(rxSvc).RegisterRoutes(api)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	return e
}
