package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/config"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/addext"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/csvtohl7"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/datsplit"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/hl7clean"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/obrsplit"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/db"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/errorlog"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/middleware"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/notification"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/telemetry"
)

// bootstrap loads the configuration and builds the logger.
func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Error().Err(err).Msg("failed to load config")
		return nil, fallback, err
	}
	return cfg, newLogger(cfg, os.Stdout), nil
}

// newLogger writes JSON lines, or console output in development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("function", cfg.Function).
		Logger()
}

func newMetrics(cfg *config.Config) *telemetry.Provider {
	return telemetry.NewProvider(telemetry.Config{
		ServiceName:    "hl7prep",
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})
}

func topics(cfg *config.Config) notification.Topics {
	return notification.Topics{
		Error:   cfg.ErrorTopicARN,
		Success: cfg.SuccessTopicARN,
		Summary: cfg.SummaryTopicARN,
	}
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// openLedger returns the PostgreSQL ledger when DATABASE_URL is set and an
// in-memory one otherwise.
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (errorlog.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, error ledger kept in memory")
		return errorlog.NewMemoryStore(), func() {}, nil
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return errorlog.NewPGStore(pool), pool.Close, nil
}

func transformOptions(cfg *config.Config) csvtohl7.Options {
	return csvtohl7.Options{
		SendingApplication:   cfg.SendingApplication,
		ReceivingApplication: cfg.ReceivingApplication,
		ReceivingFacility:    cfg.ReceivingFacility,
		ProcessingID:         cfg.ProcessingID,
		TZOffset:             cfg.TZOffset,
	}
}

// newServer builds the transform server. pool may be nil.
func newServer(cfg *config.Config, pool *pgxpool.Pool, ledger errorlog.Store, metrics *telemetry.Provider, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())

	// Health check
	e.GET("/health", db.HealthHandler(cfg.Function, pool))
	e.GET("/metrics", metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	cleaner := hl7clean.NewCleaner(metrics, logger)
	encoder := csvtohl7.NewEncoder(transformOptions(cfg), metrics, logger)

	hl7v2.NewHandler().RegisterRoutes(apiV1)
	hl7clean.NewHandler(cleaner).RegisterRoutes(apiV1)
	csvtohl7.NewHandler(csvtohl7.NewService(encoder, logger)).RegisterRoutes(apiV1)
	datsplit.NewHandler(datsplit.NewService(cleaner, logger)).RegisterRoutes(apiV1)
	obrsplit.NewHandler(obrsplit.NewService(logger)).RegisterRoutes(apiV1)
	addext.NewHandler(addext.NewNormaliser(cleaner, logger)).RegisterRoutes(apiV1)
	errorlog.NewHandler(ledger).RegisterRoutes(apiV1)

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		_ = c.JSON(code, map[string]string{"error": msg})
	}
	return e
}
