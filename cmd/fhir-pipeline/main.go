package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fhirflow/fhirflow/internal/api"
	"github.com/fhirflow/fhirflow/internal/config"
	"github.com/fhirflow/fhirflow/internal/pipeline/bundle"
	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/factory"
	"github.com/fhirflow/fhirflow/internal/pipeline/failover"
	"github.com/fhirflow/fhirflow/internal/pipeline/fhirclient"
	"github.com/fhirflow/fhirflow/internal/pipeline/orchestrator"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/internal/platform/middleware"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhir-pipeline",
		Short: "FHIR assembly, validation, and execution pipeline",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	logger = logger.Level(logLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	codingRegistry := coding.New(logger)
	validatorRegistry := validate.New()
	refs := reference.New()
	flags := factory.DefaultFeatureFlags()
	flags.RejectSynthesizedImagingUIDs = cfg.RejectSynthesizedImagingUIDs
	factories := factory.NewRegistry(codingRegistry, validatorRegistry, refs, flags)
	optimizer := quality.New()
	assembler := bundle.New(func(b *fhirtypes.Bundle) { optimizer.Optimize(b) })

	perfMgr := perf.NewManager()
	failoverMgr := failover.NewManager(cfg.HAPIFHIRURL)

	httpDoer := &http.Client{Timeout: time.Duration(cfg.HAPIFHIRTimeoutSeconds) * time.Second}
	client := fhirclient.NewClient(httpDoer, perfMgr, failoverMgr, validatorRegistry, logger)

	orch := orchestrator.New(factories, assembler, optimizer, client, perfMgr)

	slaTracker := middleware.NewSLATracker(middleware.DefaultSLAThreshold, middleware.DefaultHardCeiling, logger)
	rateLimiter := middleware.NewRateLimiterStore(middleware.RateLimitConfig{
		Requests: cfg.RateLimitRequestsPerMinute,
		Window:   time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
	})

	deps := &api.Deps{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Client:       client,
		Perf:         perfMgr,
		Optimizer:    optimizer,
		Failover:     failoverMgr,
		Coding:       codingRegistry,
		Factories:    factories,
		SLA:          slaTracker,
		RateLimiter:  rateLimiter,
		StartedAt:    time.Now(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit())
	e.Use(middleware.RateLimitWithStore(rateLimiter))
	e.Use(slaTracker.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))

	api.RegisterRoutes(e, deps)

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

func logLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
