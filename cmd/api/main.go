package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/payscan/internal/api"
	"github.com/dvloznov/payscan/internal/api/handlers"
	"github.com/dvloznov/payscan/internal/api/middleware"
	"github.com/dvloznov/payscan/internal/auth"
	"github.com/dvloznov/payscan/internal/config"
	"github.com/dvloznov/payscan/internal/extraction"
	"github.com/dvloznov/payscan/internal/gcsuploader"
	"github.com/dvloznov/payscan/internal/infra"
	"github.com/dvloznov/payscan/internal/logger"
	"github.com/dvloznov/payscan/internal/records"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	// Initialize record store
	repo, err := infra.Open(ctx, cfg.StoreURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer repo.Close()

	gateway, err := extraction.NewGeminiGateway(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.ExtractTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extraction gateway")
	}

	var archiver gcsuploader.Archiver
	if cfg.Bucket != "" {
		gcs, err := gcsuploader.NewGCSArchiver(ctx, cfg.Bucket)
		if err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.Bucket).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		archiver = gcs
	} else {
		log.Warn().Msg("No GCS bucket configured - screenshots will not be archived")
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimiter.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimiter.RPS, cfg.RateLimiter.Burst)
		go limiter.Run(ctx)
	}

	verifier, err := auth.NewVerifier(ctx, cfg.AuthIssuerURL)
	if err != nil {
		log.Fatal().Err(err).Str("issuer", cfg.AuthIssuerURL).Msg("Failed to create token verifier")
	}

	svc := records.NewService(repo, log)
	handler := api.NewRouter(api.Deps{
		Extract:      handlers.NewExtractHandler(gateway, archiver, log),
		Transactions: handlers.NewTransactionsHandler(svc, cfg.Location, log),
		Verifier:     verifier,
		Limiter:      limiter,
		CORSOrigins:  cfg.CORSOrigins,
		Log:          log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExtractTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("model", cfg.GeminiModel).
			Str("timezone", cfg.Location.String()).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
