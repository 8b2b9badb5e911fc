// Package main provides the billing server entry point.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stockmeta/internal/api"
	"github.com/stockmeta/internal/auth"
	"github.com/stockmeta/internal/config"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/ratelimit"
	"github.com/stockmeta/internal/service"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

const (
	sweepInterval  = time.Minute
	sweepBatchSize = 100
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	if err := clickhouse.EnsureAuditSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to ensure audit schema")
	}

	logger.Info("Database connections established")

	// Repositories
	userRepo := storage.NewUserRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	txRepo := storage.NewTransactionRepository(postgres)
	slipRepo := storage.NewSlipRepository(postgres)
	promoRepo := storage.NewPromoRepository(postgres)
	configRepo := storage.NewConfigRepository(postgres)
	reportRepo := storage.NewReportRepository(postgres)
	auditRepo := storage.NewAuditRepository(clickhouse)
	rateCache := storage.NewRateCache(redisCache, cfg.Billing.RateCacheTTL)

	// Services
	logger.Info("Initializing services...")

	rateService := service.NewRateService(configRepo, rateCache, defaultRateCard(&cfg.Billing))
	promoService := service.NewPromoService(promoRepo, slipRepo, auditRepo)
	userService := service.NewUserService(userRepo, txRepo, promoService, auditRepo)
	ledgerService := service.NewLedgerService(userRepo, jobRepo, txRepo, rateService, auditRepo, cfg.Billing.JobExpiry)
	topupService := service.NewTopupService(userRepo, slipRepo, txRepo, rateService, promoService, auditRepo)
	sweepService := service.NewSweepService(jobRepo, userRepo, txRepo, auditRepo, sweepInterval, sweepBatchSize)
	reportService := service.NewReportService(userRepo, jobRepo, slipRepo, reportRepo)

	// Background expiry sweeper
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	if err := sweepService.Start(sweepCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start expiry sweeper")
	}

	// Shared request quota across server instances
	quota, err := ratelimit.NewQuotaTracker(&ratelimit.QuotaTrackerConfig{
		Redis: redisCache.Client(),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create quota tracker")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AdminKey:        cfg.Auth.AdminKey,
		RequestsPerMin:  cfg.RateLimit.RequestsPerMinute,
		Burst:           cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, &api.Deps{
		Users:   userService,
		Ledger:  ledgerService,
		Topups:  topupService,
		Promos:  promoService,
		Sweeper: sweepService,
		Reports: reportService,
		Rates:   rateService,
		Jobs:    jobRepo,
		Audit:   auditRepo,
		Tokens:  auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Quota:   quota,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if err := sweepService.Stop(); err != nil {
		logger.WithError(err).Warn("Sweeper did not stop cleanly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// defaultRateCard builds the fallback rate card from configuration. The
// store-backed card, when present, takes precedence.
func defaultRateCard(billing *config.BillingConfig) *models.RateCard {
	return &models.RateCard{
		ExchangeRate: billing.ExchangeRate,
		Rates: map[string]models.ModeRates{
			string(types.ModeIStock):       {Photo: billing.IStockPhotoRate, Video: billing.IStockVideoRate},
			string(types.ModeAdobe):        {Photo: billing.AdobePhotoRate, Video: billing.AdobeVideoRate},
			string(types.ModeShutterstock): {Photo: billing.ShutterstockPhotoRate, Video: billing.ShutterstockVideoRate},
		},
	}
}
