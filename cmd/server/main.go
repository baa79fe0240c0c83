// backend-go/cmd/server/main.go
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
	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/smy-billing/backend-go/internal/api"
	"github.com/andresuchdata/smy-billing/backend-go/internal/cache"
	"github.com/andresuchdata/smy-billing/backend-go/internal/config"
	"github.com/andresuchdata/smy-billing/backend-go/internal/ingest"
	"github.com/andresuchdata/smy-billing/backend-go/internal/invoicing"
	"github.com/andresuchdata/smy-billing/backend-go/internal/normalize"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/postgres"
	"github.com/andresuchdata/smy-billing/backend-go/internal/service"
	"github.com/andresuchdata/smy-billing/backend-go/internal/storage"
	"github.com/andresuchdata/smy-billing/backend-go/pkg/logger"
)

func main() {
	cfg := config.Load()

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.MigrateUp(db); err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedisClient(cfg.Cache)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("Redis unavailable, caching disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	defaultEncoding, err := normalize.ParseEncoding(cfg.Import.DefaultEncoding)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid IMPORT_DEFAULT_ENCODING")
	}

	var importOpts []ingest.Option
	if cfg.Storage.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		objects, err := storage.NewMinioClient(ctx, cfg.Storage)
		cancel()
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to initialise object storage")
		}
		importOpts = append(importOpts, ingest.WithArchiver(storage.NewArchiver(objects)))
	}

	master := postgres.NewMasterRepository(db)
	orders := postgres.NewOrderRepository(db)
	batches := postgres.NewBatchRepository(db)
	invoices := postgres.NewInvoiceRepository(db)

	importer := ingest.NewImporter(master, orders, batches, ingest.Config{
		MaxFileBytes:    cfg.Import.MaxFileBytes,
		MaxRows:         cfg.Import.MaxRows,
		DefaultEncoding: defaultEncoding,
	}, importOpts...)
	engine := invoicing.NewEngine(master, orders, invoices, invoicing.Config{
		NumberPrefix:  cfg.Invoice.NumberPrefix,
		Workers:       cfg.Invoice.Workers,
		NumberRetries: cfg.Invoice.NumberRetries,
		DueDays:       cfg.Invoice.DueDays,
	})

	router := api.NewRouter(&api.Services{
		Importer:       importer,
		BatchService:   service.NewBatchService(batches, cache.NewBatchCache(redisClient, cfg.Cache)),
		InvoiceService: service.NewInvoiceService(engine, invoices, cache.NewInvoiceListCache(redisClient, cfg.Cache)),
		Health:         db.PingContext,
	}, cfg.Server.AllowedOrigins)
	router.MaxMultipartMemory = cfg.Import.MaxFileBytes

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	// in-flight imports get the write timeout to finish
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
