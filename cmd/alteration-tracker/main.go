package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	imagehandler "github.com/aliskhannn/alteration-tracker/internal/api/handlers/image"
	workitemhandler "github.com/aliskhannn/alteration-tracker/internal/api/handlers/workitem"
	"github.com/aliskhannn/alteration-tracker/internal/api/router"
	"github.com/aliskhannn/alteration-tracker/internal/api/server"
	"github.com/aliskhannn/alteration-tracker/internal/config"
	"github.com/aliskhannn/alteration-tracker/internal/db"
	"github.com/aliskhannn/alteration-tracker/internal/infra/kafka/consumer"
	"github.com/aliskhannn/alteration-tracker/internal/infra/kafka/producer"
	imagemsg "github.com/aliskhannn/alteration-tracker/internal/kafka/handlers/image"
	"github.com/aliskhannn/alteration-tracker/internal/processor"
	workitemrepo "github.com/aliskhannn/alteration-tracker/internal/repository/workitem"
	imagesvc "github.com/aliskhannn/alteration-tracker/internal/service/image"
	workitemsvc "github.com/aliskhannn/alteration-tracker/internal/service/workitem"
	"github.com/aliskhannn/alteration-tracker/internal/storage/object"
)

func main() {
	configPath := flag.String("config", "./config/config.yml", "path to the YAML config file")
	flag.Parse()

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.MustLoad(*configPath)

	// Retry strategy for startup connectivity and the Kafka consumer.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Apply schema migrations against the master before opening the pool.
	err := retry.Do(func() error {
		return db.Migrate(cfg.Database.Master.DSN())
	}, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	database, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Object store (MinIO / S3-compatible).
	storage, err := object.NewStorage(cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to init storage")
	}
	err = retry.Do(func() error {
		return storage.EnsureBucket(ctx)
	}, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// Image ingestion pipeline.
	imageProcessor := processor.New(processor.Options{
		MaxWidth: cfg.Ingestion.MaxWidth,
		Quality:  cfg.Ingestion.Quality,
	})
	imageService := imagesvc.NewService(storage, imageProcessor, imagesvc.Options{
		MaxUploadBytes: cfg.Ingestion.MaxUploadBytes(),
		UploadTimeout:  cfg.Ingestion.UploadTimeout,
	})

	// Work item merge engine, with the cleanup pipeline when Kafka is on.
	repo := workitemrepo.NewRepository(database)
	itemOpts := workitemsvc.Options{ImageBaseURL: storage.BaseURL()}

	var (
		wg           sync.WaitGroup
		itemService  *workitemsvc.Service
		kafkaClosers []func() error
	)

	if cfg.Kafka.Enabled {
		p := producer.New(&cfg.Kafka, strategy)
		c := consumer.New(&cfg.Kafka, strategy, imagemsg.NewReplacedHandler(storage, repo))
		itemService = workitemsvc.NewService(repo, p, itemOpts)
		kafkaClosers = append(kafkaClosers, p.Client.Close, c.Client.Close)

		wg.Add(1)
		go c.Consume(ctx, &wg)
	} else {
		zlog.Logger.Warn().Msg("kafka disabled, replaced images will not be cleaned up")
		itemService = workitemsvc.NewService(repo, nil, itemOpts)
	}

	// HTTP server.
	r := router.Setup(
		workitemhandler.NewHandler(itemService, cfg.Server.MaxJSONBodyBytes()),
		imagehandler.NewHandler(imageService, cfg.Ingestion.MaxUploadBytes()),
	)
	s := server.New(cfg.Server.HTTPPort, r, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	for _, closeFn := range kafkaClosers {
		if err := closeFn(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka client")
		}
	}

	// Close master and slave databases.
	if err := database.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}
	for i, sl := range database.Slaves {
		if err := sl.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
		}
	}
}
