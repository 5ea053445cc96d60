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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"virtual-tryon-backend/internal/config"
	"virtual-tryon-backend/internal/database"
	"virtual-tryon-backend/internal/fal"
	"virtual-tryon-backend/internal/gallery"
	"virtual-tryon-backend/internal/handlers"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/middleware"
	"virtual-tryon-backend/internal/orchestrator"
	"virtual-tryon-backend/internal/progress"
	"virtual-tryon-backend/internal/supabase"
)

const (
	shutdownTimeout = 30 * time.Second
	progressTTL     = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger depends on the environment, so fall back to a bare one
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	dbClient, err := supabase.NewDatabaseClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	if err := database.NewMigrator(dbClient.DB(), logger).Run(ctx); err != nil {
		return err
	}

	artifactsClient, err := supabase.NewClient(cfg)
	if err != nil {
		return err
	}
	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket)
	if err != nil {
		return err
	}

	broker, closeBroker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	falClient := fal.NewClient(cfg.FalQueueBaseURL, cfg.FalAPIKey)
	gateway := inference.NewFalGateway(falClient, inference.FalConfig{
		TryOnModel: cfg.FalTryOnModel,
		VideoModel: cfg.FalVideoModel,
		TryOnMode:  cfg.FalTryOnMode,
	}, logger)

	credits := ledger.New(dbClient, cfg.StartingCredits, logger)
	jobStore := jobs.NewStore(dbClient, logger)

	// poll loops run on ctx so shutdown stops them; the sweeper resumes
	// whatever they leave open on the next start
	orch := orchestrator.New(ctx, orchestrator.Deps{
		Ledger:     credits,
		Jobs:       jobStore,
		Gateway:    gateway,
		Artifacts:  artifactsClient,
		Objects:    storageClient,
		Downloader: gateway,
		Progress:   broker,
	}, orchestrator.Config{
		TryOnCost:        cfg.TryOnCost,
		RegenerationCost: cfg.RegenerationCost,
		VideoCost:        cfg.VideoCost,
		ImageAttempts:    cfg.ImagePollAttempts,
		VideoAttempts:    cfg.VideoPollAttempts,
		PollInterval:     cfg.PollInterval,
		WebPQuality:      cfg.WebPQuality,
	}, logger)

	galleryService := gallery.NewService(jobStore, orch, storageClient, time.UTC, logger)

	router := newRouter(cfg, logger, routerDeps{
		db:      dbClient,
		orch:    orch,
		jobs:    jobStore,
		gallery: galleryService,
		ledger:  credits,
		granter: credits,
		events:  broker,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		orch.RunSweeper(gctx, cfg.SweepInterval, cfg.StaleGrace)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stop()
		orch.Wait()
		return err
	})

	return g.Wait()
}

// newBroker uses Redis when configured so events reach subscribers on any
// instance; otherwise events stay in process.
func newBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (progress.Broker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, progress events are in-process only")
		return progress.NewMemoryBroker(progressTTL), func() {}, nil
	}

	rdb, err := progress.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return progress.NewRedisBroker(rdb, progressTTL, logger), func() { _ = rdb.Close() }, nil
}

type routerDeps struct {
	db      handlers.Pinger
	orch    handlers.Starter
	jobs    handlers.JobReader
	gallery handlers.GalleryService
	ledger  handlers.WalletReader
	granter handlers.CreditGranter
	events  progress.Subscriber
}

func newRouter(cfg *config.Config, logger *zap.Logger, d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())

	generationsHandler := handlers.NewGenerationsHandler(d.orch, d.jobs)
	galleryHandler := handlers.NewGalleryHandler(d.gallery, generationsHandler)
	walletHandler := handlers.NewWalletHandler(d.ledger)
	eventsHandler := handlers.NewEventsHandler(d.jobs, d.events, logger)

	router.GET("/health", handlers.HealthHandler(d.db))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	api.POST("/generations", generationsHandler.Create)
	api.GET("/jobs/:job_id", generationsHandler.GetJob)
	api.GET("/jobs/:job_id/events", eventsHandler.Stream)
	api.POST("/jobs/:job_id/regenerate", galleryHandler.Regenerate)
	api.POST("/jobs/:job_id/video", galleryHandler.GenerateVideo)
	api.GET("/jobs/:job_id/videos", generationsHandler.ListVideos)
	api.GET("/videos/:video_id", generationsHandler.GetVideo)

	api.GET("/gallery", galleryHandler.List)
	api.POST("/gallery/download", galleryHandler.Download)

	api.GET("/wallet", walletHandler.GetWallet)
	api.GET("/wallet/transactions", walletHandler.ListTransactions)

	if cfg.AdminAPIKey != "" {
		admin := router.Group("/api/v1/admin")
		admin.Use(middleware.AdminKeyMiddleware(cfg.AdminAPIKey))
		admin.POST("/wallets/:user_id/credits", handlers.NewAdminHandler(d.granter).GrantCredits)
	}

	return router
}
