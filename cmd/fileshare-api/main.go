package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/fileshare-api/api/swagger"
	"github.com/noah-isme/fileshare-api/internal/handler"
	"github.com/noah-isme/fileshare-api/internal/repository"
	"github.com/noah-isme/fileshare-api/internal/service"
	"github.com/noah-isme/fileshare-api/pkg/cache"
	"github.com/noah-isme/fileshare-api/pkg/config"
	"github.com/noah-isme/fileshare-api/pkg/database"
	"github.com/noah-isme/fileshare-api/pkg/logger"
	"github.com/noah-isme/fileshare-api/pkg/storage"
)

// @title File Sharing API
// @version 1.0.0
// @description File sharing with owner, share and public access control.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close()

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()
	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	validate := validator.New()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.StatsTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	notificationSvc := service.NewNotificationService(notificationRepo, cacheSvc, metrics, logr, service.NotificationServiceConfig{
		Timeout:   cfg.Timeouts.Notify,
		UnreadTTL: cfg.Cache.UnreadTTL,
	})

	cleaner := service.NewBlobCleaner(blobs, service.BlobCleanerConfig{
		Timeout:    cfg.Timeouts.Blob,
		Workers:    cfg.Cleanup.Workers,
		MaxRetries: cfg.Cleanup.MaxRetries,
		RetryDelay: cfg.Cleanup.RetryDelay,
	}, logr, metrics)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	signer := storage.NewDownloadSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	fileSvc := service.NewFileService(fileRepo, userRepo, blobs, cleaner, notificationSvc, auditRepo, validate, signer, metrics, logr, service.FileServiceConfig{
		RestrictedReadResponse: cfg.Sharing.RestrictedReadResponse,
		StoreTimeout:           cfg.Timeouts.Store,
		BlobTimeout:            cfg.Timeouts.Blob,
		MaxFileSizeBytes:       cfg.Storage.MaxFileSizeBytes,
		DownloadPathPrefix:     cfg.APIPrefix + "/files",
	})
	adminSvc := service.NewAdminService(fileRepo, userRepo, cacheSvc, logr, service.AdminServiceConfig{
		StatsTTL:     cfg.Cache.StatsTTL,
		StoreTimeout: cfg.Timeouts.Store,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:          handler.NewAuthHandler(authSvc),
		files:         handler.NewFileHandler(fileSvc, cfg.Storage.MaxFileSizeBytes),
		notifications: handler.NewNotificationHandler(notificationSvc),
		admin:         handler.NewAdminHandler(adminSvc),
		metrics: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"postgres": handler.PingFunc(db.PingContext),
			"redis":    cacheRepo,
		}),
		tokens:  authSvc,
		observe: metrics,
		audit:   auditRepo,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageS3:
		s3Store, err := storage.NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return s3Store, nil
	default:
		local, err := storage.NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return local, nil
	}
}
