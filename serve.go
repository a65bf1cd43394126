package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/featurescope/internal/auth"
	"github.com/example/featurescope/internal/config"
	"github.com/example/featurescope/internal/grpcserver"
	"github.com/example/featurescope/internal/handlers"
	"github.com/example/featurescope/internal/inference"
	"github.com/example/featurescope/internal/logging"
	"github.com/example/featurescope/internal/repository"
	"github.com/example/featurescope/internal/resultstore"
	"github.com/example/featurescope/internal/usecase"
	"github.com/example/featurescope/internal/users"
)

const shutdownTimeout = 15 * time.Second

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.UsesDevSecret() {
		logger.Warn("using development JWT secret; set FEATURESCOPE_JWT_SECRET in production")
	}

	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	userStore := users.NewStore(cfg.UsersFile, logger)
	if err := userStore.EnsureSeeded(); err != nil {
		return err
	}
	authService := auth.NewService(userStore, cfg.JWTSecret, cfg.TokenTTL.Duration, logger)

	health := grpcserver.NewHealthServer(logger)

	meta, err := inference.LoadMetadata(cfg.Model.MetadataPath)
	if err != nil {
		return err
	}
	extractor, err := inference.NewONNXExtractor(cfg.Model.RuntimePath, cfg.Model.Path, meta)
	if err != nil {
		return err
	}
	defer extractor.Close()
	logger.Info("feature extractor loaded", zap.String("model", cfg.Model.Path), zap.Int("image_size", extractor.ImageSize()))
	health.MarkServing()

	db, err := initDatabase(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	repo := repository.NewBatchRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return err
	}

	redisClient, err := initRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var mirror resultstore.Mirror
	if cfg.S3.Bucket != "" {
		s3Mirror, err := resultstore.NewS3Mirror(ctx, cfg.S3)
		if err != nil {
			return err
		}
		mirror = s3Mirror
		logger.Info("mirroring result files to s3", zap.String("bucket", cfg.S3.Bucket))
	}

	uc := usecase.NewUploadUseCase(
		repo,
		usecase.NewRedisCache(redisClient),
		inference.NewProcessor(extractor, logger),
		resultstore.NewStore(cfg.ResultsDir(), mirror, logger),
		usecase.Dirs{Uploads: cfg.UploadDir(), Images: cfg.ImagesDir()},
		logger,
	)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	handlers.RegisterRoutes(r, handlers.Options{
		Tokens:         authService,
		Batches:        uc,
		AuthMiddleware: auth.JWTMiddleware(authService),
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})

	grpcListener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return logging.NewOperationError("main.listen_grpc", "", err)
	}
	go func() {
		if err := health.Serve(grpcListener); err != nil {
			logger.Error("grpc health server failed", zap.Error(err))
		}
	}()
	defer health.Stop()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("featurescope listening", zap.String("addr", cfg.HTTPAddr), zap.String("grpc_health_addr", cfg.GRPCHealthAddr))
	return serveHTTPServer(server, shutdownTimeout, logger)
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
