package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-attend/internal/auth"
	"github.com/example/face-attend/internal/blobstore"
	"github.com/example/face-attend/internal/config"
	"github.com/example/face-attend/internal/encryption"
	"github.com/example/face-attend/internal/handlers"
	"github.com/example/face-attend/internal/inference"
	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
	"github.com/example/face-attend/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, cfg, logger)

	profiles := repository.NewProfileRepository(db, logger)
	attendance := repository.NewAttendanceRepository(db, logger)
	crowd := repository.NewCrowdRepository(db, logger)
	blobs := blobstore.NewDatabaseStore(db, logger)
	for _, migrate := range []func(context.Context) error{
		profiles.AutoMigrate, attendance.AutoMigrate, crowd.AutoMigrate, blobs.AutoMigrate,
	} {
		if err := migrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)
	cache := usecase.NewRedisCache(redisClient)

	cipher, err := encryption.NewAEADCipher(cfg.Cipher.Key)
	if err != nil {
		logger.Fatal("embedding cipher setup failed", zap.Error(err))
	}

	client := inference.NewHTTPClient(cfg.Inference.IndividualURL, cfg.Inference.GroupURL,
		cfg.Inference.CrowdURL, cfg.Inference.Timeout, logger)

	matcher := usecase.NewMatcher(cipher, logger)
	h := &handlers.Handlers{
		Enrollment:     usecase.NewEnrollmentUseCase(profiles, blobs, client, cipher, logger),
		Authentication: usecase.NewAuthenticationUseCase(profiles, client, matcher, logger),
		Attendance:     usecase.NewAttendanceUseCase(profiles, attendance, blobs, client, matcher, cache, logger),
		Crowd:          usecase.NewCrowdUseCase(crowd, blobs, client, cache, logger),
		Metrics:        usecase.NewMetricsUseCase(attendance, crowd, logger),
		Retention: usecase.NewRetentionUseCase(attendance, crowd,
			cfg.Retention.AttendanceMonths, cfg.Retention.CrowdMonths, logger),
		Logger: logger,
	}

	scheduler := startRetentionScheduler(h.Retention, logger)
	defer scheduler.Stop()

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.JWT.Secret, cfg.JWT.Audience)
	handlers.RegisterRoutes(r, h, authMiddleware)

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}

	logger.Info("face attendance API listening", zap.String("addr", server.Addr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// startRetentionScheduler prunes expired records once a day, off-peak.
func startRetentionScheduler(retention *usecase.RetentionUseCase, logger *zap.Logger) *gocron.Scheduler {
	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(1).Day().At("02:00").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := retention.Cleanup(ctx); err != nil {
			logger.Error("retention cleanup failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("failed to schedule retention cleanup", zap.Error(err))
	}
	scheduler.StartAsync()
	return scheduler
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
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

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

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
