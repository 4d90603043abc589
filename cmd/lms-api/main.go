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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/logger"
	"github.com/noah-isme/lms-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// @title LMS API
// @version 1.0.0
// @description Learning management backend: courses, enrollments, progress, organizations and certificates
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	certStore, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare certificate storage", zap.Error(err))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	router := jobs.NewRouter()
	service.RegisterDispatchHandlers(router, notificationRepo, mailer.New(cfg.Mail, logr))
	queue := jobs.NewQueue("dispatch", router.Handle, jobs.QueueConfig{
		Workers:     cfg.Dispatch.Workers,
		BufferSize:  cfg.Dispatch.BufferSize,
		MaxRetries:  cfg.Dispatch.MaxRetries,
		RetryDelay:  cfg.Dispatch.RetryDelay,
		Logger:      logr,
		OnExhausted: service.DispatchExhaustedHook(metrics, logr),
	})
	queue.Start(context.Background())
	dispatcher := service.NewDispatcher(queue, metrics, logr)

	frontendURL := cfg.Mail.FrontendURL
	progressSvc := service.NewProgressService(userRepo, courseRepo, enrollmentRepo, cacheSvc, dispatcher, metrics, logr)
	enrollmentSvc := service.NewEnrollmentService(userRepo, courseRepo, enrollmentRepo, orgRepo, cacheSvc, dispatcher, logr)
	courseSvc := service.NewCourseService(courseRepo, categoryRepo, userRepo, enrollmentRepo, progressSvc, cacheSvc, dispatcher, validate, logr, frontendURL)
	categorySvc := service.NewCategoryService(categoryRepo, cacheSvc, logr)
	orgSvc := service.NewOrganizationService(orgRepo, enrollmentRepo, userRepo, courseRepo, cacheSvc, dispatcher, metrics, validate, logr, frontendURL)
	authSvc := service.NewAuthService(userRepo, orgSvc, dispatcher, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	}, frontendURL)
	userSvc := service.NewUserService(userRepo, orgSvc, dispatcher, validate, logr, frontendURL)
	notificationSvc := service.NewNotificationService(notificationRepo)
	certificateSvc := service.NewCertificateService(userRepo, courseRepo, enrollmentRepo, certStore,
		storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL),
		logr, cfg.PublicURL+cfg.APIPrefix)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	var login handler.LoginLimit
	if cfg.RateLimit.Enabled {
		login = handler.LoginLimit{
			Limiter: middleware.NewRateLimiter(middleware.NewRedisCounter(redisClient), metrics.RecordLoginThrottled, logr),
			Limit:   cfg.RateLimit.LoginLimit,
			Window:  cfg.RateLimit.LoginWindow,
		}
	}

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Users:         handler.NewUserHandler(userSvc),
		Courses:       handler.NewCourseHandler(courseSvc),
		Enrollments:   handler.NewEnrollmentHandler(enrollmentSvc, progressSvc),
		Organizations: handler.NewOrganizationHandler(orgSvc),
		Categories:    handler.NewCategoryHandler(categorySvc),
		Notifications: handler.NewNotificationHandler(notificationSvc),
		Certificates:  handler.NewCertificateHandler(certificateSvc),
		Metrics: handler.NewMetricsHandler(metrics, courseRepo, enrollmentRepo, map[string]handler.Pinger{
			"postgres": handler.PingFunc(db.PingContext),
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		}),
	}, authSvc, login)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}
	queue.Stop()
}
