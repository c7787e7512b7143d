package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/adapter"
	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/config"
	"github.com/storefront/service-coupon/internal/domain/coupon"
	couponEvents "github.com/storefront/service-coupon/internal/events"
	"github.com/storefront/service-coupon/internal/handler"
	"github.com/storefront/service-coupon/internal/metrics"
	"github.com/storefront/service-coupon/internal/platform/auth"
	"github.com/storefront/service-coupon/internal/platform/database"
	"github.com/storefront/service-coupon/internal/platform/health"
	"github.com/storefront/service-coupon/internal/platform/kafka"
	"github.com/storefront/service-coupon/internal/platform/logger"
	"github.com/storefront/service-coupon/internal/platform/middleware"
	"github.com/storefront/service-coupon/internal/repository"
	"github.com/storefront/service-coupon/migrations"
)

const serviceName = "service-coupon"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting service-coupon",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Connect to database
	dbConfig := cfg.DBConfig.Postgres()
	db, err := database.Connect(dbConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(
			&repository.TemplateModel{}, &repository.RestrictionModel{}, &repository.InstanceModel{},
			&repository.UserModel{}, &repository.SessionModel{}, &repository.ProductModel{},
		); err != nil {
			zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		zapLogger.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), migrations.Files, zapLogger); err != nil {
			zapLogger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	retrier := database.NewRetrier(cfg.RetryConfig.Policy(), zapLogger, database.WithObserver(m.RetryObserver()))

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWTConfig.Secret, cfg.JWTConfig.AccessTTL)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zapLogger)
	defer kafkaProducer.Close()

	// Initialize payment provider (mock for development)
	var provider adapter.PaymentProvider
	if cfg.StripeConfig.SecretKey != "" {
		provider = adapter.NewStripePaymentProvider(cfg.StripeConfig.SecretKey, cfg.StripeConfig.WebhookSecret, zapLogger)
	} else {
		zapLogger.Warn("STRIPE_SECRET_KEY not set, using mock payment provider")
		provider = adapter.NewMockPaymentProvider(cfg.StripeConfig.WebhookSecret, zapLogger)
	}

	var notifier adapter.Notifier
	if cfg.CouponConfig.NotifyViaKafka {
		notifier = adapter.NewKafkaNotifier(kafkaProducer, zapLogger)
	} else {
		notifier = adapter.NewLogNotifier(zapLogger)
	}

	// Initialize repositories
	templateRepo := repository.NewTemplateRepository(db, retrier)
	instanceRepo := repository.NewInstanceRepository(db, retrier)
	users := repository.NewUserDirectory(db, retrier)
	sessions := repository.NewSessionDirectory(db, retrier)
	products := repository.NewProductDirectory(db, retrier)

	// Initialize application services
	issuanceService := application.NewIssuanceService(
		templateRepo, instanceRepo, users, sessions,
		coupon.NewRandomCodeGenerator(cfg.CouponConfig.CodeLength),
		notifier, m,
		application.IssuanceConfig{
			Validity:              cfg.CouponConfig.Validity(),
			MaxCodeAttempts:       cfg.CouponConfig.MaxCodeAttempts,
			EnableSessionFallback: cfg.CouponConfig.EnableSessionFallback,
			SessionFallbackWindow: cfg.CouponConfig.SessionFallbackWindow,
		},
		zapLogger,
	)
	redemptionService := application.NewRedemptionService(templateRepo, instanceRepo, products, m, zapLogger)
	catalogService := application.NewCatalogService(templateRepo, zapLogger)
	adminService := application.NewCouponAdminService(templateRepo, instanceRepo, users, zapLogger)

	// Initialize Kafka consumer for payment events
	consumerGroupID := cfg.KafkaConfig.GroupPrefix + "coupon-service"
	paymentConsumer := couponEvents.NewPaymentEventConsumer(
		cfg.KafkaConfig.Brokers,
		consumerGroupID,
		issuanceService,
		kafkaProducer,
		zapLogger,
	)
	defer paymentConsumer.Close()

	// Start Kafka consumer in a goroutine
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	go func() {
		zapLogger.Info("starting payment event consumer")
		if err := paymentConsumer.Start(consumerCtx); err != nil {
			if consumerCtx.Err() == nil {
				zapLogger.Error("payment event consumer failed", zap.Error(err))
			}
		}
	}()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.LoggerMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check and metrics routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	// Register coupon routes
	apiV1 := router.Group("/api/v1")
	handler.NewCouponHandler(redemptionService, catalogService).RegisterRoutes(apiV1, jwtManager)
	handler.NewAdminCouponHandler(adminService).RegisterRoutes(apiV1, jwtManager)
	handler.NewWebhookHandler(provider, issuanceService, zapLogger).RegisterRoutes(apiV1)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down service-coupon...")

	// Cancel Kafka consumer
	consumerCancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("service-coupon stopped")
}
