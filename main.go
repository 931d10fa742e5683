package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ms-payments/internal/auth"
	"ms-payments/internal/config"
	"ms-payments/internal/database/migrations"
	"ms-payments/internal/kafka"
	"ms-payments/internal/logger"
	"ms-payments/internal/notification"
	"ms-payments/internal/payment/cleanup"
	handlers "ms-payments/internal/payment/handler"
	rediswrap "ms-payments/internal/payment/redis"
	"ms-payments/internal/payment/services"
	"ms-payments/internal/payment/storage"
	"ms-payments/internal/sse"
	"ms-payments/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func connectDatabase(cfg config.DatabaseConfig, logger *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.PostgresDSN())
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func runMigrations(bunDB *bun.DB, cfg config.DatabaseConfig, logger *logger.Logger) {
	runner := migrations.NewRunner(bunDB, migrations.Options{Dir: cfg.Migrations, AutoMigrate: cfg.AutoMigrate}, logger)
	defer runner.Close()

	if err := runner.RunMigrations(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
}

func setupKafka(ctx context.Context, cfg config.KafkaConfig, logger *logger.Logger) *kafka.Producer {
	required := []string{cfg.Topics.CleanupRuns, cfg.Topics.PaymentEvents, cfg.Topics.GatewayConfirmations}
	if err := kafka.EnsureTopicsExist(ctx, cfg.Brokers, required, logger); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		logger.Info("KAFKA", "Required topics ensured successfully")
	}
	if topics, err := kafka.ListTopics(ctx, cfg.Brokers); err == nil {
		logger.Debug("KAFKA", fmt.Sprintf("Broker topics: %s", strings.Join(topics, ", ")))
	}

	producer := kafka.NewProducer(cfg.Brokers, kafka.Topics{
		CleanupRuns:   cfg.Topics.CleanupRuns,
		PaymentEvents: cfg.Topics.PaymentEvents,
	}, logger)
	logger.Info("KAFKA", "Kafka producer initialized successfully")
	return producer
}

func main() {
	logger := logger.NewLogger("ms-payments")
	defer logger.Close()

	logger.Info("APP", "Starting Payment Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB := connectDatabase(cfg.Database, logger)
	if cfg.Database.AutoMigrate {
		runMigrations(bunDB, cfg.Database, logger)
	}
	store := storage.NewBunStore(bunDB, logger)
	defer store.Close()

	var producer *kafka.Producer
	var events services.EventPublisher
	if cfg.Kafka.Enabled {
		producer = setupKafka(ctx, cfg.Kafka, logger)
		defer producer.Close()
		events = producer
	} else {
		logger.Info("KAFKA", "Kafka disabled, payment events will not be published")
	}

	var gateway services.Gateway
	stripeGateway, err := services.NewStripeGateway(cfg.Gateway.StripeSecretKey, logger)
	if err != nil {
		logger.Warn("STRIPE", fmt.Sprintf("Gateway verification disabled: %v", err))
	} else {
		gateway = stripeGateway
	}

	paymentService := services.NewPaymentStatusService(store, gateway, events, cfg.Cleanup.TimeoutWindow, logger)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.GatewayConfirmations, cfg.Kafka.ConsumerGroup, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, paymentService.ApplyGatewayConfirmation); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Confirmation consumer stopped: %v", err))
			}
		}()
	}

	cleanupEvents := sse.NewCleanupEventEmitter()
	opts := []cleanup.Option{cleanup.WithReporter(cleanupEvents)}
	if producer != nil {
		opts = append(opts, cleanup.WithReporter(producer))
	}
	var redisClient *redis.Client
	if cfg.Cleanup.DistributedLock {
		redisClient, err = rediswrap.Connect(ctx, cfg.Redis.Addr, logger)
		if err != nil {
			logger.Warn("REDIS", "Cleanup lease unavailable, relying on the in-process guard only")
		} else {
			defer redisClient.Close()
			opts = append(opts, cleanup.WithLease(rediswrap.NewRunLock(redisClient, cfg.Cleanup.LockTTL, logger)))
		}
	}

	reconciler := cleanup.NewReconciler(store, cfg.Cleanup.TimeoutWindow, logger)
	scheduler := cleanup.NewScheduler(reconciler, logger, opts...)
	var cleanupRoutes handlers.CleanupScheduler = scheduler
	var cleanupStream handlers.CleanupStream = cleanupEvents
	if cfg.Cleanup.Enabled {
		scheduler.Start(cfg.Cleanup.IntervalMinutes)
	} else {
		logger.Warn("CLEANUP", "Payment cleanup disabled by configuration")
		cleanupRoutes = nil
		cleanupStream = nil
	}

	dispatcher := notification.NewDispatcher(ctx, cfg.Email, logger)
	logger.Info("EMAIL", fmt.Sprintf("Notification provider: %s", dispatcher.Provider()))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handlers.NewPaymentHandler(paymentService, cleanupRoutes, cleanupStream, dispatcher, logger).RegisterRoutes(engine)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := store.HealthCheck(); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Database unavailable", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth.OIDCIssuer != "" {
			verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer)
			if err != nil {
				logger.Fatal("AUTH", err.Error())
			}
			r.Use(auth.Middleware(verifier))
			logger.Info("AUTH", "OIDC middleware applied to operator API routes")
		} else {
			logger.Warn("AUTH", "OIDC_ISSUER not set, operator API routes are unauthenticated")
		}
		r.Mount("/api", engine)
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Payment Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	scheduler.Stop()
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	if err := scheduler.Wait(ctxShutdown); err != nil {
		logger.Warn("CLEANUP", fmt.Sprintf("Cleanup run still in flight at shutdown: %v", err))
	}
	logger.Info("HTTP", "✅ Payment Service shutdown complete")
}
