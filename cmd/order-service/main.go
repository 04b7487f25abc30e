package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/background"
	"github.com/samuniv/saga-commerce/internal/config"
	"github.com/samuniv/saga-commerce/internal/db"
	"github.com/samuniv/saga-commerce/internal/events"
	"github.com/samuniv/saga-commerce/internal/httpapi"
	"github.com/samuniv/saga-commerce/internal/kafka"
	"github.com/samuniv/saga-commerce/internal/order"
	"github.com/samuniv/saga-commerce/internal/saga"
)

func main() {
	cfg := config.LoadOrderService()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", "order-service"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, db.MigrationsOrders, logger); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	database, err := db.OpenSQL(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer database.Close()

	repo := order.NewRepository(database)

	retry := kafka.NewRetryPolicy(logger, cfg.Kafka.RetryMax, cfg.Kafka.RetryDelay, cfg.Kafka.RetryMultiplier)
	producer := kafka.NewProducer(cfg.Kafka.Brokers, retry, logger)
	defer producer.Close()

	orch := saga.NewOrchestrator(repo, producer, logger)
	svc := order.NewService(repo, orch, producer, logger)

	dispatcher := events.NewDispatcher(logger)
	saga.RegisterHandlers(dispatcher, orch)
	background.NewNotifier(logger).RegisterHandlers(dispatcher)

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		Topic:           events.TopicOrders,
		DeadLetterTopic: events.TopicDeadLetter,
		MaxAttempts:     cfg.Kafka.MaxAttempts,
	}, producer, retry, logger)

	go func() {
		if err := consumer.Run(ctx, dispatchTo(dispatcher)); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	cleanup := background.NewCleanup(repo, svc, cfg.CleanupInterval, cfg.StaleOrderAge, logger)
	go cleanup.Run(ctx)

	router := httpapi.NewOrderRouter(svc, rateLimiter(cfg.HTTP, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

func dispatchTo(d *events.Dispatcher) kafka.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		return d.Dispatch(ctx, kafka.EventType(msg), msg.Value)
	}
}

func rateLimiter(cfg config.HTTP, logger *zap.Logger) *httpapi.RateLimiter {
	if cfg.RateLimitRedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RateLimitRedisURL)
	if err != nil {
		logger.Fatal("invalid rate limit redis url", zap.Error(err))
	}
	return httpapi.NewRateLimiter(redis.NewClient(opts), cfg.RateLimitPerMin, cfg.RateLimitWindow, logger)
}
