package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sf7293/task-dispatch/configs"
	"github.com/sf7293/task-dispatch/internal/metrics"
	"github.com/sf7293/task-dispatch/internal/postgres"
	"github.com/sf7293/task-dispatch/internal/rabbitmq"
	"github.com/sf7293/task-dispatch/internal/recovery"
	"github.com/sf7293/task-dispatch/internal/redis"
)

func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("Postgres connection has been initialized successfully")

	broker, err := rabbitmq.NewRabbitMQBroker(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.QueueName, cfg.RabbitMQ.RetryQueueName)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = broker.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	slog.Info("RabbitMQ has been initialized successfully")

	redisClient, err := redis.NewClient(ctx, cfg.RedisConfig.ToRedisConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = redisClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing Redis connection", "error", err.Error())
		}
	}()
	slog.Info("Redis connection has been initialized successfully")

	sweeper := recovery.NewSweeper(
		storage,
		broker,
		redisClient,
		metrics.NewPrometheusMetrics(),
		cfg.Recovery.GracePeriodSeconds,
		cfg.Recovery.BatchLimit,
		time.Duration(cfg.Recovery.LockTTLInSeconds)*time.Second,
	)

	c := cron.New()
	_, err = c.AddFunc(cfg.Recovery.CronSpec, func() {
		_, sweepErr := sweeper.Sweep(ctx)
		if sweepErr != nil {
			slog.Error("Recovery sweep failed", "error", sweepErr.Error())
		}
	})
	if err != nil {
		log.Fatalf("Invalid recovery cron spec %q: %v", cfg.Recovery.CronSpec, err)
	}

	c.Start()
	slog.Info("Recovery sweeper is running", "cron_spec", cfg.Recovery.CronSpec, "grace_period_seconds", cfg.Recovery.GracePeriodSeconds)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Recovery sweeper is shutting down...")
	<-c.Stop().Done()
}
