package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sf7293/task-dispatch/configs"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
	"github.com/sf7293/task-dispatch/internal/metrics"
	"github.com/sf7293/task-dispatch/internal/postgres"
	"github.com/sf7293/task-dispatch/internal/rabbitmq"
	"github.com/sf7293/task-dispatch/internal/worker"
	"github.com/sf7293/task-dispatch/pkg/delay"
)

var postgresIsReady, rabbitIsReady bool

func main() {
	cfg := configs.InitConfig()
	args := os.Args
	slog.Info("Running task_worker command", "args", args)

	// workerNumber only needs to be unique per worker instance, it becomes
	// part of the broker consumer name
	workerNumber := "0"
	if len(args) > 1 {
		workerNumber = args[1]
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The broker is re-dialed on connection loss, so everything observing it
	// goes through currentBroker.
	var (
		brokerMu sync.Mutex
		broker   *rabbitmq.RabbitMQBroker
	)
	currentBroker := func() domain.Broker {
		brokerMu.Lock()
		defer brokerMu.Unlock()
		return broker
	}
	connectBroker := func() error {
		b, dialErr := rabbitmq.NewRabbitMQBroker(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.QueueName, cfg.RabbitMQ.RetryQueueName)
		if dialErr != nil {
			return dialErr
		}

		brokerMu.Lock()
		broker = b
		brokerMu.Unlock()
		return nil
	}

	err := connectBroker()
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = currentBroker().Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	rabbitIsReady = true
	slog.Info("RabbitMQ connection has been initialized successfully")

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	postgresIsReady = true
	slog.Info("Postgres connection has been initialized successfully")

	promMetrics := metrics.NewPrometheusMetrics()
	executor := delay.NewDelayExecutor(time.Duration(cfg.Worker.ExecutionDelaySeconds) * time.Second)

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Worker is shutting down, draining in-flight executions...", "worker_num", workerNumber)
		cancel()
	}()

	// Running HTTP Server in order to have liveness and readiness HTTP APIs
	go setUpHealthCheckerAPIs(ctx, cfg, storage, currentBroker)

	consumerName := "task-worker:" + workerNumber
	slog.Info("Worker pool is running. To exit press CTRL+C", "worker_num", workerNumber, "concurrency", cfg.Worker.Concurrency)

	for {
		pool := worker.NewPool(
			storage,
			currentBroker(),
			promMetrics,
			executor,
			cfg.Worker.Concurrency,
			cfg.Worker.MaxRetries,
			time.Duration(cfg.Worker.RetryBackoffBaseSeconds)*time.Second,
			time.Duration(cfg.Worker.DrainTimeoutInSeconds)*time.Second,
		)

		err = pool.Run(ctx, consumerName)
		if err == nil || errors.Is(err, context.Canceled) {
			break
		}
		if !errors.Is(err, errval.ErrBrokerUnavailable) {
			log.Fatalf("Worker pool stopped with error: %v", err)
		}
		if ctx.Err() != nil {
			break
		}

		slog.Warn("RabbitMQ connection was lost, reconnecting...", "worker_num", workerNumber)
		err = currentBroker().Close()
		if err != nil {
			slog.Error("An error occurred while closing lost RabbitMQ connection", "error", err.Error())
		}

		err = connectBroker()
		if err != nil {
			log.Fatalf("Failed to reconnect to RabbitMQ: %v", err)
		}
		slog.Info("RabbitMQ connection has been re-established", "worker_num", workerNumber)
	}

	slog.Info("Worker has exited", "worker_num", workerNumber)
}

func setUpHealthCheckerAPIs(ctx context.Context, cfg *configs.Config, storage domain.Storage, broker func() domain.Broker) {
	r := gin.Default()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && rabbitIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		err := storage.Ping(c)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if !broker().IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Starting health server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Health server forced to shutdown: %v\n", err)
	}
}
