// Package worker implements the consumer side of the task pipeline: a pool
// of executors sharing one broker subscription, each claiming tasks through
// the storage's conditional transition before running them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
	"github.com/sf7293/task-dispatch/pkg/process"
)

type Pool struct {
	storage          domain.Storage
	broker           domain.Broker
	metrics          domain.Metrics
	executor         process.Executor
	concurrency      int
	maxRetries       int32
	retryBackoffBase time.Duration
	drainTimeout     time.Duration
}

func NewPool(storage domain.Storage, broker domain.Broker, metrics domain.Metrics, executor process.Executor,
	concurrency int, maxRetries int32, retryBackoffBase, drainTimeout time.Duration) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Pool{
		storage:          storage,
		broker:           broker,
		metrics:          metrics,
		executor:         executor,
		concurrency:      concurrency,
		maxRetries:       maxRetries,
		retryBackoffBase: retryBackoffBase,
		drainTimeout:     drainTimeout,
	}
}

// Run consumes dispatch messages until ctx is cancelled, then drains
// in-flight executions for at most the drain timeout. Messages still
// unacknowledged when the drain is abandoned are redelivered by the broker
// to another worker instance. When the subscription ends while ctx is still
// live the broker connection was lost, and Run returns
// errval.ErrBrokerUnavailable so the caller can reconnect.
func (p *Pool) Run(ctx context.Context, consumerName string) error {
	// The prefetch bound equals the pool size, so the broker never hands
	// this pool more unacknowledged messages than it has executors.
	deliveries, err := p.broker.Consume(ctx, consumerName, p.concurrency)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		executorNum := i
		go func() {
			defer wg.Done()
			for delivery := range deliveries {
				p.handleDelivery(ctx, executorNum, delivery)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if ctx.Err() == nil {
			// The delivery channel closed underneath us: the broker
			// connection is gone. The caller re-dials and resubscribes.
			return fmt.Errorf("%w: delivery channel closed", errval.ErrBrokerUnavailable)
		}

		return ctx.Err()
	case <-ctx.Done():
	}

	slog.Info("Worker pool is draining in-flight executions", "drain_timeout", p.drainTimeout)
	drainTimer := time.NewTimer(p.drainTimeout)
	defer drainTimer.Stop()

	select {
	case <-done:
		slog.Info("Worker pool drained cleanly")
	case <-drainTimer.C:
		slog.Warn("Drain timeout elapsed, abandoning in-flight executions; unacknowledged messages will be redelivered")
	}

	return ctx.Err()
}

// handleDelivery walks one message through parse, claim, execute and the
// terminal-or-retry decision. Storage and broker mutations run on a context
// detached from the consume context so that shutdown does not corrupt an
// execution that already claimed its task.
func (p *Pool) handleDelivery(ctx context.Context, executorNum int, delivery domain.Delivery) {
	procCtx := context.WithoutCancel(ctx)

	msg, err := domain.UnmarshalDispatchMessage(delivery.Body)
	if err != nil {
		slog.Error("Malformed dispatch message, dropping as poison", "executor", executorNum, "error", err.Error())
		p.metrics.PoisonMessage()
		p.ack(delivery)
		return
	}
	p.metrics.MessageConsumed()

	now := time.Now().UTC()
	task, err := p.storage.TransitionTaskStatus(procCtx, msg.TaskID, domain.StatusPending, domain.StatusInProgress, domain.TaskChanges{
		StartedAt: &now,
	})
	if err != nil {
		if errors.Is(err, errval.ErrConflict) || errors.Is(err, errval.ErrNotFound) {
			// Expected outcome of the cancellation race, or a
			// redelivery for an already finished task.
			slog.Debug("Task is not claimable, skipping delivery", "task_id", msg.TaskID, "reason", err)
			p.ack(delivery)
			return
		}

		// Store unreachable: leave the message unacknowledged so the
		// broker redelivers it later.
		slog.Error("Error occurred while claiming task", "task_id", msg.TaskID, "error", err.Error())
		return
	}
	slog.Info("Task has been claimed", "task_id", task.ID, "executor", executorNum, "retry_count", msg.RetryCount)

	p.metrics.IncInFlight()
	start := time.Now()
	result, execErr := p.executor.Execute(procCtx, task)
	p.metrics.ObserveExecution(time.Since(start))
	p.metrics.DecInFlight()

	if execErr == nil {
		p.complete(procCtx, delivery, task.ID, result)
		return
	}

	slog.Error("Error has happened while executing the task", "task_id", task.ID, "retry_count", msg.RetryCount, "error", execErr.Error())
	if msg.RetryCount < p.maxRetries {
		p.requeue(procCtx, delivery, msg)
		return
	}

	p.fail(procCtx, delivery, task.ID, execErr)
}

func (p *Pool) complete(ctx context.Context, delivery domain.Delivery, taskID uuid.UUID, result string) {
	now := time.Now().UTC()
	err := p.transitionWithRetry(func() error {
		_, trErr := p.storage.TransitionTaskStatus(ctx, taskID, domain.StatusInProgress, domain.StatusCompleted, domain.TaskChanges{
			CompletedAt: &now,
			Result:      &result,
		})
		return trErr
	})
	if err != nil {
		slog.Error("There was an error in updating task status to COMPLETED, leaving message unacknowledged", "task_id", taskID, "error", err.Error())
		return
	}

	p.metrics.TaskCompleted()
	p.ack(delivery)
	slog.Info("Task state is changed from IN_PROGRESS to COMPLETED", "task_id", taskID)
}

// requeue schedules one more attempt: the retry message goes out with an
// exponential backoff delay, the task goes back to PENDING so it can be
// reclaimed, and only then is the original delivery acknowledged.
func (p *Pool) requeue(ctx context.Context, delivery domain.Delivery, msg domain.DispatchMessage) {
	retryMsg := domain.DispatchMessage{
		TaskID:     msg.TaskID,
		Priority:   msg.Priority,
		RetryCount: msg.RetryCount + 1,
	}
	delay := p.retryDelay(msg.RetryCount)

	err := p.broker.PublishDelayed(ctx, retryMsg, delay)
	if err != nil {
		slog.Error("Error occurred while publishing retry message, leaving original unacknowledged", "task_id", msg.TaskID, "error", err.Error())
		return
	}
	p.metrics.MessagePublished()

	err = p.transitionWithRetry(func() error {
		_, trErr := p.storage.TransitionTaskStatus(ctx, msg.TaskID, domain.StatusInProgress, domain.StatusPending, domain.TaskChanges{})
		return trErr
	})
	if err != nil {
		slog.Error("There was an error in returning task to PENDING for retry, leaving message unacknowledged", "task_id", msg.TaskID, "error", err.Error())
		return
	}

	p.metrics.TaskRequeued()
	p.ack(delivery)
	slog.Info("Task has been requeued for retry", "task_id", msg.TaskID, "next_retry_count", retryMsg.RetryCount, "delay", delay)
}

func (p *Pool) fail(ctx context.Context, delivery domain.Delivery, taskID uuid.UUID, execErr error) {
	now := time.Now().UTC()
	errText := execErr.Error()
	err := p.transitionWithRetry(func() error {
		_, trErr := p.storage.TransitionTaskStatus(ctx, taskID, domain.StatusInProgress, domain.StatusFailed, domain.TaskChanges{
			CompletedAt: &now,
			Error:       &errText,
		})
		return trErr
	})
	if err != nil {
		slog.Error("There was an error in updating task status to FAILED, leaving message unacknowledged", "task_id", taskID, "error", err.Error())
		return
	}

	p.metrics.TaskFailed()
	p.ack(delivery)
	slog.Info("Task state is changed from IN_PROGRESS to FAILED, retries exhausted", "task_id", taskID)
}

// retryDelay doubles per attempt starting from the configured base.
func (p *Pool) retryDelay(retryCount int32) time.Duration {
	return p.retryBackoffBase * time.Duration(int64(1)<<uint(retryCount))
}

// transitionWithRetry shields terminal updates from transient store errors; a
// conflict is permanent and is returned immediately.
func (p *Pool) transitionWithRetry(operation func() error) error {
	return backoff.Retry(func() error {
		err := operation()
		if errors.Is(err, errval.ErrConflict) || errors.Is(err, errval.ErrNotFound) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
}

func (p *Pool) ack(delivery domain.Delivery) {
	err := delivery.Ack()
	if err != nil {
		slog.Error("Error occurred while acknowledging delivery", "error", err.Error())
	}
}
