// Package recovery re-enqueues orphaned tasks: PENDING records whose
// dispatch message was lost, typically because the broker publish failed
// after the task was already marked ready.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

const sweepLockKey = "lock:recovery-sweep"

type Sweeper struct {
	storage            domain.Storage
	broker             domain.Broker
	lock               domain.DistributedLock
	metrics            domain.Metrics
	gracePeriodSeconds int32
	batchLimit         int32
	lockTTL            time.Duration
}

func NewSweeper(storage domain.Storage, broker domain.Broker, lock domain.DistributedLock, metrics domain.Metrics,
	gracePeriodSeconds, batchLimit int32, lockTTL time.Duration) *Sweeper {
	return &Sweeper{
		storage:            storage,
		broker:             broker,
		lock:               lock,
		metrics:            metrics,
		gracePeriodSeconds: gracePeriodSeconds,
		batchLimit:         batchLimit,
		lockTTL:            lockTTL,
	}
}

// Sweep re-publishes dispatch messages for PENDING tasks older than the grace
// period. The distributed lock keeps concurrent sweeper instances from
// double-enqueueing the same batch; re-publishing an already in-flight task
// is still harmless because the worker's claim check drops the duplicate.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	isLocked, err := s.lock.Lock(sweepLockKey, s.lockTTL)
	if err != nil {
		return 0, err
	}
	if !isLocked {
		slog.Info("Another recovery sweep is in progress, skipping this run")
		return 0, nil
	}
	defer func() {
		err := s.lock.Unlock(sweepLockKey)
		if err != nil {
			slog.Error("Error while unlocking recovery sweep lock", "error", err.Error())
		}
	}()

	orphans, err := s.storage.GetOrphanedTasks(ctx, s.gracePeriodSeconds, s.batchLimit)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.Info("No orphaned tasks found", "grace_period_seconds", s.gracePeriodSeconds)
			return 0, nil
		}

		return 0, err
	}
	slog.Info("Orphaned tasks are fetched", "grace_period_seconds", s.gracePeriodSeconds, "fetched_items_count", len(orphans))

	requeuedCount := 0
	for _, task := range orphans {
		msg := domain.DispatchMessage{
			TaskID:     task.ID,
			Priority:   task.Priority.Weight(),
			RetryCount: 0,
		}
		err = s.broker.Publish(ctx, msg)
		if err != nil {
			slog.Error("Error occurred while re-publishing orphaned task, will retry on the next sweep", "task_id", task.ID, "error", err.Error())
			continue
		}

		s.metrics.MessagePublished()
		slog.Info("Orphaned task is re-queued successfully", "task_id", task.ID, "priority", task.Priority)
		requeuedCount++
	}

	slog.Info("Recovery sweep finished", "orphaned_count", len(orphans), "successful_requeued_count", requeuedCount)
	return requeuedCount, nil
}
