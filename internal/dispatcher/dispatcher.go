// Package dispatcher implements the producer side of the task pipeline:
// creating a task record, marking it ready to run, and enqueueing its
// dispatch message. It also carries the pre-claim cancellation path.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

type Dispatcher struct {
	storage domain.Storage
	broker  domain.Broker
	metrics domain.Metrics
}

func NewDispatcher(storage domain.Storage, broker domain.Broker, metrics domain.Metrics) *Dispatcher {
	return &Dispatcher{
		storage: storage,
		broker:  broker,
		metrics: metrics,
	}
}

// Submit creates a task, marks it PENDING and publishes its dispatch message.
// When publishing fails the task stays PENDING with no in-flight message; the
// recovery sweep re-enqueues such orphans after a grace period.
func (d *Dispatcher) Submit(ctx context.Context, title string, description *string, priority domain.TaskPriority) (*domain.Task, error) {
	if title == "" || len(title) > domain.MaxTitleLength {
		return nil, fmt.Errorf("%w: title must be non-empty and at most %d characters", errval.ErrValidation, domain.MaxTitleLength)
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: unknown priority %q", errval.ErrValidation, priority)
	}

	task, err := d.storage.InsertTask(ctx, title, description, priority)
	if err != nil {
		if errors.Is(err, errval.ErrValidation) {
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.InsertTask", "error", err)
		return nil, errval.ErrInternal
	}
	d.metrics.TaskCreated(task.Priority)

	taskID := task.ID
	task, err = d.storage.TransitionTaskStatus(ctx, taskID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while marking task as pending", "task_id", taskID, "error", err)
		return nil, errval.ErrInternal
	}

	msg := domain.DispatchMessage{
		TaskID:     task.ID,
		Priority:   task.Priority.Weight(),
		RetryCount: 0,
	}
	err = d.broker.Publish(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while publishing dispatch message, task is left pending for the recovery sweep",
			"task_id", task.ID, "error", err)
		return nil, fmt.Errorf("%w: task %s accepted but not dispatched", errval.ErrBrokerUnavailable, task.ID)
	}
	d.metrics.MessagePublished()

	slog.InfoContext(ctx, "Task has been submitted and dispatched", "task_id", task.ID, "priority", task.Priority)
	return task, nil
}

func (d *Dispatcher) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := d.storage.GetTaskByID(ctx, id)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.GetTaskByID", "error", err)
		return nil, errval.ErrInternal
	}

	return task, nil
}

func (d *Dispatcher) List(ctx context.Context, filter domain.ListTasksFilter, page, pageSize int32) ([]*domain.Task, int64, error) {
	items, total, err := d.storage.ListTasks(ctx, filter, page, pageSize)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while calling storage.ListTasks", "error", err)
		return nil, 0, errval.ErrInternal
	}

	return items, total, nil
}

// Cancel takes a NEW or PENDING task out of the pipeline. It never touches
// the broker: a message already in flight for a cancelled task is dropped by
// the worker's claim check. Returns false when the task does not exist or has
// already been claimed or finished.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	changes := domain.TaskChanges{CompletedAt: &now}

	_, err := d.storage.TransitionTaskStatus(ctx, id, domain.StatusNew, domain.StatusCancelled, changes)
	if errors.Is(err, errval.ErrConflict) {
		_, err = d.storage.TransitionTaskStatus(ctx, id, domain.StatusPending, domain.StatusCancelled, changes)
	}

	if err != nil {
		if errors.Is(err, errval.ErrNotFound) || errors.Is(err, errval.ErrConflict) {
			slog.InfoContext(ctx, "task is not cancellable", "task_id", id, "reason", err)
			return false, nil
		}

		slog.ErrorContext(ctx, "error occurred while cancelling task", "task_id", id, "error", err)
		return false, errval.ErrInternal
	}

	d.metrics.TaskCancelled()
	slog.InfoContext(ctx, "Task has been cancelled", "task_id", id)
	return true, nil
}
