package domain

import (
	"context"

	"github.com/google/uuid"
)

// ListTasksFilter narrows ListTasks results. Nil fields mean no filtering.
type ListTasksFilter struct {
	Status   *TaskStatus
	Priority *TaskPriority
}

type Storage interface {
	Ping(ctx context.Context) (err error)
	InsertTask(ctx context.Context, title string, description *string, priority TaskPriority) (*Task, error)
	GetTaskByID(ctx context.Context, id uuid.UUID) (*Task, error)
	// TransitionTaskStatus atomically moves a task from expected to new
	// status, applying changes in the same operation. It returns
	// errval.ErrConflict without mutating anything when the stored status
	// differs from expected. This is the only primitive concurrent actors
	// may use to mutate a task.
	TransitionTaskStatus(ctx context.Context, id uuid.UUID, expected, new TaskStatus, changes TaskChanges) (*Task, error)
	// ListTasks returns one page ordered by creation time descending,
	// together with the total number of matching tasks. Pages are
	// 1-indexed.
	ListTasks(ctx context.Context, filter ListTasksFilter, page, pageSize int32) ([]*Task, int64, error)
	// GetOrphanedTasks returns PENDING tasks created more than passedSeconds
	// ago, used by the recovery sweep to re-enqueue lost dispatches.
	GetOrphanedTasks(ctx context.Context, passedSeconds, limit int32) ([]*Task, error)
}
