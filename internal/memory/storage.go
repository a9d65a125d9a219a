// Package memory holds a mutex-guarded Storage implementation with the same
// transition semantics as the postgres one. It backs the unit tests and is
// not wired into any production binary.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

type Storage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func NewStorage() *Storage {
	return &Storage{
		tasks: map[uuid.UUID]*domain.Task{},
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

func (s *Storage) InsertTask(ctx context.Context, title string, description *string, priority domain.TaskPriority) (*domain.Task, error) {
	if title == "" || len(title) > domain.MaxTitleLength {
		return nil, fmt.Errorf("%w: invalid title", errval.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task := &domain.Task{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      domain.StatusNew,
		CreatedAt:   time.Now().UTC(),
	}
	s.tasks[task.ID] = task

	return copyTask(task), nil
}

func (s *Storage) GetTaskByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errval.ErrNotFound
	}

	return copyTask(task), nil
}

func (s *Storage) TransitionTaskStatus(ctx context.Context, id uuid.UUID, expected, new domain.TaskStatus, changes domain.TaskChanges) (*domain.Task, error) {
	if !domain.CanTransition(expected, new) {
		return nil, errval.ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errval.ErrNotFound
	}

	if task.Status != expected {
		return nil, errval.ErrConflict
	}

	task.Status = new
	if changes.StartedAt != nil {
		task.StartedAt = changes.StartedAt
	}
	if changes.CompletedAt != nil {
		task.CompletedAt = changes.CompletedAt
	}
	if changes.Result != nil {
		task.Result = changes.Result
	}
	if changes.Error != nil {
		task.Error = changes.Error
	}

	return copyTask(task), nil
}

func (s *Storage) ListTasks(ctx context.Context, filter domain.ListTasksFilter, page, pageSize int32) ([]*domain.Task, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []*domain.Task{}
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && task.Priority != *filter.Priority {
			continue
		}

		matched = append(matched, task)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := int((page - 1) * pageSize)
	if start >= len(matched) {
		return []*domain.Task{}, total, nil
	}

	end := start + int(pageSize)
	if end > len(matched) {
		end = len(matched)
	}

	items := []*domain.Task{}
	for _, task := range matched[start:end] {
		items = append(items, copyTask(task))
	}

	return items, total, nil
}

func (s *Storage) GetOrphanedTasks(ctx context.Context, passedSeconds, limit int32) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(passedSeconds) * time.Second)
	orphans := []*domain.Task{}
	for _, task := range s.tasks {
		if task.Status == domain.StatusPending && !task.CreatedAt.After(cutoff) {
			orphans = append(orphans, copyTask(task))
		}
	}

	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].CreatedAt.Before(orphans[j].CreatedAt)
	})

	if int32(len(orphans)) > limit {
		orphans = orphans[:limit]
	}

	if len(orphans) == 0 {
		return nil, errval.ErrNotFound
	}

	return orphans, nil
}

func copyTask(task *domain.Task) *domain.Task {
	copied := *task
	return &copied
}
