package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

func TestInsertTask_SetsNewStatus(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	task, err := s.InsertTask(ctx, "first task", nil, domain.PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNew, task.Status)
	assert.Equal(t, domain.PriorityHigh, task.Priority)
	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
	assert.Nil(t, task.Result)
	assert.Nil(t, task.Error)
}

func TestInsertTask_RejectsInvalidTitle(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	_, err := s.InsertTask(ctx, "", nil, domain.PriorityLow)
	assert.ErrorIs(t, err, errval.ErrValidation)

	longTitle := ""
	for i := 0; i <= domain.MaxTitleLength; i++ {
		longTitle += "x"
	}
	_, err = s.InsertTask(ctx, longTitle, nil, domain.PriorityLow)
	assert.ErrorIs(t, err, errval.ErrValidation)
}

func TestGetTaskByID_NotFound(t *testing.T) {
	s := NewStorage()

	_, err := s.GetTaskByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errval.ErrNotFound)
}

func TestTransitionTaskStatus_AppliesChanges(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	task, err := s.InsertTask(ctx, "task", nil, domain.PriorityMedium)
	require.NoError(t, err)

	task, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, task.Status)

	started := time.Now().UTC()
	task, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusPending, domain.StatusInProgress, domain.TaskChanges{StartedAt: &started})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, task.Status)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, started, *task.StartedAt)

	completed := time.Now().UTC()
	result := "done"
	task, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusInProgress, domain.StatusCompleted, domain.TaskChanges{
		CompletedAt: &completed,
		Result:      &result,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "done", *task.Result)
	assert.Nil(t, task.Error)
}

func TestTransitionTaskStatus_ConflictOnStatusMismatch(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	task, err := s.InsertTask(ctx, "task", nil, domain.PriorityMedium)
	require.NoError(t, err)

	// Task is NEW, claiming it as PENDING must conflict without mutating.
	_, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusPending, domain.StatusInProgress, domain.TaskChanges{})
	assert.ErrorIs(t, err, errval.ErrConflict)

	stored, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, stored.Status)
	assert.Nil(t, stored.StartedAt)
}

func TestTransitionTaskStatus_RejectsOutOfGraphTransitions(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	task, err := s.InsertTask(ctx, "task", nil, domain.PriorityMedium)
	require.NoError(t, err)

	_, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusNew, domain.StatusCompleted, domain.TaskChanges{})
	assert.ErrorIs(t, err, errval.ErrConflict)

	_, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusCompleted, domain.StatusNew, domain.TaskChanges{})
	assert.ErrorIs(t, err, errval.ErrConflict)
}

func TestTransitionTaskStatus_NotFound(t *testing.T) {
	s := NewStorage()

	_, err := s.TransitionTaskStatus(context.Background(), uuid.New(), domain.StatusPending, domain.StatusInProgress, domain.TaskChanges{})
	assert.ErrorIs(t, err, errval.ErrNotFound)
}

// Exactly one of a concurrent cancel and claim on the same PENDING task may
// succeed; the loser observes a conflict, never a partial state.
func TestTransitionTaskStatus_CancelClaimRace(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		s := NewStorage()
		task, err := s.InsertTask(ctx, "racy task", nil, domain.PriorityMedium)
		require.NoError(t, err)
		_, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var claimErr, cancelErr error

		wg.Add(2)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			_, claimErr = s.TransitionTaskStatus(ctx, task.ID, domain.StatusPending, domain.StatusInProgress, domain.TaskChanges{StartedAt: &now})
		}()
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			_, cancelErr = s.TransitionTaskStatus(ctx, task.ID, domain.StatusPending, domain.StatusCancelled, domain.TaskChanges{CompletedAt: &now})
		}()
		wg.Wait()

		claimWon := claimErr == nil
		cancelWon := cancelErr == nil
		require.NotEqual(t, claimWon, cancelWon, "exactly one of claim and cancel must win")

		stored, err := s.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		if claimWon {
			assert.Equal(t, domain.StatusInProgress, stored.Status)
			assert.NotNil(t, stored.StartedAt)
			assert.Nil(t, stored.CompletedAt)
		} else {
			assert.Equal(t, domain.StatusCancelled, stored.Status)
			assert.Nil(t, stored.StartedAt)
			assert.NotNil(t, stored.CompletedAt)
		}
	}
}

func TestListTasks_PaginationOrderAndTotal(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertTask(ctx, fmt.Sprintf("task %d", i), nil, domain.PriorityMedium)
		require.NoError(t, err)
		// Distinct creation times keep the descending order deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	page1, total, err := s.ListTasks(ctx, domain.ListTasksFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, "task 4", page1[0].Title)
	assert.Equal(t, "task 3", page1[1].Title)

	page2, total, err := s.ListTasks(ctx, domain.ListTasksFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Equal(t, int64(5), total)

	page3, total, err := s.ListTasks(ctx, domain.ListTasksFilter{}, 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, "task 0", page3[0].Title)
}

func TestListTasks_Filters(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	low, err := s.InsertTask(ctx, "low task", nil, domain.PriorityLow)
	require.NoError(t, err)
	_, err = s.InsertTask(ctx, "high task", nil, domain.PriorityHigh)
	require.NoError(t, err)
	_, err = s.TransitionTaskStatus(ctx, low.ID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
	require.NoError(t, err)

	lowPriority := domain.PriorityLow
	items, total, err := s.ListTasks(ctx, domain.ListTasksFilter{Priority: &lowPriority}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, "low task", items[0].Title)

	pending := domain.StatusPending
	items, total, err = s.ListTasks(ctx, domain.ListTasksFilter{Status: &pending}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, low.ID, items[0].ID)
}

func TestGetOrphanedTasks(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	task, err := s.InsertTask(ctx, "orphan", nil, domain.PriorityMedium)
	require.NoError(t, err)
	_, err = s.TransitionTaskStatus(ctx, task.ID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
	require.NoError(t, err)

	// Grace period of zero: everything PENDING counts as orphaned.
	orphans, err := s.GetOrphanedTasks(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, task.ID, orphans[0].ID)

	// A long grace period hides the fresh task.
	_, err = s.GetOrphanedTasks(ctx, 3600, 10)
	assert.ErrorIs(t, err, errval.ErrNotFound)
}
