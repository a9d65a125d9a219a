package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sf7293/task-dispatch/internal/brokertest"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/memory"
	"github.com/sf7293/task-dispatch/internal/metrics"
)

type fakeLock struct {
	mu     sync.Mutex
	held   map[string]bool
	denied bool
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}}
}

func (l *fakeLock) Ping(ctx context.Context) error { return nil }

func (l *fakeLock) Lock(lockKey string, lockTimeDuration time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.denied || l.held[lockKey] {
		return false, nil
	}

	l.held[lockKey] = true
	return true, nil
}

func (l *fakeLock) Unlock(lockKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lockKey)
	return nil
}

func (l *fakeLock) Close() error { return nil }

func TestSweep_RepublishesOrphanedPendingTasks(t *testing.T) {
	storage := memory.NewStorage()
	broker := brokertest.New()
	ctx := context.Background()

	// A PENDING task whose dispatch message was lost.
	orphan, err := storage.InsertTask(ctx, "orphan", nil, domain.PriorityHigh)
	require.NoError(t, err)
	_, err = storage.TransitionTaskStatus(ctx, orphan.ID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
	require.NoError(t, err)

	// A NEW task must be ignored by the sweep.
	_, err = storage.InsertTask(ctx, "not ready", nil, domain.PriorityLow)
	require.NoError(t, err)

	sweeper := NewSweeper(storage, broker, newFakeLock(), metrics.NewNopMetrics(), 0, 100, time.Minute)

	count, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	published := broker.Published()
	require.Len(t, published, 1)
	assert.Equal(t, orphan.ID, published[0].TaskID)
	assert.Equal(t, uint8(10), published[0].Priority)
	assert.Equal(t, int32(0), published[0].RetryCount)
}

func TestSweep_NoOrphans(t *testing.T) {
	sweeper := NewSweeper(memory.NewStorage(), brokertest.New(), newFakeLock(), metrics.NewNopMetrics(), 300, 100, time.Minute)

	count, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweep_SkipsWhenLockIsHeld(t *testing.T) {
	storage := memory.NewStorage()
	broker := brokertest.New()
	ctx := context.Background()

	task, err := storage.InsertTask(ctx, "orphan", nil, domain.PriorityMedium)
	require.NoError(t, err)
	_, err = storage.TransitionTaskStatus(ctx, task.ID, domain.StatusNew, domain.StatusPending, domain.TaskChanges{})
	require.NoError(t, err)

	lock := newFakeLock()
	lock.denied = true
	sweeper := NewSweeper(storage, broker, lock, metrics.NewNopMetrics(), 0, 100, time.Minute)

	count, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, broker.Published())
}

func TestSweep_ReleasesLockAfterRun(t *testing.T) {
	lock := newFakeLock()
	sweeper := NewSweeper(memory.NewStorage(), brokertest.New(), lock, metrics.NewNopMetrics(), 0, 100, time.Minute)

	_, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	// The lock must be free for the next scheduled run.
	locked, err := lock.Lock(sweepLockKey, time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}
