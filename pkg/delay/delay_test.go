package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sf7293/task-dispatch/internal/domain"
)

func TestDelayExecutor_Execute(t *testing.T) {
	executor := NewDelayExecutor(50 * time.Millisecond)
	task := &domain.Task{Title: "report"}

	start := time.Now()
	result, err := executor.Execute(context.Background(), task)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "Task report completed successfully", result)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestDelayExecutor_Execute_CancelledContext(t *testing.T) {
	executor := NewDelayExecutor(10 * time.Second)
	task := &domain.Task{Title: "never finishes"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Execute(ctx, task)
	assert.ErrorIs(t, err, context.Canceled)
}
