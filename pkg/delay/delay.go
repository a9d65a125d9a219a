package delay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sf7293/task-dispatch/internal/domain"
)

// DelayExecutor is the placeholder task body: it sleeps for a configured
// duration and reports success. Real deployments swap in their own
// process.Executor.
type DelayExecutor struct {
	Duration time.Duration
}

func NewDelayExecutor(duration time.Duration) DelayExecutor {
	return DelayExecutor{
		Duration: duration,
	}
}

func (e DelayExecutor) Execute(ctx context.Context, task *domain.Task) (string, error) {
	slog.Info("Simulating task work", "task_id", task.ID, "duration", e.Duration)

	timer := time.NewTimer(e.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}

	return fmt.Sprintf("Task %s completed successfully", task.Title), nil
}
