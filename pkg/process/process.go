package process

import (
	"context"

	"github.com/sf7293/task-dispatch/internal/domain"
)

// Executor is the externally supplied task body. It returns the result text
// recorded on successful completion. Implementations may be long-running and
// must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (result string, err error)
}
