package metrics

import (
	"time"

	"github.com/sf7293/task-dispatch/internal/domain"
)

// NopMetrics discards every observation. Used in tests.
type NopMetrics struct{}

func NewNopMetrics() NopMetrics { return NopMetrics{} }

func (NopMetrics) TaskCreated(domain.TaskPriority)  {}
func (NopMetrics) TaskCompleted()                   {}
func (NopMetrics) TaskFailed()                      {}
func (NopMetrics) TaskCancelled()                   {}
func (NopMetrics) TaskRequeued()                    {}
func (NopMetrics) ObserveExecution(d time.Duration) {}
func (NopMetrics) IncInFlight()                     {}
func (NopMetrics) DecInFlight()                     {}
func (NopMetrics) MessagePublished()                {}
func (NopMetrics) MessageConsumed()                 {}
func (NopMetrics) PoisonMessage()                   {}
