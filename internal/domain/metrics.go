package domain

import "time"

// Metrics is a fire-and-forget observer. Implementations must never return
// errors or panic into the transition and execution paths that call them.
type Metrics interface {
	TaskCreated(priority TaskPriority)
	TaskCompleted()
	TaskFailed()
	TaskCancelled()
	TaskRequeued()
	ObserveExecution(d time.Duration)
	IncInFlight()
	DecInFlight()
	MessagePublished()
	MessageConsumed()
	PoisonMessage()
}
