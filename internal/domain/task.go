package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusNew        TaskStatus = "NEW"
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
)

// MaxTitleLength bounds the task title, matching the tasks.title column.
const MaxTitleLength = 255

type Task struct {
	ID          uuid.UUID    `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at"`
	Result      *string      `json:"result"`
	Error       *string      `json:"error"`
}

// TaskChanges carries the field updates applied together with a status
// transition. Nil fields are left untouched by the storage layer.
type TaskChanges struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *string
	Error       *string
}

// IsTerminal reports whether no further transitions are permitted.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Weight maps a priority onto the broker's numeric scale, higher served first.
func (p TaskPriority) Weight() uint8 {
	switch p {
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// CanTransition reports whether moving from one status to another follows the
// task lifecycle graph. The IN_PROGRESS -> PENDING edge exists only for the
// worker's retry requeue.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case StatusNew:
		return to == StatusPending || to == StatusCancelled
	case StatusPending:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}
