package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DispatchMessage is the broker-carried envelope correlating to one task
// submission or retry attempt.
type DispatchMessage struct {
	TaskID     uuid.UUID `json:"task_id"`
	Priority   uint8     `json:"priority"`
	RetryCount int32     `json:"retry_count"`
}

func (m DispatchMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalDispatchMessage(body []byte) (DispatchMessage, error) {
	var m DispatchMessage
	err := json.Unmarshal(body, &m)
	return m, err
}

// Delivery is one consumed message. Ack must be called exactly once, and only
// after the task has reached a terminal state or the retry requeue has been
// confirmed.
type Delivery struct {
	Body []byte
	Ack  func() error
}

type Broker interface {
	IsHealthy() bool
	// Publish enqueues a dispatch message; once accepted the message
	// survives broker restarts until acknowledged.
	Publish(ctx context.Context, msg DispatchMessage) error
	// PublishDelayed enqueues a message that becomes eligible for delivery
	// only after delay, used for retry backoff.
	PublishDelayed(ctx context.Context, msg DispatchMessage, delay time.Duration) error
	// Consume delivers at most prefetch unacknowledged messages at a time
	// on the returned channel. The channel closes when the broker
	// connection is closed.
	Consume(ctx context.Context, consumerName string, prefetch int) (<-chan Delivery, error)
	Close() error
}
