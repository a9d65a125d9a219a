// Package brokertest holds an in-memory Broker used by the unit tests. It
// records publishes and lets tests hand-feed deliveries with ack tracking,
// mimicking the real consumer channel's close-on-cancel behavior.
package brokertest

import (
	"context"
	"sync"
	"time"

	"github.com/sf7293/task-dispatch/internal/domain"
)

type Delayed struct {
	Msg   domain.DispatchMessage
	Delay time.Duration
}

type Broker struct {
	mu         sync.Mutex
	published  []domain.DispatchMessage
	delayed    []Delayed
	publishErr error
	deliveries chan domain.Delivery
	closeOnce  sync.Once
}

func New() *Broker {
	return &Broker{
		deliveries: make(chan domain.Delivery, 128),
	}
}

func (b *Broker) IsHealthy() bool { return true }

func (b *Broker) Publish(ctx context.Context, msg domain.DispatchMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}

	b.published = append(b.published, msg)
	return nil
}

func (b *Broker) PublishDelayed(ctx context.Context, msg domain.DispatchMessage, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}

	b.delayed = append(b.delayed, Delayed{Msg: msg, Delay: delay})
	return nil
}

func (b *Broker) Consume(ctx context.Context, consumerName string, prefetch int) (<-chan domain.Delivery, error) {
	out := make(chan domain.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-b.deliveries:
				if !ok {
					return
				}

				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.deliveries)
	})
	return nil
}

// SetPublishError makes subsequent publishes fail with err.
func (b *Broker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *Broker) Published() []domain.DispatchMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.DispatchMessage{}, b.published...)
}

func (b *Broker) DelayedMessages() []Delayed {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delayed{}, b.delayed...)
}

// Ack tracks acknowledgment of one hand-fed delivery.
type Ack struct {
	mu    sync.Mutex
	acked bool
	done  chan struct{}
}

func (a *Ack) Acked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acked
}

// Wait blocks until the delivery is acked or the timeout elapses.
func (a *Ack) Wait(timeout time.Duration) bool {
	select {
	case <-a.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Deliver feeds one dispatch message to the consumer.
func (b *Broker) Deliver(msg domain.DispatchMessage) *Ack {
	body, err := msg.Marshal()
	if err != nil {
		panic(err)
	}

	return b.DeliverRaw(body)
}

// DeliverRaw feeds an arbitrary payload, used for poison-message tests.
func (b *Broker) DeliverRaw(body []byte) *Ack {
	ack := &Ack{done: make(chan struct{})}
	b.deliveries <- domain.Delivery{
		Body: body,
		Ack: func() error {
			ack.mu.Lock()
			defer ack.mu.Unlock()
			if !ack.acked {
				ack.acked = true
				close(ack.done)
			}

			return nil
		},
	}

	return ack
}
