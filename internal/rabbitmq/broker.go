package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

// maxQueuePriority is the x-max-priority of the tasks queue; dispatch
// messages carry priorities 1..10 on this scale.
const maxQueuePriority = 10

type RabbitMQBroker struct {
	ctx            context.Context
	conn           *amqp.Connection
	channel        *amqp.Channel
	queueName      string
	retryQueueName string
}

func NewRabbitMQBroker(ctx context.Context, amqpURL, queueName, retryQueueName string) (*RabbitMQBroker, error) {
	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(amqpURL)
		if dialErr != nil {
			slog.ErrorContext(ctx, "failed to connect to RabbitMQ.. retrying...", "error", dialErr)
		}

		return dialErr
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errval.ErrBrokerUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		err2 := conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return nil, err
	}

	broker := &RabbitMQBroker{
		ctx:            ctx,
		conn:           conn,
		channel:        ch,
		queueName:      queueName,
		retryQueueName: retryQueueName,
	}
	err = broker.declareQueues()
	if err != nil {
		slog.Error("Error while declaring tasks queues", "error", err.Error())
		return nil, err
	}

	return broker, nil
}

func (b *RabbitMQBroker) Publish(ctx context.Context, msg domain.DispatchMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return err
	}

	err = b.channel.PublishWithContext(
		ctx,
		"",          // exchange
		b.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     msg.Priority,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("%w: %v", errval.ErrBrokerUnavailable, err)
	}

	return nil
}

// PublishDelayed routes the message through the retry queue, whose
// dead-letter target is the tasks queue. The per-message TTL makes the
// message reappear on the tasks queue after the given delay.
//
// RabbitMQ only expires messages at the head of a queue: a message with a
// long TTL ahead of one with a short TTL holds the shorter one back until it
// expires itself. A retry's delay can therefore stretch beyond its configured
// backoff, but never shrinks and is never lost.
func (b *RabbitMQBroker) PublishDelayed(ctx context.Context, msg domain.DispatchMessage, delay time.Duration) error {
	body, err := msg.Marshal()
	if err != nil {
		return err
	}

	err = b.channel.PublishWithContext(
		ctx,
		"",
		b.retryQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     msg.Priority,
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("%w: %v", errval.ErrBrokerUnavailable, err)
	}

	return nil
}

func (b *RabbitMQBroker) Consume(ctx context.Context, consumerName string, prefetch int) (<-chan domain.Delivery, error) {
	// Prefetch bounds the unacknowledged deliveries held by this consumer,
	// which is the pool's only backpressure mechanism.
	err := b.channel.Qos(prefetch, 0, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errval.ErrBrokerUnavailable, err)
	}

	msgs, err := b.channel.ConsumeWithContext(
		ctx,
		b.queueName,  // queue
		consumerName, // consumer
		false,        // auto-ack: acks are issued only after a terminal state or a confirmed requeue
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errval.ErrBrokerUnavailable, err)
	}

	deliveries := make(chan domain.Delivery)
	go func() {
		defer close(deliveries)
		for d := range msgs {
			d := d
			delivery := domain.Delivery{
				Body: d.Body,
				Ack: func() error {
					return d.Ack(false)
				},
			}

			select {
			case deliveries <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}()

	return deliveries, nil
}

func (b *RabbitMQBroker) Close() error {
	err := b.channel.Close()
	if err != nil {
		return err
	}

	err = b.conn.Close()
	return err
}

func (b *RabbitMQBroker) IsHealthy() bool {
	if b.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, Rabbit is not healthy")
		return false
	}

	ch, err := b.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, Rabbit is not healthy", "error", err)
		return false
	}
	defer func() {
		err = ch.Close()
		if err != nil {
			slog.Error("Error occurred while closing rabbit channel created for health check", "error", err.Error())
		}
	}()

	return true
}

func (b *RabbitMQBroker) declareQueues() (err error) {
	_, err = b.channel.QueueDeclare(
		b.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		amqp.Table{
			"x-max-priority": maxQueuePriority,
		},
	)
	if err != nil {
		b.closeOnDeclareError()
		return err
	}

	_, err = b.channel.QueueDeclare(
		b.retryQueueName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-max-priority":            maxQueuePriority,
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": b.queueName,
		},
	)
	if err != nil {
		b.closeOnDeclareError()
		return err
	}

	return nil
}

func (b *RabbitMQBroker) closeOnDeclareError() {
	err := b.channel.Close()
	if err != nil {
		slog.Error("error occurred while closing channel", "error", err.Error())
	}

	err = b.conn.Close()
	if err != nil {
		slog.Error("error occurred while closing connection", "error", err.Error())
	}
}
