// internal/queue/consumer.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const (
	EventPayment             = "payment"
	EventSubscriptionExpired = "subscription_expired"

	retryCountHeader = "x-retry-count"
	maxEventRetries  = 3
)

// ExitEvent is the message the billing side publishes when a recipient pays
// or a sender's subscription lapses. Either way, matching Targets are forced
// out of the sequence.
type ExitEvent struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
}

// ExitHandler applies exit events to the campaign state.
type ExitHandler interface {
	HandlePaymentEvent(ctx context.Context, recipientID string) (int, error)
	HandleSubscriptionExpired(ctx context.Context, senderID string) (int, error)
}

// publisher is the slice of *amqp.Channel the retry path needs. A Delivery's
// Acknowledger is the channel it arrived on, which also publishes.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ExitEventConsumer drains exit events from RabbitMQ and applies them through
// the campaign service.
type ExitEventConsumer struct {
	URL       string
	QueueName string
	Campaigns ExitHandler
	Log       zerolog.Logger
}

// Run consumes until the context is cancelled or the connection drops.
func (c *ExitEventConsumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck off for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.Log.Info().Str("queue", q.Name).Msg("exit event consumer running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *ExitEventConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev ExitEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.Log.Warn().Err(err).Msg("invalid exit event, dropping")
		d.Ack(false)
		return
	}

	var err error
	switch ev.Type {
	case EventPayment:
		_, err = c.Campaigns.HandlePaymentEvent(ctx, ev.RecipientID)
	case EventSubscriptionExpired:
		_, err = c.Campaigns.HandleSubscriptionExpired(ctx, ev.SenderID)
	default:
		c.Log.Warn().Str("type", ev.Type).Msg("unknown exit event type, dropping")
		d.Ack(false)
		return
	}

	if err != nil {
		c.retry(d, ev.Type, err)
		return
	}
	d.Ack(false)
}

// retry republishes a failed event with its attempt count bumped, so the
// header survives redelivery (a plain Nack requeues with the original
// headers and would loop forever). After the cap the event is dropped.
func (c *ExitEventConsumer) retry(d amqp.Delivery, eventType string, cause error) {
	retries := retryCount(d.Headers)
	if retries+1 >= maxEventRetries {
		c.Log.Error().Err(cause).Str("type", eventType).Int("retries", retries).
			Msg("exit event failed repeatedly, dropping")
		d.Ack(false)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(retries + 1)

	err := c.publish(d, amqp.Publishing{
		ContentType: d.ContentType,
		Body:        d.Body,
		Headers:     headers,
	})
	if err != nil {
		// Keep the message on the broker rather than lose it.
		c.Log.Warn().Err(err).Str("type", eventType).Msg("failed to requeue exit event")
		d.Nack(false, true)
		return
	}
	c.Log.Warn().Err(cause).Str("type", eventType).Int("attempt", retries+1).
		Msg("exit event failed, requeued")
	d.Ack(false)
}

func (c *ExitEventConsumer) publish(d amqp.Delivery, msg amqp.Publishing) error {
	pub, ok := d.Acknowledger.(publisher)
	if !ok {
		return fmt.Errorf("delivery channel cannot publish")
	}
	return pub.Publish("", c.QueueName, false, false, msg)
}

func retryCount(headers amqp.Table) int {
	v, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}
