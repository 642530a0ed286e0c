package notify

import (
	"context"
	"fmt"
	"sync"

	"dentaldesk/schedule-service/internal/store"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher forwards relayed outbox events to other systems.
type Publisher interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
	Close() error
}

type noopPublisher struct{}

// NoopPublisher discards events; used when no broker is configured.
func NoopPublisher() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(ctx context.Context, event store.OutboxEvent) error { return nil }
func (noopPublisher) Close() error                                              { return nil }

// AMQPPublisher publishes each event to a durable topic exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "schedule.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event store.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Headers:      amqp.Table{"clinic_id": event.ClinicID},
		Body:         event.Payload,
	})
}

func (p *AMQPPublisher) Close() error {
	if p == nil || p.channel == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
