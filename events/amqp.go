package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes lifecycle events to a RabbitMQ topic exchange.
// Messages are persistent JSON with routing key "<prefix>.<event type>".
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	prefix   string
}

// AMQPOption configures the AMQP publisher
type AMQPOption func(*AMQPPublisher)

// WithExchange sets the exchange name
func WithExchange(name string) AMQPOption {
	return func(p *AMQPPublisher) {
		p.exchange = name
	}
}

// WithRoutingPrefix sets the routing key prefix
func WithRoutingPrefix(prefix string) AMQPOption {
	return func(p *AMQPPublisher) {
		p.prefix = prefix
	}
}

// NewAMQPPublisher connects to RabbitMQ and declares the event exchange
func NewAMQPPublisher(url string, opts ...AMQPOption) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		exchange: "draftflow.events",
		prefix:   "draftflow.run",
	}

	for _, opt := range opts {
		opt(p)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.channel = channel
	return p, nil
}

// Publish implements Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	routingKey := fmt.Sprintf("%s.%s", p.prefix, event.Type)

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.Timestamp,
			Type:         string(event.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}

	return nil
}

// Close releases the channel and connection
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.conn.Close()
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}
