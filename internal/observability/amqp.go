package observability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventEnvelope is the wire shape of a service event on the topic exchange.
// RequestID and TraceID ride as message headers so consumers can correlate
// without parsing the body.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	RequestID string      `json:"-"`
	TraceID   string      `json:"-"`
	Payload   interface{} `json:"payload"`
}

// EventPublisher emits service events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error
}

// AMQPPublisher publishes event envelopes to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	if envelope.RequestID != "" {
		headers["x-request-id"] = envelope.RequestID
	}
	if envelope.TraceID != "" {
		headers["trace_id"] = envelope.TraceID
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var defaultPublisher EventPublisher

// SetPublisher installs the process-wide event publisher.
func SetPublisher(publisher EventPublisher) {
	defaultPublisher = publisher
}

// PublishEvent sends through the process-wide publisher. Without one the
// event is dropped silently; publish errors are counted.
func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishEvent(ctx, routingKey, envelope)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
