package queue

import (
	"context"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher sends ReservationEvents to a durable queue on the default
// exchange.  Each Publish dials its own connection.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger
}

// NewPublisher returns a Publisher for the broker at url and the named queue.
func NewPublisher(url, queue string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{url: url, queue: queue, logger: logger}
}

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned so the caller can choose to ignore them.
func (p *Publisher) Publish(ctx context.Context, ev ReservationEvent) error {
	log := p.logger.With(slog.String("event_id", ev.EventID), slog.String("type", ev.Type))

	conn, err := dial(ctx, p.url)
	if err != nil {
		log.WarnContext(ctx, "rabbitmq: dial failed", slog.Any("error", err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.WarnContext(ctx, "rabbitmq: channel open failed", slog.Any("error", err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		log.WarnContext(ctx, "rabbitmq: queue declare failed", slog.Any("error", err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		log.WarnContext(ctx, "rabbitmq: publish failed", slog.Any("error", err))
		return err
	}
	return nil
}

// maxDialTimeout caps connection setup when ctx has no earlier deadline.
const maxDialTimeout = 10 * time.Second

// dial connects to the broker with the TCP connect and AMQP handshake
// bounded by ctx's deadline.
func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	timeout := maxDialTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// NoopPublisher drops every event.  It is used when the queue is disabled.
type NoopPublisher struct{}

// Publish implements the publisher contract and always succeeds.
func (NoopPublisher) Publish(context.Context, ReservationEvent) error { return nil }
