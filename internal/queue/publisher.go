package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/logging"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// Publisher publishes reservation transitions as persistent JSON messages
// to durable queues on the default exchange.  The connection is dialed on
// first use and redialed after the broker drops it.
type Publisher struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewPublisher returns a Publisher for url.  Nothing is dialed yet.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{url: url, logger: logger}
}

// Notify implements reservation.Notifier.
func (p *Publisher) Notify(ctx context.Context, n reservation.Notification) error {
	queue, body, err := encode(n)
	if err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		logging.Warn(ctx, p.logger, "rabbitmq: channel unavailable", zap.String("queue", queue), zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Declaring is idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.OccurredAt.UTC(),
		Type:         queue,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	logging.Debug(ctx, p.logger, "rabbitmq: event published",
		zap.String("queue", queue), zap.Uint64("reservation_id", n.Reservation.ID))
	return nil
}

// Close closes the broker connection if one is open.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		_ = p.conn.Close()
		p.conn = nil
		return nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, nil
}

// encode returns the routing key and JSON body for a notification.
func encode(n reservation.Notification) (string, []byte, error) {
	if n.Reservation == nil {
		return "", nil, fmt.Errorf("notification %s without reservation", n.Type)
	}
	body, err := json.Marshal(NewReservationEvent(n))
	if err != nil {
		return "", nil, fmt.Errorf("marshal event: %w", err)
	}
	return string(n.Type), body, nil
}

var _ reservation.Notifier = (*Publisher)(nil)
