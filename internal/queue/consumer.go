package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/logging"
)

// Consumer listens on every reservation queue and appends one line per
// event to <LogDir>/reservations.log.
type Consumer struct {
	url    string
	logDir string
	logger *zap.Logger

	mu sync.Mutex // serializes writes to the log file
}

// NewConsumer returns a Consumer; logDir defaults to "logs".
func NewConsumer(url, logDir string, logger *zap.Logger) *Consumer {
	if logDir == "" {
		logDir = "logs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{url: url, logDir: logDir, logger: logger}
}

// Run connects to the broker and consumes until ctx is done, redialing
// with exponential backoff (capped at 30s) whenever the connection is
// lost.  Malformed messages are rejected without requeue.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			logging.Warn(ctx, c.logger, "reservation-consumer: dial failed",
				zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn(ctx, c.logger, "reservation-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

const maxBackoff = 30 * time.Second

func nextBackoff(d time.Duration) time.Duration { return min(d*2, maxBackoff) }

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logging.Warn(ctx, c.logger, "reservation-consumer: set QoS failed", zap.Error(err))
	}

	ended := make(chan error, len(Queues))
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		go func(q string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				if err := c.handleMessage(d.Body); err != nil {
					logging.Warn(ctx, c.logger, "reservation-consumer: handle message failed",
						zap.String("queue", q), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
			ended <- fmt.Errorf("deliveries channel closed: %s", q)
		}(q, msgs)
	}

	logging.Info(ctx, c.logger, "reservation-consumer: consuming", zap.Strings("queues", Queues))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ended:
		return err
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ReservationID == 0 || ev.Type == "" {
		return errors.New("event without reservation id or type")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.logDir, "reservations.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev ReservationEvent) string {
	items := make([]string, len(ev.Items))
	for i, it := range ev.Items {
		items[i] = fmt.Sprintf("%dx%d@%s", it.TicketTypeID, it.Quantity, it.UnitPrice)
	}
	line := fmt.Sprintf("[%s] %s | reservation_id=%d | customer_id=%d | event_id=%d | total=%s | items=[%s]",
		ev.OccurredAt, ev.Type, ev.ReservationID, ev.CustomerID, ev.EventID, ev.TotalAmount, strings.Join(items, ","))
	if ev.PaymentRef != "" {
		line += " | payment_ref=" + ev.PaymentRef
	}
	if len(ev.TicketCodes) > 0 {
		line += " | tickets=[" + strings.Join(ev.TicketCodes, ",") + "]"
	}
	if ev.Email != "" {
		line += " | email=" + ev.Email
	}
	return line + "\n"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
