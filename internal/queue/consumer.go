package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AuditConsumer drains the ticket event queues and appends one line per
// event to an audit log file.  Malformed messages are rejected without
// requeue.
type AuditConsumer struct {
	URL  string
	Path string // defaults to logs/tickets.log
	Log  *logrus.Entry

	mu sync.Mutex // serializes file appends across queues
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection drops.
func (a *AuditConsumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		conn, err := amqp.Dial(a.URL)
		if err == nil {
			bo.Reset()
			err = a.consume(ctx, conn)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		a.log().WithError(err).Warnf("audit consumer disconnected; retrying in %s", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (a *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.log().WithError(err).Warn("set QoS failed")
	}

	type delivery struct {
		queue string
		amqp.Delivery
	}
	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	var wg sync.WaitGroup
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		wg.Add(1)
		go func(q string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range msgs {
				select {
				case merged <- delivery{queue: q, Delivery: d}:
				case <-done:
					return
				}
			}
		}(q, msgs)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-merged:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := a.Handle(d.queue, d.Body); err != nil {
				a.log().WithError(err).WithField("queue", d.queue).Warn("audit message rejected")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle formats one event and appends it to the audit file.
func (a *AuditConsumer) Handle(queue string, body []byte) error {
	line, err := FormatAudit(queue, body)
	if err != nil {
		return err
	}
	path := a.Path
	if path == "" {
		path = filepath.Join("logs", "tickets.log")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatAudit renders an event body from queue as a single audit line.
func FormatAudit(queue string, body []byte) (string, error) {
	switch queue {
	case TicketIssuedQueue:
		var ev TicketIssuedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Ticket issued | ticket_id=%s | booking_id=%s | user_id=%d | schedule_id=%d | seat=%d | price=%d cents | payment_id=%s",
			ev.IssuedAt, ev.TicketID, ev.BookingID, ev.UserID, ev.ScheduleID, ev.SeatNumber, ev.PriceCents, ev.PaymentID), nil
	case TicketRefundedQueue:
		var ev TicketRefundedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Ticket refunded | ticket_id=%s | user_id=%d | schedule_id=%d | seat=%d | amount=%d cents | transaction_id=%s",
			ev.RefundedAt, ev.TicketID, ev.UserID, ev.ScheduleID, ev.SeatNumber, ev.AmountCents, ev.TransactionID), nil
	case TicketVerifiedQueue:
		var ev TicketVerifiedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		ticket := ev.TicketID
		if ticket == "" {
			ticket = "-"
		}
		return fmt.Sprintf("[%s] Ticket checked | outcome=%s | ticket_id=%s | verifier_id=%d | location=%q",
			ev.CheckedAt, ev.Outcome, ticket, ev.VerifierID, ev.Location), nil
	}
	return "", fmt.Errorf("unknown queue %q", queue)
}

func (a *AuditConsumer) log() *logrus.Entry {
	if a.Log != nil {
		return a.Log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "audit-consumer")
}
