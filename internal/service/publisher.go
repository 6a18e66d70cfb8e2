// Package service holds adapters from the booking engine to outside
// infrastructure.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 2 * time.Second

// Publisher sends JSON events to durable RabbitMQ queues through the
// default exchange.  The connection is opened lazily, shared by all
// publishes, and redialled after it closes.  Messages are persistent.
type Publisher struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	declared map[string]bool
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{
		url: url,
		dial: func(url string) (*amqp.Connection, error) {
			return amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(publishTimeout)})
		},
		declared: map[string]bool{},
	}
}

// Publish marshals event and publishes it to queue.  The call is bounded
// by a short timeout so a slow broker never stalls a booking.
func (p *Publisher) Publish(ctx context.Context, queue string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ch, err := p.channel(queue)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// channel opens a channel on the shared connection and declares queue the
// first time it is used on that connection.
func (p *Publisher) channel(queue string) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
		p.declared = map[string]bool{}
	}
	ch, err := p.conn.Channel()
	if err != nil {
		_ = p.conn.Close()
		p.conn = nil
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if !p.declared[queue] {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("queue declare %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
