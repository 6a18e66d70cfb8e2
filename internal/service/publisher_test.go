package service

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-ticketing/internal/queue"
)

func TestPublishReportsDialFailure(t *testing.T) {
	p := NewPublisher("amqp://unused/")
	dials := 0
	p.dial = func(string) (*amqp.Connection, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	err := p.Publish(context.Background(), queue.TicketIssuedQueue, queue.TicketIssuedEvent{TicketID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial broker")

	_ = p.Publish(context.Background(), queue.TicketIssuedQueue, queue.TicketIssuedEvent{TicketID: "t"})
	assert.Equal(t, 2, dials, "a failed dial is retried on the next publish")
	assert.NoError(t, p.Close())
}

func TestPublishRejectsUnmarshalableEvent(t *testing.T) {
	p := NewPublisher("amqp://unused/")
	p.dial = func(string) (*amqp.Connection, error) {
		t.Fatal("dial must not happen")
		return nil, nil
	}
	err := p.Publish(context.Background(), queue.TicketIssuedQueue, map[string]interface{}{"c": make(chan int)})
	assert.ErrorContains(t, err, "marshal event")
}
