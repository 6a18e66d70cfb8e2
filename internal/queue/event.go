// Package queue defines message payloads exchanged over the message broker
// and the audit consumer that records them.
package queue

// Durable queues ticket events are published to.
const (
	TicketIssuedQueue   = "ticket.issued"
	TicketRefundedQueue = "ticket.refunded"
	TicketVerifiedQueue = "ticket.verified"
)

// Queues lists every queue the audit consumer drains.
var Queues = []string{TicketIssuedQueue, TicketRefundedQueue, TicketVerifiedQueue}

// TicketIssuedEvent is published when a booking ends with an issued ticket.
// It carries enough for downstream consumers to notify the passenger
// without querying the primary database.
type TicketIssuedEvent struct {
	TicketID   string `json:"ticket_id"`
	BookingID  string `json:"booking_id"`
	UserID     uint64 `json:"user_id"`
	ScheduleID uint64 `json:"schedule_id"`
	SeatNumber uint32 `json:"seat_number"`
	PriceCents uint32 `json:"price_cents"`
	PaymentID  string `json:"payment_id"`
	IssuedAt   string `json:"issued_at"`
}

// TicketRefundedEvent is published once a ticket is voided and its price
// credited back.
type TicketRefundedEvent struct {
	TicketID      string `json:"ticket_id"`
	UserID        uint64 `json:"user_id"`
	ScheduleID    uint64 `json:"schedule_id"`
	SeatNumber    uint32 `json:"seat_number"`
	AmountCents   int64  `json:"amount_cents"`
	TransactionID string `json:"transaction_id"`
	RefundedAt    string `json:"refunded_at"`
}

// TicketVerifiedEvent is published for every gate check, whatever the outcome.
type TicketVerifiedEvent struct {
	TicketID   string `json:"ticket_id,omitempty"`
	TicketHash string `json:"ticket_hash"`
	VerifierID uint64 `json:"verifier_id"`
	Location   string `json:"location"`
	Outcome    string `json:"outcome"`
	CheckedAt  string `json:"checked_at"`
}
