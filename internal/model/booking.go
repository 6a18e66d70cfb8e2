package model

import "time"

// Booking saga states.
const (
	BookingRequested    = "REQUESTED"
	BookingSeatHeld     = "SEAT_HELD"
	BookingPaid         = "PAID"
	BookingIssued       = "ISSUED"
	BookingCompensating = "COMPENSATING"
	BookingFailed       = "FAILED"
)

// Booking is the state-tagged record of one booking attempt.  It is written
// at every transition so a crashed attempt can be compensated later from
// HoldToken and the ledger reference (the booking ID).
type Booking struct {
	ID            string    `db:"id"`
	UserID        uint64    `db:"user_id"`
	ScheduleID    uint64    `db:"schedule_id"`
	SeatNumber    uint32    `db:"seat_number"`
	PriceCents    uint32    `db:"price_cents"`
	State         string    `db:"state"`
	HoldToken     string    `db:"hold_token"`
	TransactionID *string   `db:"transaction_id"`
	TicketID      *string   `db:"ticket_id"`
	Failure       *string   `db:"failure"`
	Deadline      time.Time `db:"deadline"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Terminal reports whether the saga has finished.
func (b Booking) Terminal() bool {
	return b.State == BookingIssued || b.State == BookingFailed
}
