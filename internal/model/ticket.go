package model

import "time"

// Ticket statuses.  A ticket moves ISSUED -> USED at the gate and
// ISSUED -> VOID when refunded.
const (
	TicketIssued = "ISSUED"
	TicketUsed   = "USED"
	TicketVoid   = "VOID"
)

// Payment statuses recorded on a ticket.
const (
	PaymentPaid     = "PAID"
	PaymentRefunded = "REFUNDED"
)

// Ticket is a sold seat on a schedule.  TicketHash binds the identity
// fields to the server secret and QRCode carries the same fields in a
// scannable payload.  PaymentID is the ledger transaction that paid for it
// and HoldToken the inventory hold the ticket converted.
type Ticket struct {
	ID            string     `db:"id" json:"id"`
	UserID        uint64     `db:"user_id" json:"user_id"`
	ScheduleID    uint64     `db:"schedule_id" json:"schedule_id"`
	SeatNumber    uint32     `db:"seat_number" json:"seat_number"`
	PriceCents    uint32     `db:"price_cents" json:"price_cents"`
	HoldToken     string     `db:"hold_token" json:"-"`
	PaymentID     string     `db:"payment_id" json:"payment_id"`
	PaymentStatus string     `db:"payment_status" json:"payment_status"`
	TicketHash    string     `db:"ticket_hash" json:"ticket_hash"`
	QRCode        string     `db:"qr_code" json:"qr_code"`
	Status        string     `db:"status" json:"status"`
	IssuedAt      time.Time  `db:"issued_at" json:"issued_at"`
	UsedAt        *time.Time `db:"used_at" json:"used_at,omitempty"`
	VoidedAt      *time.Time `db:"voided_at" json:"voided_at,omitempty"`
}

// Verification outcomes.
const (
	OutcomeValid       = "VALID"
	OutcomeInvalid     = "INVALID"
	OutcomeAlreadyUsed = "ALREADY_USED"
)

// TicketVerification is an append-only audit event written for every gate
// or conductor check.  TicketID is nil when the presented hash matched no
// ticket.
type TicketVerification struct {
	ID         uint64    `db:"id" json:"id"`
	TicketID   *string   `db:"ticket_id" json:"ticket_id,omitempty"`
	TicketHash string    `db:"ticket_hash" json:"ticket_hash"`
	VerifierID uint64    `db:"verifier_id" json:"verifier_id"`
	Location   string    `db:"location" json:"location"`
	Outcome    string    `db:"outcome" json:"outcome"`
	CheckedAt  time.Time `db:"checked_at" json:"checked_at"`
}
