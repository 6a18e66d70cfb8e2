package model

import "time"

// Seat hold statuses.
const (
	HoldHeld      = "HELD"
	HoldConverted = "CONVERTED"
	HoldReleased  = "RELEASED"
)

// SeatHold is one seat taken out of a schedule's inventory under a
// reservation token.  While the hold is HELD or CONVERTED its ActiveSeat
// column carries the seat number, and the unique (schedule_id, active_seat)
// index makes it the only claim on that seat.  Releasing clears ActiveSeat
// and returns the seat to the counter.
//
// Fields:
//  Token      – reservation token shared by all seats of one reserve call.
//  ActiveSeat – seat number while claimed, nil once released.
//  ExpiresAt  – HELD holds past this instant are swept back into inventory.
type SeatHold struct {
	ID         uint64     `db:"id" json:"id"`
	Token      string     `db:"token" json:"token"`
	ScheduleID uint64     `db:"schedule_id" json:"schedule_id"`
	SeatNumber uint32     `db:"seat_number" json:"seat_number"`
	ActiveSeat *uint32    `db:"active_seat" json:"active_seat,omitempty"`
	Status     string     `db:"status" json:"status"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	ReleasedAt *time.Time `db:"released_at" json:"released_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
