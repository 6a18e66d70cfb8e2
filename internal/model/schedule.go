package model

import "time"

// Schedule statuses.  Only OPEN schedules accept bookings.
const (
	ScheduleOpen      = "OPEN"
	ScheduleClosed    = "CLOSED"
	ScheduleCancelled = "CANCELLED"
)

// Schedule is one dated run of a Train.  It owns the available_seats
// counter, which is only ever changed by conditional updates so that
// 0 <= AvailableSeats <= TotalSeats holds on the row at all times.
// TotalSeats is copied from the train when the schedule is created.
type Schedule struct {
	ID             uint64    `db:"id" json:"id"`
	TrainID        uint64    `db:"train_id" json:"train_id"`
	JourneyDate    time.Time `db:"journey_date" json:"journey_date"`
	DepartsAt      time.Time `db:"departs_at" json:"departs_at"`
	FareCents      uint32    `db:"fare_cents" json:"fare_cents"`
	TotalSeats     uint32    `db:"total_seats" json:"total_seats"`
	AvailableSeats uint32    `db:"available_seats" json:"available_seats"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// IsOpen reports whether the schedule accepts new bookings.
func (s Schedule) IsOpen() bool { return s.Status == ScheduleOpen }

// Sold returns the number of seats currently taken out of inventory.
func (s Schedule) Sold() uint32 { return s.TotalSeats - s.AvailableSeats }
