package model

import "time"

// Train is the static route descriptor an administrator creates once and
// then schedules for individual journey dates.  DepartsAt and ArrivesAt are
// wall-clock times of day formatted HH:MM:SS; they are combined with a
// journey date when a Schedule is created.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – marketing name of the service.
//  Number      – unique train number (e.g. "IC 204").
//  Origin      – departure station.
//  Destination – arrival station.
//  DepartsAt   – departure time of day.
//  ArrivesAt   – arrival time of day.
//  TotalSeats  – seat capacity of the consist.
type Train struct {
	ID          uint64    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Number      string    `db:"number" json:"number"`
	Origin      string    `db:"origin" json:"origin"`
	Destination string    `db:"destination" json:"destination"`
	DepartsAt   string    `db:"departs_at" json:"departs_at"`
	ArrivesAt   string    `db:"arrives_at" json:"arrives_at"`
	TotalSeats  uint32    `db:"total_seats" json:"total_seats"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
