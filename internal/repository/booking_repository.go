package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// BookingRepo persists the saga log of booking attempts.
type BookingRepo struct{ db *sqlx.DB }

func NewBookingRepo(db *sqlx.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, user_id, schedule_id, seat_number, price_cents, state, hold_token,
	transaction_id, ticket_id, failure, deadline, created_at, updated_at`

// Create inserts a new booking record.
func (r *BookingRepo) Create(ctx context.Context, b model.Booking) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookings (id, user_id, schedule_id, seat_number, price_cents, state, hold_token, deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.ScheduleID, b.SeatNumber, b.PriceCents, b.State, b.HoldToken, b.Deadline.UTC())
	if err != nil && isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// Save writes the mutable saga fields of b.
func (r *BookingRepo) Save(ctx context.Context, b model.Booking) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET state = ?, transaction_id = ?, ticket_id = ?, failure = ?, deadline = ? WHERE id = ?`,
		b.State, b.TransactionID, b.TicketID, b.Failure, b.Deadline.UTC(), b.ID)
	if err != nil {
		return err
	}
	// RowsAffected is 0 for an unchanged row too; only a missing row is an error.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.Get(ctx, b.ID); err != nil {
			return err
		}
	}
	return nil
}

// Get fetches a booking by id.
func (r *BookingRepo) Get(ctx context.Context, id string) (model.Booking, error) {
	var b model.Booking
	err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? LIMIT 1`, id)
	return b, notFound(err)
}

// Stale returns up to limit non-terminal bookings whose deadline passed.
func (r *BookingRepo) Stale(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE state IN ('REQUESTED','SEAT_HELD','PAID','COMPENSATING') AND deadline <= ?
		 ORDER BY deadline LIMIT ?`, now.UTC(), limit)
	return out, err
}
