package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// TicketRepo stores issued tickets and their verification audit trail.
type TicketRepo struct{ db *sqlx.DB }

func NewTicketRepo(db *sqlx.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, user_id, schedule_id, seat_number, price_cents, hold_token, payment_id, payment_status,
	ticket_hash, qr_code, status, issued_at, used_at, voided_at`

// CreateWithHold converts the ticket's seat hold and inserts the ticket in
// one transaction, under the schedule's row lock.  The hold must still be
// HELD for that seat, otherwise ErrConditionFailed is returned (it expired
// or was released).  A second live ticket for the same seat violates
// uq_tickets_active_seat and yields ErrDuplicate.
func (r *TicketRepo) CreateWithHold(ctx context.Context, t model.Ticket) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockSchedule(ctx, tx, t.ScheduleID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE seat_holds SET status = 'CONVERTED'
			 WHERE token = ? AND schedule_id = ? AND seat_number = ? AND status = 'HELD'`,
			t.HoldToken, t.ScheduleID, t.SeatNumber)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConditionFailed
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tickets (id, user_id, schedule_id, seat_number, active_seat, price_cents, hold_token,
			                      payment_id, payment_status, ticket_hash, qr_code, status, issued_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.ScheduleID, t.SeatNumber, t.SeatNumber, t.PriceCents, t.HoldToken,
			t.PaymentID, t.PaymentStatus, t.TicketHash, t.QRCode, t.Status, t.IssuedAt.UTC())
		if err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// Get fetches a ticket by id.
func (r *TicketRepo) Get(ctx context.Context, id string) (model.Ticket, error) {
	var t model.Ticket
	err := r.db.GetContext(ctx, &t, `SELECT `+ticketColumns+` FROM tickets WHERE id = ? LIMIT 1`, id)
	return t, notFound(err)
}

// GetByHash fetches a ticket by its tamper-evident hash.
func (r *TicketRepo) GetByHash(ctx context.Context, hash string) (model.Ticket, error) {
	var t model.Ticket
	err := r.db.GetContext(ctx, &t, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_hash = ? LIMIT 1`, hash)
	return t, notFound(err)
}

// ListByUser returns a user's tickets, newest first.
func (r *TicketRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	out := []model.Ticket{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = ? ORDER BY issued_at DESC`, userID)
	return out, err
}

// SeatTicketed reports whether a live (non-void) ticket holds the seat.
func (r *TicketRepo) SeatTicketed(ctx context.Context, scheduleID uint64, seat uint32) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM tickets WHERE schedule_id = ? AND active_seat = ?`, scheduleID, seat)
	return n > 0, err
}

// MarkUsed moves an ISSUED ticket to USED.  Any other current status
// yields ErrConditionFailed, so concurrent scans flip it at most once.
func (r *TicketRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx,
		`UPDATE tickets SET status = 'USED', used_at = ? WHERE id = ? AND status = 'ISSUED'`, at.UTC(), id)
}

// MarkVoid moves an ISSUED ticket to VOID, marks its payment refunded and
// returns its seat to the schedule in one transaction, under the
// schedule's row lock: the ticket's active seat is cleared and its
// CONVERTED hold is released.  A ticket that is not ISSUED yields
// ErrConditionFailed.
func (r *TicketRepo) MarkVoid(ctx context.Context, id string, at time.Time) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var scheduleID uint64
		if err := tx.GetContext(ctx, &scheduleID,
			`SELECT schedule_id FROM tickets WHERE id = ? AND status = 'ISSUED'`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		if err := lockSchedule(ctx, tx, scheduleID); err != nil {
			return err
		}
		var token string
		if err := tx.GetContext(ctx, &token,
			`SELECT hold_token FROM tickets WHERE id = ? AND status = 'ISSUED' FOR UPDATE`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = 'VOID', payment_status = 'REFUNDED', active_seat = NULL, voided_at = ?
			 WHERE id = ? AND status = 'ISSUED'`, at.UTC(), id); err != nil {
			return err
		}
		_, err := releaseHoldTx(ctx, tx, token, model.HoldConverted, at)
		return err
	})
}

func (r *TicketRepo) transition(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

// RecordVerification appends a verification audit row.
func (r *TicketRepo) RecordVerification(ctx context.Context, v *model.TicketVerification) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ticket_verifications (ticket_id, ticket_hash, verifier_id, location, outcome, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.TicketID, v.TicketHash, v.VerifierID, v.Location, v.Outcome, v.CheckedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = uint64(id)
	return nil
}

// Verifications lists the checks recorded for a ticket, oldest first.
func (r *TicketRepo) Verifications(ctx context.Context, ticketID string) ([]model.TicketVerification, error) {
	out := []model.TicketVerification{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, ticket_id, ticket_hash, verifier_id, location, outcome, checked_at
		 FROM ticket_verifications WHERE ticket_id = ? ORDER BY id`, ticketID)
	return out, err
}
