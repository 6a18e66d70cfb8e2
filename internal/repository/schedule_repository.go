package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// ScheduleRepo owns the schedules table and the seat_holds rows that move
// seats in and out of a schedule's available_seats counter.  The counter
// is changed only inside the transactions in this file.
type ScheduleRepo struct{ db *sqlx.DB }

func NewScheduleRepo(db *sqlx.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

const scheduleColumns = `id, train_id, journey_date, departs_at, fare_cents, total_seats, available_seats, status, created_at, updated_at`

// Create inserts an OPEN schedule with every seat available.  A second
// schedule for the same train and date yields ErrDuplicate; an unknown
// train yields ErrNotFound.
func (r *ScheduleRepo) Create(ctx context.Context, s *model.Schedule) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO schedules (train_id, journey_date, departs_at, fare_cents, total_seats, available_seats, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.TrainID, s.JourneyDate.Format("2006-01-02"), s.DepartsAt.UTC(), s.FareCents, s.TotalSeats, s.TotalSeats, model.ScheduleOpen)
	if err != nil {
		switch {
		case isDuplicate(err):
			return ErrDuplicate
		case isMissingParent(err):
			return ErrNotFound
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.AvailableSeats = s.TotalSeats
	s.Status = model.ScheduleOpen
	return nil
}

// Get fetches a schedule by id.
func (r *ScheduleRepo) Get(ctx context.Context, id uint64) (model.Schedule, error) {
	var s model.Schedule
	err := r.db.GetContext(ctx, &s, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ? LIMIT 1`, id)
	return s, notFound(err)
}

// ListByTrain returns the schedules of a train from the given date on,
// earliest first.
func (r *ScheduleRepo) ListByTrain(ctx context.Context, trainID uint64, from time.Time) ([]model.Schedule, error) {
	out := []model.Schedule{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+scheduleColumns+` FROM schedules WHERE train_id = ? AND journey_date >= ? ORDER BY journey_date`,
		trainID, from.Format("2006-01-02"))
	return out, err
}

// SetStatus changes a schedule's booking status.
func (r *ScheduleRepo) SetStatus(ctx context.Context, id uint64, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 affected rows when the value is unchanged, so
		// tell "missing" apart from "already in that status".
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ReserveSeats claims the given seats under token and takes them out of
// the schedule's counter in one transaction.  The schedule row is locked
// first, so the foreign key check of the claim insert never has to upgrade
// a shared lock; an unknown schedule fails with ErrNotFound.  A seat
// another hold already claims fails with ErrDuplicate.  The counter
// decrement is conditional on the schedule being OPEN and having enough
// seats; otherwise ErrConditionFailed is returned and nothing is kept.
func (r *ScheduleRepo) ReserveSeats(ctx context.Context, token string, scheduleID uint64, seats []uint32, expiresAt time.Time) error {
	if len(seats) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockSchedule(ctx, tx, scheduleID); err != nil {
			return err
		}
		query := `INSERT INTO seat_holds (token, schedule_id, seat_number, active_seat, status, expires_at) VALUES `
		args := make([]interface{}, 0, len(seats)*6)
		for i, seat := range seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?)"
			args = append(args, token, scheduleID, seat, seat, model.HoldHeld, expiresAt.UTC())
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET available_seats = available_seats - ?
			 WHERE id = ? AND status = 'OPEN' AND available_seats >= ?`,
			len(seats), scheduleID, len(seats))
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
	})
}

// ReleaseHold returns the seats token still holds to the counter and
// reports how many seats were released.  Only HELD rows are touched: a
// CONVERTED hold belongs to a ticket and is released by TicketRepo.MarkVoid.
// A second call, or an unknown token, releases nothing and returns 0.
func (r *ScheduleRepo) ReleaseHold(ctx context.Context, token string, at time.Time) (int, error) {
	released := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		n, err := releaseHoldTx(ctx, tx, token, model.HoldHeld, at)
		released = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// lockSchedule takes the row lock of a schedule.  Every transaction that
// writes both a schedule and its holds or tickets takes this lock before
// touching the children, so they all lock in the same order.
func lockSchedule(ctx context.Context, tx *sqlx.Tx, scheduleID uint64) error {
	var id uint64
	err := tx.GetContext(ctx, &id, `SELECT id FROM schedules WHERE id = ? FOR UPDATE`, scheduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// releaseHoldTx clears the claims of token's holds in the given status and
// adds them back to the schedule's counter, capped at total_seats.  The
// schedule is located with a plain read and locked before the hold rows.
func releaseHoldTx(ctx context.Context, tx *sqlx.Tx, token, status string, at time.Time) (int, error) {
	var scheduleID uint64
	err := tx.GetContext(ctx, &scheduleID,
		`SELECT schedule_id FROM seat_holds WHERE token = ? AND status = ? LIMIT 1`, token, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if err := lockSchedule(ctx, tx, scheduleID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE seat_holds SET status = 'RELEASED', active_seat = NULL, released_at = ?
		 WHERE token = ? AND status = ?`, at.UTC(), token, status)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE schedules SET available_seats = available_seats + ?
		 WHERE id = ? AND available_seats + ? <= total_seats`, n, scheduleID, n)
	if err != nil {
		return 0, err
	}
	m, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if m == 0 {
		return 0, ErrConflict
	}
	return int(n), nil
}

// HoldsByToken lists the hold rows of a reservation token.
func (r *ScheduleRepo) HoldsByToken(ctx context.Context, token string) ([]model.SeatHold, error) {
	out := []model.SeatHold{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, token, schedule_id, seat_number, active_seat, status, expires_at, released_at, created_at
		 FROM seat_holds WHERE token = ? ORDER BY seat_number`, token)
	return out, err
}

// ExpiredHoldTokens returns up to limit tokens of HELD holds that expired
// at or before now, oldest expiry first.  CONVERTED holds belong to
// tickets and never expire.
func (r *ScheduleRepo) ExpiredHoldTokens(ctx context.Context, now time.Time, limit int) ([]string, error) {
	out := []string{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT token FROM seat_holds WHERE status = 'HELD' AND expires_at <= ?
		 GROUP BY token ORDER BY MIN(expires_at), token LIMIT ?`,
		now.UTC(), limit)
	return out, err
}
