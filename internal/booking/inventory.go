package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/rail-ticketing/internal/model"
	"github.com/iliyamo/rail-ticketing/internal/repository"
)

// ReservationToken identifies seats taken out of a schedule's inventory by
// one reserve call.  The token string is generated before the store is
// touched, so a reserve whose outcome is unknown can still be released.
type ReservationToken struct {
	Token      string
	ScheduleID uint64
	Seats      []uint32
	ExpiresAt  time.Time
}

// Inventory is the Inventory Tracker: it guarantees the seats sold for a
// schedule never exceed its capacity.  The check and the decrement are one
// conditional update in the store, never a read followed by a write.
type Inventory struct {
	store InventoryStore
	opts  Options
}

// NewInventory returns an Inventory backed by store.
func NewInventory(store InventoryStore, opts Options) *Inventory {
	return &Inventory{store: store, opts: opts.withDefaults()}
}

// Schedule loads a schedule, retrying transient read failures.
func (i *Inventory) Schedule(ctx context.Context, id uint64) (model.Schedule, error) {
	s, err := retryRead(ctx, i.opts.ReadRetryMaxElapsed, func(ctx context.Context) (model.Schedule, error) {
		return i.store.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return s, ErrScheduleNotFound
	}
	return s, err
}

// NewToken prepares a token for the given seats without reserving them.
func (i *Inventory) NewToken(scheduleID uint64, seats ...uint32) ReservationToken {
	return ReservationToken{
		Token:      uuid.NewString(),
		ScheduleID: scheduleID,
		Seats:      seats,
		ExpiresAt:  i.opts.Now().UTC().Add(i.opts.HoldTTL),
	}
}

// TryReserve atomically takes len(seats) seats of the schedule out of
// inventory and claims the given seat numbers.  It fails with ErrSeatTaken
// when a seat is already claimed, ErrScheduleClosed when the schedule is
// not OPEN and ErrSoldOut when too few seats remain.  None of these are
// retried.
func (i *Inventory) TryReserve(ctx context.Context, scheduleID uint64, seats ...uint32) (ReservationToken, error) {
	tok := i.NewToken(scheduleID, seats...)
	if err := i.Reserve(ctx, tok); err != nil {
		return ReservationToken{}, err
	}
	return tok, nil
}

// Reserve performs the reservation described by a token from NewToken.
func (i *Inventory) Reserve(ctx context.Context, tok ReservationToken) error {
	if len(tok.Seats) == 0 {
		return ErrInvalidSeat
	}
	seen := make(map[uint32]struct{}, len(tok.Seats))
	for _, s := range tok.Seats {
		if _, dup := seen[s]; dup || s == 0 {
			return ErrInvalidSeat
		}
		seen[s] = struct{}{}
	}
	err := i.store.ReserveSeats(ctx, tok.Token, tok.ScheduleID, tok.Seats, tok.ExpiresAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		return ErrSeatTaken
	case errors.Is(err, repository.ErrNotFound):
		return ErrScheduleNotFound
	case errors.Is(err, repository.ErrConditionFailed):
		return i.explainRejection(ctx, tok.ScheduleID)
	}
	return stepError("reserve seats", err)
}

// explainRejection tells a closed schedule apart from a sold out one after
// the conditional decrement matched no row.
func (i *Inventory) explainRejection(ctx context.Context, scheduleID uint64) error {
	s, err := i.Schedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return err
		}
		return ErrSoldOut
	}
	if !s.IsOpen() {
		return ErrScheduleClosed
	}
	return ErrSoldOut
}

// Release returns the token's held seats to inventory.  It is idempotent:
// releasing an already released or unknown token is a no-op.  Seats whose
// hold became a ticket are not released here; voiding the ticket does that.
func (i *Inventory) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := i.store.ReleaseHold(ctx, token, i.opts.Now()); err != nil {
		return stepError("release seats", err)
	}
	return nil
}

// SweepExpired releases holds whose TTL passed without becoming a ticket
// and returns how many tokens it released.
func (i *Inventory) SweepExpired(ctx context.Context) (int, error) {
	tokens, err := i.store.ExpiredHoldTokens(ctx, i.opts.Now(), i.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, t := range tokens {
		n, err := i.store.ReleaseHold(ctx, t, i.opts.Now())
		if err != nil {
			return released, fmt.Errorf("release expired hold %s: %w", t, err)
		}
		if n > 0 {
			released++
		}
	}
	return released, nil
}

// stepError turns context expiry into ErrTimeout and wraps other failures
// with the operation name.
func stepError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
