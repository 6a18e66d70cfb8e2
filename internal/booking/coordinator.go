package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/rail-ticketing/internal/logging"
	"github.com/iliyamo/rail-ticketing/internal/metrics"
	"github.com/iliyamo/rail-ticketing/internal/model"
	"github.com/iliyamo/rail-ticketing/internal/queue"
)

const refundPrefix = "refund:"

// BookRequest asks for one seat on a schedule.
type BookRequest struct {
	UserID     uint64
	ScheduleID uint64
	SeatNumber uint32
	// PriceCents defaults to the schedule fare when zero.
	PriceCents uint32
}

// Coordinator is the Reservation Coordinator.  It drives a booking through
// reserve, charge and issue; a failed step undoes the earlier ones in
// reverse order so a failed booking leaves inventory and wallet as they
// were.
type Coordinator struct {
	inventory *Inventory
	ledger    *Ledger
	issuer    *Issuer
	bookings  BookingStore
	events    EventPublisher
	opts      Options
}

// NewCoordinator wires the saga.  events may be nil.
func NewCoordinator(inv *Inventory, ledger *Ledger, issuer *Issuer, bookings BookingStore, events EventPublisher, opts Options) *Coordinator {
	return &Coordinator{
		inventory: inv,
		ledger:    ledger,
		issuer:    issuer,
		bookings:  bookings,
		events:    events,
		opts:      opts.withDefaults(),
	}
}

// Book runs the booking saga and returns the issued ticket.  Errors match
// the domain sentinels with errors.Is; once a booking record exists they
// come wrapped in a *BookingError.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (model.Ticket, error) {
	log := logging.FromContext(ctx).WithFields(logrus.Fields{
		"user_id":     req.UserID,
		"schedule_id": req.ScheduleID,
		"seat":        req.SeatNumber,
	})

	var (
		wallet model.Wallet
		price  uint32
	)
	err := c.run(ctx, "validate", func(ctx context.Context) error {
		var err error
		wallet, price, err = c.validate(ctx, req)
		return err
	})
	if err != nil {
		metrics.BookingsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		log.WithError(err).Info("booking rejected")
		return model.Ticket{}, err
	}

	now := c.opts.Now().UTC()
	tok := c.inventory.NewToken(req.ScheduleID, req.SeatNumber)
	b := &model.Booking{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		ScheduleID: req.ScheduleID,
		SeatNumber: req.SeatNumber,
		PriceCents: price,
		State:      model.BookingRequested,
		HoldToken:  tok.Token,
		Deadline:   now.Add(c.opts.HoldTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.run(ctx, "record", func(ctx context.Context) error { return c.bookings.Create(ctx, *b) }); err != nil {
		metrics.BookingsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return model.Ticket{}, fmt.Errorf("record booking: %w", err)
	}
	log = log.WithField("booking_id", b.ID)
	ctx = logging.WithContext(ctx, log)

	if err := c.run(ctx, "reserve", func(ctx context.Context) error { return c.inventory.Reserve(ctx, tok) }); err != nil {
		return c.abort(ctx, b, err, !isDomain(err))
	}
	c.advance(ctx, b, model.BookingSeatHeld)

	var debit model.Transaction
	err = c.run(ctx, "charge", func(ctx context.Context) error {
		var err error
		debit, err = c.ledger.Debit(ctx, wallet.ID, int64(price), fmt.Sprintf("ticket schedule %d seat %d", req.ScheduleID, req.SeatNumber), b.ID)
		return err
	})
	if err != nil {
		if isDomain(err) {
			return c.abort(ctx, b, paymentDeclined(err), false)
		}
		return c.abort(ctx, b, err, true)
	}
	ticketID := uuid.NewString()
	b.TransactionID = &debit.ID
	b.TicketID = &ticketID
	c.advance(ctx, b, model.BookingPaid)

	var ticket model.Ticket
	err = c.run(ctx, "issue", func(ctx context.Context) error {
		var err error
		ticket, err = c.issuer.Issue(ctx, TicketDraft{
			ID:         ticketID,
			UserID:     req.UserID,
			ScheduleID: req.ScheduleID,
			SeatNumber: req.SeatNumber,
			PriceCents: price,
			PaymentID:  debit.ID,
			HoldToken:  tok.Token,
		})
		return err
	})
	if err != nil {
		// Releasing before the ticket lookup settles an in-flight issue:
		// the ticket either exists already or can no longer be created.
		return c.abort(ctx, b, issuanceFailed(err), false)
	}
	c.complete(ctx, b, ticket)
	return ticket, nil
}

// validate turns away requests that cannot succeed before a booking record
// is written.  Capacity is left to Reserve: it claims the seat before it
// checks the counter, so the loser of a same-seat race sees ErrSeatTaken
// rather than ErrSoldOut.
func (c *Coordinator) validate(ctx context.Context, req BookRequest) (model.Wallet, uint32, error) {
	s, err := c.inventory.Schedule(ctx, req.ScheduleID)
	if err != nil {
		return model.Wallet{}, 0, err
	}
	if !s.IsOpen() {
		return model.Wallet{}, 0, ErrScheduleClosed
	}
	if req.SeatNumber == 0 || req.SeatNumber > s.TotalSeats {
		return model.Wallet{}, 0, ErrInvalidSeat
	}
	price := req.PriceCents
	if price == 0 {
		price = s.FareCents
	}
	if price == 0 {
		return model.Wallet{}, 0, ErrInvalidAmount
	}
	taken, err := c.issuer.SeatTicketed(ctx, req.ScheduleID, req.SeatNumber)
	if err != nil {
		return model.Wallet{}, 0, err
	}
	if taken {
		return model.Wallet{}, 0, ErrSeatTaken
	}
	w, err := c.ledger.WalletByUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return model.Wallet{}, 0, paymentDeclined(err)
		}
		return model.Wallet{}, 0, err
	}
	return w, price, nil
}

// run executes one saga step under the step timeout.
func (c *Coordinator) run(ctx context.Context, step string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.StepTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	metrics.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%s: %w: %w", step, ErrTimeout, err)
	}
	return err
}

// advance records a state transition.  The record only serves recovery,
// and recovery handles a booking in any non-terminal state, so a failed
// write is logged and the saga continues.
func (c *Coordinator) advance(ctx context.Context, b *model.Booking, state string) {
	b.State = state
	b.UpdatedAt = c.opts.Now().UTC()
	err := c.save(context.WithoutCancel(ctx), b)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("state", state).Warn("failed to record booking state")
	}
}

func (c *Coordinator) save(ctx context.Context, b *model.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CompensationTimeout)
	defer cancel()
	return c.bookings.Save(ctx, *b)
}

func (c *Coordinator) complete(ctx context.Context, b *model.Booking, t model.Ticket) {
	b.TicketID = &t.ID
	b.Failure = nil
	c.advance(ctx, b, model.BookingIssued)
	metrics.BookingsTotal.WithLabelValues("issued").Inc()
	logging.FromContext(ctx).WithField("ticket_id", t.ID).Info("ticket issued")
	c.publish(ctx, queue.TicketIssuedQueue, queue.TicketIssuedEvent{
		TicketID:   t.ID,
		BookingID:  b.ID,
		UserID:     t.UserID,
		ScheduleID: t.ScheduleID,
		SeatNumber: t.SeatNumber,
		PriceCents: t.PriceCents,
		PaymentID:  t.PaymentID,
		IssuedAt:   t.IssuedAt.Format(time.RFC3339Nano),
	})
}

// abort compensates b after cause and reports the failure.  uncertain
// means the failed step may still commit; if no debit is visible yet the
// booking is left COMPENSATING for the sweeper to finish.
func (c *Coordinator) abort(ctx context.Context, b *model.Booking, cause error, uncertain bool) (model.Ticket, error) {
	reached := b.State
	log := logging.FromContext(ctx).WithError(cause).WithField("state", reached)
	log.Warn("booking step failed, compensating")

	t, result := c.compensate(ctx, b, cause, !uncertain)
	if result == settledForward {
		return t, nil
	}
	metrics.BookingsTotal.WithLabelValues(outcomeLabel(cause)).Inc()
	return model.Ticket{}, &BookingError{BookingID: b.ID, State: reached, Err: cause}
}

type settlement int

const (
	settledFailed settlement = iota
	settledForward
	settledDeferred
)

// compensate undoes whatever b may have done: it releases the hold, rolls
// forward if the predetermined ticket exists after all, and otherwise
// reverses the debit recorded under the booking id.  Each call is
// idempotent.  When final is false and no debit is found, the booking is
// left COMPENSATING with a fresh deadline so a later pass can reverse a
// debit that was still in flight.
func (c *Coordinator) compensate(ctx context.Context, b *model.Booking, cause error, final bool) (model.Ticket, settlement) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx).WithField("booking_id", b.ID)
	if b.State != model.BookingCompensating {
		c.advance(ctx, b, model.BookingCompensating)
	}

	if err := c.compensateStep(ctx, "release", func(ctx context.Context) error {
		return c.inventory.Release(ctx, b.HoldToken)
	}); err != nil {
		return model.Ticket{}, c.postpone(ctx, b, err)
	}

	if b.TicketID != nil {
		var t model.Ticket
		err := c.compensateStep(ctx, "lookup", func(ctx context.Context) error {
			var err error
			t, err = c.issuer.Ticket(ctx, *b.TicketID)
			return err
		})
		switch {
		case err == nil:
			log.WithField("ticket_id", t.ID).Info("ticket exists, rolling booking forward")
			c.complete(ctx, b, t)
			return t, settledForward
		case !errors.Is(err, ErrTicketNotFound):
			return model.Ticket{}, c.postpone(ctx, b, err)
		}
	}

	var reversed bool
	if err := c.compensateStep(ctx, "refund", func(ctx context.Context) error {
		var err error
		_, reversed, err = c.ledger.Reverse(ctx, b.ID)
		return err
	}); err != nil {
		return model.Ticket{}, c.postpone(ctx, b, err)
	}
	if !reversed && !final {
		return model.Ticket{}, c.postpone(ctx, b, cause)
	}

	msg := cause.Error()
	b.Failure = &msg
	c.advance(ctx, b, model.BookingFailed)
	log.WithError(cause).Info("booking failed and compensated")
	return model.Ticket{}, settledFailed
}

func (c *Coordinator) compensateStep(ctx context.Context, step string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CompensationTimeout)
	defer cancel()
	err := fn(ctx)
	result := "ok"
	if err != nil && !errors.Is(err, ErrTicketNotFound) {
		result = "error"
	}
	metrics.CompensationsTotal.WithLabelValues(step, result).Inc()
	return err
}

// postpone leaves b COMPENSATING until its new deadline.
func (c *Coordinator) postpone(ctx context.Context, b *model.Booking, reason error) settlement {
	msg := reason.Error()
	b.Failure = &msg
	b.Deadline = c.opts.Now().UTC().Add(c.opts.HoldTTL)
	c.advance(ctx, b, model.BookingCompensating)
	logging.FromContext(ctx).WithError(reason).WithField("booking_id", b.ID).Warn("compensation postponed")
	return settledDeferred
}

// Refund voids an ISSUED ticket of the user whose train has not departed,
// returns the seat to inventory and credits the price back.  Calling it
// again for a refunded ticket completes a missing credit and returns the
// same refund transaction.
func (c *Coordinator) Refund(ctx context.Context, userID uint64, ticketID string) (model.Transaction, error) {
	var t model.Ticket
	if err := c.run(ctx, "refund_load", func(ctx context.Context) error {
		var err error
		t, err = c.issuer.Ticket(ctx, ticketID)
		return err
	}); err != nil {
		return model.Transaction{}, err
	}
	if t.UserID != userID {
		return model.Transaction{}, ErrTicketNotFound
	}
	log := logging.FromContext(ctx).WithField("ticket_id", t.ID)

	switch t.Status {
	case model.TicketUsed:
		return model.Transaction{}, ErrNotRefundable
	case model.TicketIssued:
		err := c.run(ctx, "refund_void", func(ctx context.Context) error {
			s, err := c.inventory.Schedule(ctx, t.ScheduleID)
			if err != nil {
				return err
			}
			if !c.opts.Now().Before(s.DepartsAt) {
				return ErrNotRefundable
			}
			return c.issuer.Void(ctx, t.ID)
		})
		if errors.Is(err, ErrNotRefundable) {
			// A concurrent refund may have voided it first.
			cur, lerr := c.issuer.Ticket(ctx, t.ID)
			if lerr != nil || cur.Status != model.TicketVoid {
				return model.Transaction{}, ErrNotRefundable
			}
		} else if err != nil {
			return model.Transaction{}, err
		}
	}

	var credit model.Transaction
	err := c.run(ctx, "refund_credit", func(ctx context.Context) error {
		w, err := c.ledger.WalletByUser(ctx, t.UserID)
		if err != nil {
			return err
		}
		credit, err = c.ledger.Credit(ctx, w.ID, int64(t.PriceCents), "refund of ticket "+t.ID, refundPrefix+t.ID)
		return err
	})
	if err != nil {
		log.WithError(err).Error("ticket voided but refund credit failed")
		return model.Transaction{}, err
	}
	metrics.RefundsTotal.Inc()
	log.WithField("transaction_id", credit.ID).Info("ticket refunded")
	c.publish(ctx, queue.TicketRefundedQueue, queue.TicketRefundedEvent{
		TicketID:      t.ID,
		UserID:        t.UserID,
		ScheduleID:    t.ScheduleID,
		SeatNumber:    t.SeatNumber,
		AmountCents:   credit.AmountCents,
		TransactionID: credit.ID,
		RefundedAt:    credit.CreatedAt.Format(time.RFC3339Nano),
	})
	return credit, nil
}

// RecoveryReport summarizes one Recover pass.
type RecoveryReport struct {
	RolledForward int
	Compensated   int
	Postponed     int
	HoldsReleased int
}

// Recover finishes bookings abandoned past their deadline, for example by
// a crash between steps, and releases expired seat holds.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	stale, err := c.bookings.Stale(ctx, c.opts.Now().UTC(), c.opts.SweepBatch)
	if err != nil {
		return rep, fmt.Errorf("load stale bookings: %w", err)
	}
	for i := range stale {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		b := &stale[i]
		cause := errors.New("booking abandoned in " + b.State)
		if b.Failure != nil {
			cause = errors.New(*b.Failure)
		}
		_, result := c.compensate(ctx, b, cause, true)
		switch result {
		case settledForward:
			rep.RolledForward++
			metrics.RecoveredTotal.WithLabelValues("rolled_forward").Inc()
		case settledFailed:
			rep.Compensated++
			metrics.RecoveredTotal.WithLabelValues("compensated").Inc()
		case settledDeferred:
			rep.Postponed++
		}
	}
	n, err := c.inventory.SweepExpired(ctx)
	rep.HoldsReleased = n
	metrics.RecoveredTotal.WithLabelValues("expired_hold").Add(float64(n))
	if err != nil {
		return rep, fmt.Errorf("sweep expired holds: %w", err)
	}
	return rep, nil
}

func (c *Coordinator) publish(ctx context.Context, q string, event interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, q, event); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("queue", q).Warn("failed to publish event")
	}
}

// isDomain reports whether err is a definite rejection, after which the
// failed step is known to have changed nothing.
func isDomain(err error) bool {
	for _, target := range []error{
		ErrSoldOut, ErrScheduleClosed, ErrScheduleNotFound, ErrSeatTaken, ErrInvalidSeat,
		ErrInsufficientFunds, ErrWalletNotFound, ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrSeatTaken):
		return "seat_taken"
	case errors.Is(err, ErrScheduleClosed):
		return "closed"
	case errors.Is(err, ErrScheduleNotFound), errors.Is(err, ErrInvalidSeat), errors.Is(err, ErrInvalidAmount):
		return "invalid"
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrIssuance):
		return "issuance_failed"
	}
	return "error"
}
