package booking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"

	"github.com/iliyamo/rail-ticketing/internal/logging"
	"github.com/iliyamo/rail-ticketing/internal/metrics"
	"github.com/iliyamo/rail-ticketing/internal/model"
	"github.com/iliyamo/rail-ticketing/internal/queue"
	"github.com/iliyamo/rail-ticketing/internal/repository"
)

// Outcome is the result of a ticket verification.
type Outcome string

const (
	Valid       Outcome = model.OutcomeValid
	Invalid     Outcome = model.OutcomeInvalid
	AlreadyUsed Outcome = model.OutcomeAlreadyUsed
)

// Err maps an outcome to the matching sentinel, nil for Valid.
func (o Outcome) Err() error {
	switch o {
	case Valid:
		return nil
	case AlreadyUsed:
		return ErrAlreadyUsed
	}
	return ErrTicketNotFound
}

// qrPrefix versions the QR payload format.
const qrPrefix = "RTK1"

// PresentedData is the set of fields a ticket hash binds.  It is what a
// QR code carries and what a gate presents for verification.
type PresentedData struct {
	UserID     uint64 `json:"u"`
	ScheduleID uint64 `json:"s"`
	SeatNumber uint32 `json:"n"`
	PriceCents uint32 `json:"p"`
	IssuedAt   int64  `json:"t"` // unix nanoseconds, microsecond precision
}

// TicketDraft is everything needed to materialize a ticket once its seat
// is held and paid for.  ID is chosen by the caller so the outcome of a
// timed out Issue can be looked up.
type TicketDraft struct {
	ID         string
	UserID     uint64
	ScheduleID uint64
	SeatNumber uint32
	PriceCents uint32
	PaymentID  string
	HoldToken  string
}

const (
	// HashLen is the length of a ticket hash: hex encoded HMAC-SHA256.
	HashLen = 2 * sha256.Size
	// MaxLocationLen bounds the checkpoint name kept with a verification.
	MaxLocationLen = 120
)

// VerifyRequest is one gate or conductor check.
type VerifyRequest struct {
	TicketHash string
	Presented  PresentedData
	VerifierID uint64
	Location   string
}

// Issuer is the Ticket Issuer: it creates tickets with their tamper-evident
// hash and QR payload and verifies them at the gate.
type Issuer struct {
	store  TicketStore
	events EventPublisher
	key    []byte
	opts   Options
}

// NewIssuer derives the ticket signing key from secret with HKDF-SHA256.
func NewIssuer(store TicketStore, events EventPublisher, secret string, opts Options) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("ticket secret must be at least 16 bytes")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("rail-ticketing ticket hash v1")), key); err != nil {
		return nil, fmt.Errorf("derive ticket key: %w", err)
	}
	return &Issuer{store: store, events: events, key: key, opts: opts.withDefaults()}, nil
}

// Sign computes the ticket hash of p.
func (i *Issuer) Sign(p PresentedData) string {
	mac := hmac.New(sha256.New, i.key)
	fmt.Fprintf(mac, "v1|%d|%d|%d|%d|%d", p.UserID, p.ScheduleID, p.SeatNumber, p.PriceCents, p.IssuedAt)
	return hex.EncodeToString(mac.Sum(nil))
}

// EncodeQR renders the QR payload for p and its hash.
func EncodeQR(p PresentedData, hash string) string {
	body, _ := json.Marshal(p)
	return qrPrefix + "." + base64.RawURLEncoding.EncodeToString(body) + "." + hash
}

// ParseQR splits a QR payload into the presented hash and fields.
func ParseQR(payload string) (string, PresentedData, error) {
	var p PresentedData
	parts := strings.Split(strings.TrimSpace(payload), ".")
	if len(parts) != 3 || parts[0] != qrPrefix || parts[2] == "" {
		return "", p, ErrInvalidQR
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", p, ErrInvalidQR
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", p, ErrInvalidQR
	}
	return parts[2], p, nil
}

// Issue materializes the ticket for draft.  The seat hold is converted in
// the same store operation, so a hold that expired or was released cannot
// produce a ticket.  A second live ticket for the seat fails with
// ErrSeatTaken.
func (i *Issuer) Issue(ctx context.Context, d TicketDraft) (model.Ticket, error) {
	// DATETIME(6) keeps microseconds; truncate so the hash survives a round trip.
	issuedAt := i.opts.Now().UTC().Truncate(time.Microsecond)
	p := PresentedData{
		UserID:     d.UserID,
		ScheduleID: d.ScheduleID,
		SeatNumber: d.SeatNumber,
		PriceCents: d.PriceCents,
		IssuedAt:   issuedAt.UnixNano(),
	}
	hash := i.Sign(p)
	t := model.Ticket{
		ID:            d.ID,
		UserID:        d.UserID,
		ScheduleID:    d.ScheduleID,
		SeatNumber:    d.SeatNumber,
		PriceCents:    d.PriceCents,
		HoldToken:     d.HoldToken,
		PaymentID:     d.PaymentID,
		PaymentStatus: model.PaymentPaid,
		TicketHash:    hash,
		QRCode:        EncodeQR(p, hash),
		Status:        model.TicketIssued,
		IssuedAt:      issuedAt,
	}
	err := i.store.CreateWithHold(ctx, t)
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, repository.ErrDuplicate):
		return model.Ticket{}, ErrSeatTaken
	case errors.Is(err, repository.ErrConditionFailed):
		return model.Ticket{}, fmt.Errorf("%w: seat hold is no longer held", ErrIssuance)
	}
	return model.Ticket{}, stepError("create ticket", err)
}

// Verify checks a presented ticket.  The hash is recomputed from the
// presented fields; the first successful check flips the ticket from
// ISSUED to USED with a conditional update, so of two simultaneous scans
// only one reports Valid.  A hash that is not HashLen hex digits is
// Invalid.  Every call appends a verification record, with the hash and
// location clipped to their column widths.
func (i *Issuer) Verify(ctx context.Context, req VerifyRequest) (Outcome, error) {
	outcome, ticketID, err := i.check(ctx, req)
	if err != nil {
		return "", err
	}
	hash, location := clip(req.TicketHash, HashLen), clip(req.Location, MaxLocationLen)
	v := &model.TicketVerification{
		TicketID:   ticketID,
		TicketHash: hash,
		VerifierID: req.VerifierID,
		Location:   location,
		Outcome:    string(outcome),
		CheckedAt:  i.opts.Now().UTC(),
	}
	log := logging.FromContext(ctx).WithField("outcome", outcome)
	if err := i.store.RecordVerification(ctx, v); err != nil {
		// The outcome stands; the ticket may already be USED.
		log.WithError(err).Error("failed to record ticket verification")
	}
	metrics.VerificationsTotal.WithLabelValues(string(outcome)).Inc()
	if i.events != nil {
		ev := queue.TicketVerifiedEvent{
			TicketHash: hash,
			VerifierID: req.VerifierID,
			Location:   location,
			Outcome:    string(outcome),
			CheckedAt:  v.CheckedAt.Format(time.RFC3339Nano),
		}
		if ticketID != nil {
			ev.TicketID = *ticketID
		}
		if err := i.events.Publish(ctx, queue.TicketVerifiedQueue, ev); err != nil {
			log.WithError(err).Warn("failed to publish ticket verified event")
		}
	}
	return outcome, nil
}

// wellFormedHash reports whether h has the shape of a ticket hash.
func wellFormedHash(h string) bool {
	if len(h) != HashLen {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// clip cuts s to at most n characters without splitting a rune, so the
// value fits its column.  Invalid UTF-8 is replaced first.
func clip(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

func (i *Issuer) check(ctx context.Context, req VerifyRequest) (Outcome, *string, error) {
	if !wellFormedHash(req.TicketHash) {
		return Invalid, nil, nil
	}
	expected := i.Sign(req.Presented)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(req.TicketHash))) {
		return Invalid, nil, nil
	}
	t, err := retryRead(ctx, i.opts.ReadRetryMaxElapsed, func(ctx context.Context) (model.Ticket, error) {
		return i.store.GetByHash(ctx, expected)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Invalid, nil, nil
		}
		return "", nil, stepError("load ticket", err)
	}
	id := t.ID
	if !matches(t, req.Presented) {
		return Invalid, &id, nil
	}
	switch t.Status {
	case model.TicketUsed:
		return AlreadyUsed, &id, nil
	case model.TicketVoid:
		return Invalid, &id, nil
	}
	err = i.store.MarkUsed(ctx, t.ID, i.opts.Now())
	if err == nil {
		return Valid, &id, nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return "", nil, stepError("mark ticket used", err)
	}
	// Lost the race against another scan or a refund.
	cur, err := i.store.Get(ctx, t.ID)
	if err != nil {
		return "", nil, stepError("reload ticket", err)
	}
	if cur.Status == model.TicketUsed {
		return AlreadyUsed, &id, nil
	}
	return Invalid, &id, nil
}

func matches(t model.Ticket, p PresentedData) bool {
	return t.UserID == p.UserID &&
		t.ScheduleID == p.ScheduleID &&
		t.SeatNumber == p.SeatNumber &&
		t.PriceCents == p.PriceCents &&
		t.IssuedAt.UTC().UnixNano() == p.IssuedAt
}

// Ticket loads a ticket by id.
func (i *Issuer) Ticket(ctx context.Context, id string) (model.Ticket, error) {
	t, err := retryRead(ctx, i.opts.ReadRetryMaxElapsed, func(ctx context.Context) (model.Ticket, error) {
		return i.store.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return t, ErrTicketNotFound
	}
	return t, err
}

// TicketsForUser lists a user's tickets.
func (i *Issuer) TicketsForUser(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	return retryRead(ctx, i.opts.ReadRetryMaxElapsed, func(ctx context.Context) ([]model.Ticket, error) {
		return i.store.ListByUser(ctx, userID)
	})
}

// SeatTicketed reports whether a live ticket already holds the seat.
func (i *Issuer) SeatTicketed(ctx context.Context, scheduleID uint64, seat uint32) (bool, error) {
	return retryRead(ctx, i.opts.ReadRetryMaxElapsed, func(ctx context.Context) (bool, error) {
		return i.store.SeatTicketed(ctx, scheduleID, seat)
	})
}

// Void moves an ISSUED ticket to VOID and returns its seat to inventory.
// It fails with ErrNotRefundable when the ticket is no longer ISSUED.
func (i *Issuer) Void(ctx context.Context, id string) error {
	err := i.store.MarkVoid(ctx, id, i.opts.Now())
	if errors.Is(err, repository.ErrConditionFailed) {
		return ErrNotRefundable
	}
	if err != nil {
		return stepError("void ticket", err)
	}
	return nil
}
