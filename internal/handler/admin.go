package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/rail-ticketing/internal/logging"
	"github.com/iliyamo/rail-ticketing/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// TrainStore persists trains.  *repository.TrainRepo implements it.
type TrainStore interface {
	Create(ctx context.Context, t *model.Train) error
	Get(ctx context.Context, id uint64) (model.Train, error)
}

// ScheduleStore persists schedules and exposes their seat holds.
// *repository.ScheduleRepo implements it.
type ScheduleStore interface {
	Create(ctx context.Context, s *model.Schedule) error
	SetStatus(ctx context.Context, id uint64, status string) error
	HoldsByToken(ctx context.Context, token string) ([]model.SeatHold, error)
}

// VerificationLog reads the audit trail of ticket checks.
// *repository.TicketRepo implements it.
type VerificationLog interface {
	Verifications(ctx context.Context, ticketID string) ([]model.TicketVerification, error)
}

// WalletAudit compares stored balances with their transactions.
// *repository.WalletRepo implements it.
type WalletAudit interface {
	GetByUser(ctx context.Context, userID uint64) (model.Wallet, error)
	Reconcile(ctx context.Context, walletID uint64) (balance, ledger int64, err error)
}

// AdminHandler serves the ADMIN endpoints: trains, schedules, wallet
// top-ups and the read-only audit views.
type AdminHandler struct {
	Trains    TrainStore
	Schedules ScheduleStore
	Wallets   Wallets
	Tickets   VerificationLog
	Accounts  WalletAudit
	Location  *time.Location // zone of train timetables, UTC when nil
}

type trainBody struct {
	Name        string `json:"name"`
	Number      string `json:"number"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	DepartsAt   string `json:"departs_at"`
	ArrivesAt   string `json:"arrives_at"`
	TotalSeats  uint32 `json:"total_seats"`
}

func (b trainBody) validate() error {
	switch {
	case strings.TrimSpace(b.Name) == "", strings.TrimSpace(b.Number) == "":
		return errors.New("name and number are required")
	case strings.TrimSpace(b.Origin) == "", strings.TrimSpace(b.Destination) == "":
		return errors.New("origin and destination are required")
	case b.TotalSeats == 0:
		return errors.New("total_seats must be positive")
	}
	if _, err := time.Parse(timeLayout, b.DepartsAt); err != nil {
		return errors.New("departs_at must be HH:MM:SS")
	}
	if _, err := time.Parse(timeLayout, b.ArrivesAt); err != nil {
		return errors.New("arrives_at must be HH:MM:SS")
	}
	return nil
}

// CreateTrain handles POST /v1/admin/trains.
func (h *AdminHandler) CreateTrain(c echo.Context) error {
	var body trainBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := body.validate(); err != nil {
		return badRequest(c, err.Error())
	}
	t := &model.Train{
		Name:        strings.TrimSpace(body.Name),
		Number:      strings.TrimSpace(body.Number),
		Origin:      strings.TrimSpace(body.Origin),
		Destination: strings.TrimSpace(body.Destination),
		DepartsAt:   body.DepartsAt,
		ArrivesAt:   body.ArrivesAt,
		TotalSeats:  body.TotalSeats,
	}
	if err := h.Trains.Create(c.Request().Context(), t); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// CreateSchedule handles POST /v1/admin/schedules with
// {"train_id": 1, "journey_date": "2026-05-01", "fare_cents": 2500}.
// The departure instant combines the journey date with the train's
// departure time; the seat count is copied from the train.
func (h *AdminHandler) CreateSchedule(c echo.Context) error {
	var body struct {
		TrainID     uint64 `json:"train_id"`
		JourneyDate string `json:"journey_date"`
		FareCents   uint32 `json:"fare_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.TrainID == 0 || body.FareCents == 0 {
		return badRequest(c, "train_id and fare_cents are required")
	}
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	date, err := time.ParseInLocation(dateLayout, body.JourneyDate, loc)
	if err != nil {
		return badRequest(c, "journey_date must be YYYY-MM-DD")
	}

	ctx := c.Request().Context()
	train, err := h.Trains.Get(ctx, body.TrainID)
	if err != nil {
		return fail(c, err)
	}
	departs, err := departure(date, train.DepartsAt)
	if err != nil {
		return fail(c, err)
	}
	s := &model.Schedule{
		TrainID:     train.ID,
		JourneyDate: date,
		DepartsAt:   departs,
		FareCents:   body.FareCents,
		TotalSeats:  train.TotalSeats,
	}
	if err := h.Schedules.Create(ctx, s); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// departure places a HH:MM:SS time of day on date, in date's zone.
func departure(date time.Time, clock string) (time.Time, error) {
	tod, err := time.Parse(timeLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("train departure time %q: %w", clock, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), 0, date.Location()), nil
}

// SetScheduleStatus handles PATCH /v1/admin/schedules/:id/status with
// {"status": "CLOSED"}.  Existing tickets are unaffected.
func (h *AdminHandler) SetScheduleStatus(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid schedule id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	status := strings.ToUpper(strings.TrimSpace(body.Status))
	switch status {
	case model.ScheduleOpen, model.ScheduleClosed, model.ScheduleCancelled:
	default:
		return badRequest(c, "status must be OPEN, CLOSED or CANCELLED")
	}
	if err := h.Schedules.SetStatus(c.Request().Context(), id, status); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": status})
}

// CreditWallet handles POST /v1/admin/wallets/:user_id/credit with
// {"amount_cents": 10000, "reference": "..."}.  A repeated reference
// credits once.
func (h *AdminHandler) CreditWallet(c echo.Context) error {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var body struct {
		AmountCents int64  `json:"amount_cents"`
		Reference   string `json:"reference"`
		Description string `json:"description"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.AmountCents <= 0 {
		return badRequest(c, "amount_cents must be positive")
	}
	ref := strings.TrimSpace(body.Reference)
	if ref == "" {
		ref = uuid.NewString()
	}
	desc := strings.TrimSpace(body.Description)
	if desc == "" {
		desc = "top-up"
	}

	ctx := c.Request().Context()
	w, err := h.Wallets.OpenWallet(ctx, userID)
	if err != nil {
		return fail(c, err)
	}
	tx, err := h.Wallets.Credit(ctx, w.ID, body.AmountCents, desc, "topup:"+ref)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, tx)
}

// TicketVerifications handles GET /v1/admin/tickets/:id/verifications,
// the checks recorded for a ticket in the order they happened.
func (h *AdminHandler) TicketVerifications(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest(c, "invalid ticket id")
	}
	out, err := h.Tickets.Verifications(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket_id": id, "verifications": out})
}

// Holds handles GET /v1/admin/holds/:token: every seat a reservation
// token claimed, with its current status.
func (h *AdminHandler) Holds(c echo.Context) error {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		return badRequest(c, "invalid hold token")
	}
	out, err := h.Schedules.HoldsByToken(c.Request().Context(), token)
	if err != nil {
		return fail(c, err)
	}
	if len(out) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "hold not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token, "holds": out})
}

// ReconcileWallet handles GET /v1/admin/wallets/:user_id/reconcile.  It
// reports the stored balance next to the sum of committed transactions.
func (h *AdminHandler) ReconcileWallet(c echo.Context) error {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	ctx := c.Request().Context()
	w, err := h.Accounts.GetByUser(ctx, userID)
	if err != nil {
		return fail(c, err)
	}
	balance, ledger, err := h.Accounts.Reconcile(ctx, w.ID)
	if err != nil {
		return fail(c, err)
	}
	if balance != ledger {
		logging.FromContext(ctx).WithFields(logrus.Fields{
			"wallet_id": w.ID,
			"balance":   balance,
			"ledger":    ledger,
		}).Warn("wallet balance does not match its transactions")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"wallet_id":     w.ID,
		"balance_cents": balance,
		"ledger_cents":  ledger,
		"consistent":    balance == ledger,
	})
}
