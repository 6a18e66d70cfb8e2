package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-ticketing/internal/booking"
	"github.com/iliyamo/rail-ticketing/internal/middleware"
	"github.com/iliyamo/rail-ticketing/internal/model"
)

// Booker runs bookings and refunds.  *booking.Coordinator implements it.
type Booker interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Ticket, error)
	Refund(ctx context.Context, userID uint64, ticketID string) (model.Transaction, error)
}

// TicketLister lists a passenger's tickets.  *booking.Issuer implements it.
type TicketLister interface {
	TicketsForUser(ctx context.Context, userID uint64) ([]model.Ticket, error)
}

// Wallets is the slice of the ledger the HTTP surface needs.
// *booking.Ledger implements it.
type Wallets interface {
	OpenWallet(ctx context.Context, userID uint64) (model.Wallet, error)
	History(ctx context.Context, walletID uint64, limit int) ([]model.Transaction, error)
	Credit(ctx context.Context, walletID uint64, amount int64, description, reference string) (model.Transaction, error)
}

// PassengerHandler serves the endpoints of the PASSENGER role.  All
// methods assume JWTAuth and RequireRole already ran.
type PassengerHandler struct {
	Bookings Booker
	Tickets  TicketLister
	Wallets  Wallets
}

// Book handles POST /v1/schedules/:id/book.  The body names one seat:
// {"seat_number": 12}.  The seat is charged at the schedule fare and the
// issued ticket, QR payload included, is returned with 201.
func (h *PassengerHandler) Book(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	scheduleID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid schedule id")
	}
	var body struct {
		SeatNumber uint32 `json:"seat_number"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.SeatNumber == 0 {
		return badRequest(c, "seat_number is required")
	}
	t, err := h.Bookings.Book(c.Request().Context(), booking.BookRequest{
		UserID:     userID,
		ScheduleID: scheduleID,
		SeatNumber: body.SeatNumber,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// MyTickets handles GET /v1/my-tickets.
func (h *PassengerHandler) MyTickets(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.Tickets.TicketsForUser(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": list})
}

// Refund handles POST /v1/tickets/:id/refund.  Repeating a refund returns
// the original credit.
func (h *PassengerHandler) Refund(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ticketID := c.Param("id")
	if ticketID == "" {
		return badRequest(c, "invalid ticket id")
	}
	tx, err := h.Bookings.Refund(c.Request().Context(), userID, ticketID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket_id": ticketID, "transaction": tx})
}

// Wallet handles GET /v1/wallet, opening an empty wallet on first use.
func (h *PassengerHandler) Wallet(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	w, err := h.Wallets.OpenWallet(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// Transactions handles GET /v1/wallet/transactions?limit=N.
func (h *PassengerHandler) Transactions(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	ctx := c.Request().Context()
	w, err := h.Wallets.OpenWallet(ctx, userID)
	if err != nil {
		return fail(c, err)
	}
	list, err := h.Wallets.History(ctx, w.ID, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"wallet_id": w.ID, "balance_cents": w.BalanceCents, "transactions": list})
}
