package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-ticketing/internal/booking"
	"github.com/iliyamo/rail-ticketing/internal/middleware"
)

// Verifier checks presented tickets.  *booking.Issuer implements it.
type Verifier interface {
	Verify(ctx context.Context, req booking.VerifyRequest) (booking.Outcome, error)
}

// ConductorHandler serves gate and on-board ticket checks.
type ConductorHandler struct {
	Tickets Verifier
}

type verifyBody struct {
	QRCode     string                 `json:"qr_code"`
	TicketHash string                 `json:"ticket_hash"`
	Presented  *booking.PresentedData `json:"presented"`
	Location   string                 `json:"location"`
}

// Verify handles POST /v1/tickets/verify.  The ticket is presented either
// as the scanned QR payload or as its hash plus identity fields.  Every
// outcome is answered with 200; only VALID admits the passenger.
func (h *ConductorHandler) Verify(c echo.Context) error {
	verifierID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body verifyBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	req := booking.VerifyRequest{VerifierID: verifierID, Location: strings.TrimSpace(body.Location)}
	switch {
	case body.QRCode != "":
		hash, p, err := booking.ParseQR(body.QRCode)
		if err != nil {
			return fail(c, err)
		}
		req.TicketHash, req.Presented = hash, p
	case body.TicketHash != "" && body.Presented != nil:
		req.TicketHash, req.Presented = body.TicketHash, *body.Presented
	default:
		return badRequest(c, "qr_code or ticket_hash with presented is required")
	}
	if req.Location == "" {
		return badRequest(c, "location is required")
	}
	if utf8.RuneCountInString(req.Location) > booking.MaxLocationLen {
		return badRequest(c, fmt.Sprintf("location must be at most %d characters", booking.MaxLocationLen))
	}

	outcome, err := h.Tickets.Verify(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"outcome": outcome, "admit": outcome == booking.Valid})
}
