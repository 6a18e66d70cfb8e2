package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-ticketing/internal/booking"
	"github.com/iliyamo/rail-ticketing/internal/logging"
	"github.com/iliyamo/rail-ticketing/internal/repository"
)

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, booking.ErrScheduleNotFound),
		errors.Is(err, booking.ErrTicketNotFound),
		errors.Is(err, booking.ErrWalletNotFound) && !errors.Is(err, booking.ErrPaymentDeclined),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrPaymentDeclined), errors.Is(err, booking.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, booking.ErrSoldOut),
		errors.Is(err, booking.ErrSeatTaken),
		errors.Is(err, booking.ErrScheduleClosed),
		errors.Is(err, booking.ErrAlreadyUsed),
		errors.Is(err, booking.ErrNotRefundable),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, booking.ErrInvalidSeat),
		errors.Is(err, booking.ErrInvalidAmount),
		errors.Is(err, booking.ErrInvalidQR):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body.  Internal errors are logged and
// replaced by a generic message.
func fail(c echo.Context, err error) error {
	status := statusOf(err)
	body := echo.Map{"error": err.Error()}
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).WithError(err).Error("request failed")
		body["error"] = "internal error"
	}
	var be *booking.BookingError
	if errors.As(err, &be) {
		body["booking_id"] = be.BookingID
		body["state"] = be.State
		if status == http.StatusInternalServerError {
			body["error"] = "booking failed"
		}
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
