package booking

import (
	"errors"
	"fmt"
)

// Domain errors.  They describe expected, caller-recoverable outcomes and
// are matched with errors.Is; infrastructure failures are returned wrapped
// but otherwise untouched.
var (
	ErrSoldOut           = errors.New("sold out")
	ErrScheduleClosed    = errors.New("schedule closed")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrSeatTaken         = errors.New("seat taken")
	ErrInvalidSeat       = errors.New("invalid seat number")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrPaymentDeclined   = errors.New("payment declined")
	ErrIssuance          = errors.New("ticket issuance failed")
	ErrTimeout           = errors.New("step timed out")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrAlreadyUsed       = errors.New("ticket already used")
	ErrNotRefundable     = errors.New("ticket not refundable")
	ErrInvalidQR         = errors.New("malformed qr payload")
)

// BookingError reports a failed booking attempt together with the saga
// state that was reached before it failed.  Compensation has already run
// when a BookingError is returned.
type BookingError struct {
	BookingID string
	State     string
	Err       error
}

func (e *BookingError) Error() string {
	return fmt.Sprintf("booking %s failed in %s: %v", e.BookingID, e.State, e.Err)
}

func (e *BookingError) Unwrap() error { return e.Err }

// paymentDeclined wraps the ledger cause so both ErrPaymentDeclined and
// the cause (e.g. ErrInsufficientFunds) match with errors.Is.
func paymentDeclined(cause error) error {
	return fmt.Errorf("%w: %w", ErrPaymentDeclined, cause)
}

func issuanceFailed(cause error) error {
	if errors.Is(cause, ErrSeatTaken) || errors.Is(cause, ErrTimeout) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrIssuance, cause)
}
