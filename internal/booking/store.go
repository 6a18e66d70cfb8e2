package booking

import (
	"context"
	"time"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// InventoryStore is the durable side of the Inventory Tracker.
// repository.ScheduleRepo implements it.
type InventoryStore interface {
	Get(ctx context.Context, scheduleID uint64) (model.Schedule, error)
	ReserveSeats(ctx context.Context, token string, scheduleID uint64, seats []uint32, expiresAt time.Time) error
	ReleaseHold(ctx context.Context, token string, at time.Time) (int, error)
	ExpiredHoldTokens(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// LedgerStore is the durable side of the Ledger Store.
// repository.WalletRepo implements it.
type LedgerStore interface {
	Open(ctx context.Context, userID uint64) (model.Wallet, error)
	Get(ctx context.Context, walletID uint64) (model.Wallet, error)
	GetByUser(ctx context.Context, userID uint64) (model.Wallet, error)
	Apply(ctx context.Context, t model.Transaction) error
	ByReference(ctx context.Context, txType, reference string) (model.Transaction, error)
	History(ctx context.Context, walletID uint64, limit int) ([]model.Transaction, error)
}

// TicketStore is the durable side of the Ticket Issuer.
// repository.TicketRepo implements it.
type TicketStore interface {
	CreateWithHold(ctx context.Context, t model.Ticket) error
	Get(ctx context.Context, id string) (model.Ticket, error)
	GetByHash(ctx context.Context, hash string) (model.Ticket, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Ticket, error)
	SeatTicketed(ctx context.Context, scheduleID uint64, seat uint32) (bool, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	MarkVoid(ctx context.Context, id string, at time.Time) error
	RecordVerification(ctx context.Context, v *model.TicketVerification) error
}

// BookingStore keeps the saga log.  repository.BookingRepo implements it.
type BookingStore interface {
	Create(ctx context.Context, b model.Booking) error
	Save(ctx context.Context, b model.Booking) error
	Stale(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
}

// EventPublisher delivers domain events.  Publishing is best effort: the
// booking outcome never depends on it.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, event interface{}) error
}
