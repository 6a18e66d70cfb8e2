package model

import "time"

// Wallet holds a user's balance.  BalanceCents is never written directly;
// it changes only together with the insert of a Transaction row.
type Wallet struct {
	ID           uint64    `db:"id" json:"id"`
	UserID       uint64    `db:"user_id" json:"user_id"`
	BalanceCents int64     `db:"balance_cents" json:"balance_cents"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction types and statuses.
const (
	TxDebit     = "DEBIT"
	TxCredit    = "CREDIT"
	TxCommitted = "COMMITTED"
)

// Transaction is an immutable ledger entry.  AmountCents is always
// positive; Type gives the direction.  Reference is an idempotency key
// unique per Type (a booking id, "refund:<ticket>", "reversal:<ref>").
type Transaction struct {
	ID          string    `db:"id" json:"id"`
	WalletID    uint64    `db:"wallet_id" json:"wallet_id"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Type        string    `db:"type" json:"type"`
	Status      string    `db:"status" json:"status"`
	Description string    `db:"description" json:"description"`
	Reference   *string   `db:"reference" json:"reference,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Signed returns the amount as it applies to the balance.
func (t Transaction) Signed() int64 {
	if t.Type == TxDebit {
		return -t.AmountCents
	}
	return t.AmountCents
}
