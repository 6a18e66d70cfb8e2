package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/rail-ticketing/internal/model"
	"github.com/iliyamo/rail-ticketing/internal/repository"
)

// Ledger is the Ledger Store.  A wallet balance changes only through Debit
// and Credit, each of which appends an immutable transaction in the same
// store operation as the balance change.
type Ledger struct {
	store LedgerStore
	opts  Options
}

// NewLedger returns a Ledger backed by store.
func NewLedger(store LedgerStore, opts Options) *Ledger {
	return &Ledger{store: store, opts: opts.withDefaults()}
}

// reversalPrefix marks the credit that undoes a debit.
const reversalPrefix = "reversal:"

// Debit takes amount from the wallet if the balance covers it.  A non-empty
// reference makes the call idempotent: repeating it returns the original
// transaction instead of charging twice.
func (l *Ledger) Debit(ctx context.Context, walletID uint64, amount int64, description, reference string) (model.Transaction, error) {
	return l.apply(ctx, model.TxDebit, walletID, amount, description, reference)
}

// Credit adds amount to the wallet.  It is used for top-ups, refunds and
// compensation and fails only for a non-positive amount or unknown wallet.
func (l *Ledger) Credit(ctx context.Context, walletID uint64, amount int64, description, reference string) (model.Transaction, error) {
	return l.apply(ctx, model.TxCredit, walletID, amount, description, reference)
}

// Reverse credits back the debit recorded under reference.  It reports
// false when no such debit exists.  Reversing twice credits once.
func (l *Ledger) Reverse(ctx context.Context, reference string) (model.Transaction, bool, error) {
	debit, err := l.store.ByReference(ctx, model.TxDebit, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Transaction{}, false, nil
		}
		return model.Transaction{}, false, stepError("find debit", err)
	}
	t, err := l.Credit(ctx, debit.WalletID, debit.AmountCents, "reversal of "+debit.ID, reversalPrefix+reference)
	if err != nil {
		return model.Transaction{}, false, err
	}
	return t, true, nil
}

func (l *Ledger) apply(ctx context.Context, txType string, walletID uint64, amount int64, description, reference string) (model.Transaction, error) {
	if amount <= 0 {
		return model.Transaction{}, ErrInvalidAmount
	}
	t := model.Transaction{
		ID:          uuid.NewString(),
		WalletID:    walletID,
		AmountCents: amount,
		Type:        txType,
		Status:      model.TxCommitted,
		Description: description,
		CreatedAt:   l.opts.Now().UTC(),
	}
	if reference != "" {
		ref := reference
		t.Reference = &ref
	}
	err := l.store.Apply(ctx, t)
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, repository.ErrDuplicate) && reference != "":
		prev, err := l.store.ByReference(ctx, txType, reference)
		if err != nil {
			return model.Transaction{}, stepError("load existing transaction", err)
		}
		if prev.WalletID != walletID || prev.AmountCents != amount {
			return model.Transaction{}, fmt.Errorf("reference %q already used by transaction %s", reference, prev.ID)
		}
		return prev, nil
	case errors.Is(err, repository.ErrNotFound):
		return model.Transaction{}, ErrWalletNotFound
	case errors.Is(err, repository.ErrConditionFailed):
		if txType == model.TxDebit {
			return model.Transaction{}, ErrInsufficientFunds
		}
		return model.Transaction{}, ErrWalletNotFound
	}
	return model.Transaction{}, stepError("apply "+txType, err)
}

// OpenWallet returns the user's wallet, creating an empty one if needed.
func (l *Ledger) OpenWallet(ctx context.Context, userID uint64) (model.Wallet, error) {
	return l.store.Open(ctx, userID)
}

// WalletByUser loads the user's wallet.
func (l *Ledger) WalletByUser(ctx context.Context, userID uint64) (model.Wallet, error) {
	w, err := retryRead(ctx, l.opts.ReadRetryMaxElapsed, func(ctx context.Context) (model.Wallet, error) {
		return l.store.GetByUser(ctx, userID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return w, ErrWalletNotFound
	}
	return w, err
}

// History returns the most recent transactions of a wallet.
func (l *Ledger) History(ctx context.Context, walletID uint64, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return retryRead(ctx, l.opts.ReadRetryMaxElapsed, func(ctx context.Context) ([]model.Transaction, error) {
		return l.store.History(ctx, walletID, limit)
	})
}
