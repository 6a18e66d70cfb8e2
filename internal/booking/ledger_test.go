package booking

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

func TestDebitCredit(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	w := f.fund(t, 1, 1000)

	tx, err := f.ledger.Debit(ctx, w, 400, "ticket", "")
	require.NoError(t, err)
	assert.Equal(t, model.TxDebit, tx.Type)
	assert.Equal(t, model.TxCommitted, tx.Status)
	assert.Equal(t, int64(-400), tx.Signed())
	assert.Equal(t, int64(600), f.db.balance(w))

	_, err = f.ledger.Debit(ctx, w, 601, "ticket", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(600), f.db.balance(w))

	_, err = f.ledger.Credit(ctx, w, 0, "nothing", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.Debit(ctx, w, -5, "negative", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.ledger.Credit(ctx, 999, 10, "nobody", "")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	assert.Equal(t, f.db.ledgerSum(w), f.db.balance(w))
}

func TestDebitReferenceIsIdempotent(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	w := f.fund(t, 1, 1000)

	first, err := f.ledger.Debit(ctx, w, 300, "ticket", "booking-1")
	require.NoError(t, err)
	second, err := f.ledger.Debit(ctx, w, 300, "ticket", "booking-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(700), f.db.balance(w))

	_, err = f.ledger.Debit(ctx, w, 200, "ticket", "booking-1")
	assert.Error(t, err)
	assert.Equal(t, int64(700), f.db.balance(w))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	w := f.fund(t, 1, 1000)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Debit(ctx, w, 100, "ticket", ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
	assert.Equal(t, int64(0), f.db.balance(w))
	assert.Equal(t, f.db.ledgerSum(w), f.db.balance(w))
}

func TestReverse(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	w := f.fund(t, 1, 1000)

	_, found, err := f.ledger.Reverse(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = f.ledger.Debit(ctx, w, 250, "ticket", "b-1")
	require.NoError(t, err)
	assert.False(t, f.reversed(t, "b-1"))

	r1, found, err := f.ledger.Reverse(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, found)
	r2, _, err := f.ledger.Reverse(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)
	assert.Equal(t, int64(1000), f.db.balance(w))

	assert.True(t, f.reversed(t, "b-1"))
}

func TestHistoryAndWallet(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	w := f.fund(t, 9, 500)
	_, err := f.ledger.Debit(ctx, w, 100, "a", "")
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, w, 50, "b", "")
	require.NoError(t, err)

	hist, err := f.ledger.History(ctx, w, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].Description)
	assert.Equal(t, "a", hist[1].Description)

	all, err := f.ledger.History(ctx, w, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	wallet, err := f.ledger.WalletByUser(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(350), wallet.BalanceCents)

	_, err = f.ledger.WalletByUser(ctx, 10)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	again, err := f.ledger.OpenWallet(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, w, again.ID)
}
