package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// WalletRepo stores wallets and their append-only transactions.  The only
// statement that changes balance_cents lives in Apply, next to the insert
// of the transaction that explains the change.
type WalletRepo struct{ db *sqlx.DB }

func NewWalletRepo(db *sqlx.DB) *WalletRepo { return &WalletRepo{db: db} }

const walletColumns = `id, user_id, balance_cents, created_at, updated_at`
const transactionColumns = `id, wallet_id, amount_cents, type, status, description, reference, created_at`

// Open returns the user's wallet, creating an empty one on first use.
func (r *WalletRepo) Open(ctx context.Context, userID uint64) (model.Wallet, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance_cents) VALUES (?, 0)
		 ON DUPLICATE KEY UPDATE user_id = user_id`, userID); err != nil {
		return model.Wallet{}, err
	}
	return r.GetByUser(ctx, userID)
}

// Get fetches a wallet by id.
func (r *WalletRepo) Get(ctx context.Context, id uint64) (model.Wallet, error) {
	var w model.Wallet
	err := r.db.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE id = ? LIMIT 1`, id)
	return w, notFound(err)
}

// GetByUser fetches the wallet owned by a user.
func (r *WalletRepo) GetByUser(ctx context.Context, userID uint64) (model.Wallet, error) {
	var w model.Wallet
	err := r.db.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = ? LIMIT 1`, userID)
	return w, notFound(err)
}

// Apply records t and moves the wallet balance by t.Signed() in one
// transaction.  The wallet row is locked first, so the foreign key check
// of the insert never has to upgrade a shared lock; an unknown wallet
// fails with ErrNotFound.  The insert goes before the balance update so a
// reused (type, reference) pair fails with ErrDuplicate before any balance
// changes.  A debit larger than the balance fails with ErrConditionFailed.
func (r *WalletRepo) Apply(ctx context.Context, t model.Transaction) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id uint64
		err := tx.GetContext(ctx, &id, `SELECT id FROM wallets WHERE id = ? FOR UPDATE`, t.WalletID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (id, wallet_id, amount_cents, type, status, description, reference, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.WalletID, t.AmountCents, t.Type, t.Status, t.Description, t.Reference, t.CreatedAt.UTC())
		if err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		var res sql.Result
		if t.Type == model.TxDebit {
			res, err = tx.ExecContext(ctx,
				`UPDATE wallets SET balance_cents = balance_cents - ? WHERE id = ? AND balance_cents >= ?`,
				t.AmountCents, t.WalletID, t.AmountCents)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE wallets SET balance_cents = balance_cents + ? WHERE id = ?`,
				t.AmountCents, t.WalletID)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConditionFailed
		}
		return nil
	})
}

// ByReference fetches the transaction of the given type and reference.
func (r *WalletRepo) ByReference(ctx context.Context, txType, reference string) (model.Transaction, error) {
	var t model.Transaction
	err := r.db.GetContext(ctx, &t,
		`SELECT `+transactionColumns+` FROM transactions WHERE type = ? AND reference = ? LIMIT 1`,
		txType, reference)
	return t, notFound(err)
}

// History returns the most recent transactions of a wallet, newest first.
func (r *WalletRepo) History(ctx context.Context, walletID uint64, limit int) ([]model.Transaction, error) {
	out := []model.Transaction{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+transactionColumns+` FROM transactions WHERE wallet_id = ? ORDER BY created_at DESC LIMIT ?`,
		walletID, limit)
	return out, err
}

// Reconcile compares the stored balance with the sum of committed
// transactions and returns both.
func (r *WalletRepo) Reconcile(ctx context.Context, walletID uint64) (balance, ledger int64, err error) {
	w, err := r.Get(ctx, walletID)
	if err != nil {
		return 0, 0, err
	}
	var sum sql.NullInt64
	err = r.db.GetContext(ctx, &sum,
		`SELECT SUM(CASE WHEN type = 'DEBIT' THEN -amount_cents ELSE amount_cents END)
		 FROM transactions WHERE wallet_id = ? AND status = 'COMMITTED'`, walletID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, err
	}
	return w.BalanceCents, sum.Int64, nil
}
