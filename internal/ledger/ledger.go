// Package ledger implements the Credit Ledger (C4): atomic debit/refund of a
// per-user balance with an append-only transaction log, serialized on the
// balance row via Postgres row-level locking (SELECT ... FOR UPDATE),
// matching the teacher's store layer's preference for one exclusive
// operation at a time rather than a long-held lock across external calls.
package ledger

import (
	"context"
	"database/sql"
	stderrors "errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// ErrInsufficientFunds is returned by Debit when the user's balance is less
// than the amount to debit.
var ErrInsufficientFunds = stderrors.New("ledger: insufficient funds")

const (
	TypeDebit  = "debit"
	TypeRefund = "refund"
	TypeCredit = "credit"
)

// Ledger is the C4 capability port.
type Ledger interface {
	// Debit atomically decrements balance by amount and appends a
	// transaction row. Returns ErrInsufficientFunds if balance < amount.
	Debit(ctx context.Context, userKey string, amount int64, reason, jobID string) (newBalance int64, err error)

	// Refund atomically increments balance by amount. Idempotent per
	// (jobID, reason): a second refund for the same job/reason is a no-op
	// that returns the current balance.
	Refund(ctx context.Context, userKey string, amount int64, reason, jobID string) (newBalance int64, err error)

	// Credit adds funds to a user's balance (e.g. a purchase), for
	// completeness of the ledger invariant in spec.md §3.
	Credit(ctx context.Context, userKey string, amount int64, reason string) (newBalance int64, err error)

	// Balance returns the user's current balance, creating a zero-balance
	// row if none exists.
	Balance(ctx context.Context, userKey string) (int64, error)
}

type pgLedger struct {
	db *store.DB
}

// New returns a Postgres-backed Ledger.
func New(db *store.DB) Ledger { return &pgLedger{db: db} }

func (l *pgLedger) Debit(ctx context.Context, userKey string, amount int64, reason, jobID string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	balance, err := lockBalance(ctx, tx, userKey)
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return balance, ErrInsufficientFunds
	}

	newBalance := balance - amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_credits SET balance = $2, total_used = total_used + $3 WHERE user_key = $1
	`, userKey, newBalance, amount); err != nil {
		return 0, pkgerrors.Wrap(err, "update balance")
	}
	if err := appendTransaction(ctx, tx, userKey, amount, TypeDebit, reason, jobID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, pkgerrors.Wrap(err, "commit debit")
	}
	return newBalance, nil
}

func (l *pgLedger) Refund(ctx context.Context, userKey string, amount int64, reason, jobID string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	balance, err := lockBalance(ctx, tx, userKey)
	if err != nil {
		return 0, err
	}

	var alreadyRefunded bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE job_id = $1 AND reason = $2 AND type = $3)
	`, jobID, reason, TypeRefund).Scan(&alreadyRefunded)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "check prior refund")
	}
	if alreadyRefunded {
		return balance, tx.Commit()
	}

	newBalance := balance + amount
	if _, err := tx.ExecContext(ctx, `UPDATE user_credits SET balance = $2 WHERE user_key = $1`, userKey, newBalance); err != nil {
		return 0, pkgerrors.Wrap(err, "update balance")
	}
	if err := appendTransaction(ctx, tx, userKey, amount, TypeRefund, reason, jobID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, pkgerrors.Wrap(err, "commit refund")
	}
	return newBalance, nil
}

func (l *pgLedger) Credit(ctx context.Context, userKey string, amount int64, reason string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	balance, err := lockBalance(ctx, tx, userKey)
	if err != nil {
		return 0, err
	}
	newBalance := balance + amount
	if _, err := tx.ExecContext(ctx, `UPDATE user_credits SET balance = $2 WHERE user_key = $1`, userKey, newBalance); err != nil {
		return 0, pkgerrors.Wrap(err, "update balance")
	}
	if err := appendTransaction(ctx, tx, userKey, amount, TypeCredit, reason, ""); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, pkgerrors.Wrap(err, "commit credit")
	}
	return newBalance, nil
}

func (l *pgLedger) Balance(ctx context.Context, userKey string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck
	balance, err := lockBalance(ctx, tx, userKey)
	if err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

// lockBalance takes a row-level exclusive lock on the user's balance row
// (creating it at zero if absent), so concurrent debits/refunds for the same
// user serialize instead of racing to read-modify-write.
func lockBalance(ctx context.Context, tx *sql.Tx, userKey string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_credits (user_key, balance, total_used) VALUES ($1, 0, 0)
		ON CONFLICT (user_key) DO NOTHING
	`, userKey); err != nil {
		return 0, pkgerrors.Wrap(err, "ensure balance row")
	}

	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM user_credits WHERE user_key = $1 FOR UPDATE`, userKey).Scan(&balance)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "lock balance")
	}
	return balance, nil
}

func appendTransaction(ctx context.Context, tx *sql.Tx, userKey string, amount int64, txType, reason, jobID string) error {
	var jobIDArg any
	if jobID != "" {
		jobIDArg = jobID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_key, amount, type, reason, job_id) VALUES ($1, $2, $3, $4, $5)
	`, userKey, amount, txType, reason, jobIDArg)
	return pkgerrors.Wrap(err, "append transaction")
}
