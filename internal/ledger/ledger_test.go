package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

func newTestLedger(t *testing.T) (*pgLedger, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherSubstring))
	require.NoError(t, err)
	return &pgLedger{db: &store.DB{DB: db}}, mock, func() { db.Close() }
}

func TestDebit_DecrementsBalanceAndLogsTransaction(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance FROM user_credits").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(10)))
	mock.ExpectExec("UPDATE user_credits SET balance").WithArgs("user_1", int64(9), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").WithArgs("user_1", int64(1), TypeDebit, "job_story", "job_1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := l.Debit(context.Background(), "user_1", 1, "job_story", "job_1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_InsufficientFundsRollsBackWithoutWriting(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance FROM user_credits").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(0)))
	mock.ExpectRollback()

	_, err := l.Debit(context.Background(), "user_1", 1, "job_story", "job_1")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefund_IdempotentSecondCallIsNoop(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance FROM user_credits").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(9)))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("job_1", "job_failed", TypeRefund).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	balance, err := l.Refund(context.Background(), "user_1", 1, "job_failed", "job_1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), balance, "balance is unchanged by the already-applied refund")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefund_CreditsBalanceOnFirstCall(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance FROM user_credits").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(9)))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("job_1", "job_failed", TypeRefund).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE user_credits SET balance").WithArgs("user_1", int64(10)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").WithArgs("user_1", int64(1), TypeRefund, "job_failed", "job_1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := l.Refund(context.Background(), "user_1", 1, "job_failed", "job_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_AddsFunds(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance FROM user_credits").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(0)))
	mock.ExpectExec("UPDATE user_credits SET balance").WithArgs("user_1", int64(50)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").WithArgs("user_1", int64(50), TypeCredit, "purchase", nil).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := l.Credit(context.Background(), "user_1", 50, "purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalance_ReturnsCurrentValue(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance FROM user_credits").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(42)))
	mock.ExpectCommit()

	balance, err := l.Balance(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
