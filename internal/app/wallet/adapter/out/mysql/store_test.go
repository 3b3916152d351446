package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var accountColumnNames = []string{
	"id", "user_id", "balance", "total_credits", "total_debits", "min_balance", "max_balance",
	"frozen", "frozen_reason", "frozen_by", "frozen_at", "last_top_up", "version", "created_at", "updated_at",
}

func newMock(t *testing.T) (*mysql.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return mysql.NewClientWithDB(gdb), mock
}

func accountRows(accs ...*domain.Account) *sqlmock.Rows {
	rows := sqlmock.NewRows(accountColumnNames)
	for _, acc := range accs {
		var maxBalance driver.Value
		if acc.MaxBalance != nil {
			maxBalance = acc.MaxBalance.String()
		}
		rows.AddRow(
			acc.ID.String(), acc.UserID, acc.Balance.String(), acc.TotalCredits.String(), acc.TotalDebits.String(),
			acc.MinBalance.String(), maxBalance, acc.Frozen, acc.FrozenReason, acc.FrozenBy, nil, nil,
			acc.Version, acc.CreatedAt, acc.UpdatedAt,
		)
	}
	return rows
}

func seeded(balance string) *domain.Account {
	acc := domain.NewAccount("u-1", domain.Limits{}, t0)
	acc.Balance = decimal.RequireFromString(balance)
	acc.TotalCredits = acc.Balance
	acc.Version = 1
	return acc
}

func debit(amount string) func(acc *domain.Account) (*domain.Transaction, error) {
	return func(acc *domain.Account) (*domain.Transaction, error) {
		amt := decimal.RequireFromString(amount)
		at := t0.Add(time.Minute)
		before, after, err := acc.Apply(domain.TransactionTypeDebit, amt, at)
		if err != nil {
			return nil, err
		}
		return &domain.Transaction{
			ID: uuid.New(), AccountID: acc.ID, Sequence: acc.Version, Type: domain.TransactionTypeDebit,
			Amount: amt, BalanceBefore: before, BalanceAfter: after, ReferenceType: domain.ReferenceTypeCourse,
			Metadata: domain.Metadata{"courseId": "c-1"}, CreatedAt: at,
		}, nil
	}
}

const selectForUpdate = "SELECT \\* FROM `wallet_accounts` WHERE id = \\? .*FOR UPDATE"

func TestStore_MutateCommitsAccountAndTransaction(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	acc := seeded("100")

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(accountRows(acc))
	mock.ExpectExec("UPDATE `wallet_accounts` SET .*WHERE .*id = \\? AND version = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, tran, err := s.Mutate(context.Background(), acc.ID, debit("30"))
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(70)))
	assert.EqualValues(t, 2, got.Version)
	require.NotNil(t, tran)
	assert.EqualValues(t, 2, tran.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateRollsBackOnRejection(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	acc := seeded("10")

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(accountRows(acc))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), acc.ID, debit("30"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateUnknownAccount(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(sqlmock.NewRows(accountColumnNames))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), uuid.New(), debit("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateLockWaitTimeout(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).
		WillReturnError(&mysqldriver.MySQLError{Number: errLockWaitTimeout, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), uuid.New(), debit("1"))
	assert.ErrorIs(t, err, domain.ErrOperationTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateVersionConflict(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	acc := seeded("100")

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(accountRows(acc))
	mock.ExpectExec("UPDATE `wallet_accounts`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), acc.ID, debit("1"))
	assert.ErrorIs(t, err, errConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateNoChangeSkipsWrites(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	acc := seeded("5")

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(accountRows(acc))
	mock.ExpectCommit()

	got, tran, err := s.Mutate(context.Background(), acc.ID, func(a *domain.Account) (*domain.Transaction, error) {
		a.Unfreeze(t0)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, tran)
	assert.EqualValues(t, 1, got.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetOrCreateAccount(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	existing := seeded("42")

	mock.ExpectExec("INSERT INTO `wallet_accounts`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `wallet_accounts` WHERE user_id = \\?").
		WillReturnRows(accountRows(existing))

	got, err := s.GetOrCreateAccount(context.Background(), domain.NewAccount("u-1", domain.Limits{}, t0))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(42)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListTransactions(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	accountID := uuid.New()
	tranID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `wallet_transactions` WHERE account_id = ?")).
		WithArgs(accountID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT \\* FROM `wallet_transactions` WHERE account_id = \\? ORDER BY created_at DESC,sequence DESC").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "sequence", "type", "amount", "balance_before", "balance_after",
			"description", "reference", "reference_type", "metadata", "created_at",
		}).AddRow(
			tranID.String(), accountID.String(), 7, 2, "5.5000", "10.0000", "4.5000",
			"course", "c-1", domain.ReferenceTypeCourse, []byte(`{"courseId":"c-1"}`), t0,
		))

	out, total, err := s.ListTransactions(context.Background(), accountID, 0, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 7, total)
	require.Len(t, out, 1)
	assert.Equal(t, tranID, out[0].ID)
	assert.Equal(t, domain.TransactionTypeDebit, out[0].Type)
	assert.Equal(t, "c-1", out[0].Metadata["courseId"])
	assert.True(t, out[0].Consistent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountByType(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)

	mock.ExpectQuery("SELECT type, COUNT\\(\\*\\) AS count FROM `wallet_transactions`.*GROUP BY `type`").
		WillReturnRows(sqlmock.NewRows([]string{"type", "count"}).AddRow(1, 3).AddRow(2, 2).AddRow(3, 1))

	counts, err := s.CountByType(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.TypeCounts{Credits: 3, Debits: 2, Refunds: 1, Total: 6}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AccountCounts(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total_accounts.*FROM `wallet_accounts`").
		WillReturnRows(sqlmock.NewRows([]string{"total_accounts", "active_accounts", "frozen_accounts", "total_balance"}).
			AddRow(5, 3, 1, "250.5000"))

	counts, err := s.AccountCounts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, counts.TotalAccounts)
	assert.EqualValues(t, 3, counts.ActiveAccounts)
	assert.EqualValues(t, 1, counts.FrozenAccounts)
	assert.True(t, counts.TotalBalance.Equal(decimal.RequireFromString("250.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransactionTotalsAppliesFilter(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	from := t0.Add(-time.Hour)

	mock.ExpectQuery("SELECT type, COUNT\\(\\*\\) AS count, COALESCE\\(SUM\\(amount\\), 0\\) AS total FROM `wallet_transactions` " +
		"WHERE created_at >= \\? AND type IN \\(\\?\\) AND reference_type IN \\(.*\\) GROUP BY `type`").
		WillReturnRows(sqlmock.NewRows([]string{"type", "count", "total"}).AddRow(2, 4, "80.0000"))

	totals, err := s.TransactionTotals(context.Background(), domain.TransactionFilter{
		From:           &from,
		Types:          []domain.TransactionType{domain.TransactionTypeDebit},
		ReferenceTypes: domain.PaymentReferenceTypes,
	})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, domain.TransactionTypeDebit, totals[0].Type)
	assert.True(t, totals[0].Sum.Equal(decimal.NewFromInt(80)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DailyVolume(t *testing.T) {
	client, mock := newMock(t)
	s := NewStore(client)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT DATE\\(created_at\\) AS day.*GROUP BY DATE\\(created_at\\) ORDER BY day").
		WillReturnRows(sqlmock.NewRows([]string{"day", "credits", "debits", "refunds", "count"}).
			AddRow(day, "100.0000", "30.0000", "0.0000", 3))

	out, err := s.DailyVolume(context.Background(), day.Add(-24*time.Hour), day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, day, out[0].Date)
	assert.True(t, out[0].Credits.Equal(decimal.NewFromInt(100)))
	assert.EqualValues(t, 3, out[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(context.DeadlineExceeded), domain.ErrOperationTimeout)
	assert.ErrorIs(t, classify(&mysqldriver.MySQLError{Number: errLockNowait}), domain.ErrOperationTimeout)
	assert.ErrorIs(t, classify(domain.ErrInsufficientBalance), domain.ErrInsufficientBalance)

	other := errors.New("boom")
	assert.Equal(t, other, classify(other))
}
