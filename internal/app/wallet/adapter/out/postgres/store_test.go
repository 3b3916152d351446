package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var accountColumnNames = []string{
	"id", "user_id", "balance", "total_credits", "total_debits", "min_balance", "max_balance",
	"frozen", "frozen_reason", "frozen_by", "frozen_at", "last_top_up", "version", "created_at", "updated_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func accountRows(mock pgxmock.PgxPoolIface, acc *domain.Account) *pgxmock.Rows {
	var maxBalance any
	if acc.MaxBalance != nil {
		maxBalance = acc.MaxBalance.String()
	}
	return mock.NewRows(accountColumnNames).AddRow(
		acc.ID, acc.UserID, acc.Balance.String(), acc.TotalCredits.String(), acc.TotalDebits.String(),
		acc.MinBalance.String(), maxBalance, acc.Frozen, acc.FrozenReason, acc.FrozenBy, nil, nil,
		acc.Version, acc.CreatedAt, acc.UpdatedAt,
	)
}

func seeded(balance string) *domain.Account {
	acc := domain.NewAccount("u-1", domain.Limits{}, t0)
	acc.Balance = decimal.RequireFromString(balance)
	acc.TotalCredits = acc.Balance
	acc.Version = 1
	return acc
}

func credit(amount string) func(acc *domain.Account) (*domain.Transaction, error) {
	return func(acc *domain.Account) (*domain.Transaction, error) {
		amt := decimal.RequireFromString(amount)
		at := t0.Add(time.Minute)
		before, after, err := acc.Apply(domain.TransactionTypeCredit, amt, at)
		if err != nil {
			return nil, err
		}
		return &domain.Transaction{
			ID: uuid.New(), AccountID: acc.ID, Sequence: acc.Version, Type: domain.TransactionTypeCredit,
			Amount: amt, BalanceBefore: before, BalanceAfter: after, ReferenceType: domain.ReferenceTypeTopUp,
			CreatedAt: at,
		}, nil
	}
}

// anyArgs n 個不檢查內容的參數 (decimal、產生的 ID 與時間)
func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

// updateArgsFor 鎖定時讀到的版本必須出現在 WHERE 條件
func updateArgsFor(id uuid.UUID, version int64) []any {
	return append([]any{id, version}, anyArgs(12)...)
}

const selectForUpdate = `(?s)SELECT id, user_id.* FROM wallet_accounts WHERE id = \$1 FOR UPDATE`

func TestStore_MutateCommits(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock, WithLockTimeout(1500*time.Millisecond))
	acc := seeded("10")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\('lock_timeout', \$1, true\)`).
		WithArgs("1500ms").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectForUpdate).WithArgs(acc.ID).WillReturnRows(accountRows(mock, acc))
	mock.ExpectExec(`(?s)UPDATE wallet_accounts SET.*WHERE id = \$1 AND version = \$2`).
		WithArgs(updateArgsFor(acc.ID, 1)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO wallet_transactions`).
		WithArgs(append([]any{pgxmock.AnyArg(), acc.ID, int64(2), int16(domain.TransactionTypeCredit)}, anyArgs(8)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, tran, err := s.Mutate(context.Background(), acc.ID, credit("5.25"))
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("15.25")))
	require.NotNil(t, tran)
	assert.True(t, tran.Consistent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateRejectionRollsBack(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	maxBalance := decimal.NewFromInt(12)
	acc := seeded("10")
	acc.MaxBalance = &maxBalance

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs(acc.ID).WillReturnRows(accountRows(mock, acc))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), acc.ID, credit("5"))
	assert.ErrorIs(t, err, domain.ErrMaxBalanceExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateUnknownAccount(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), id, credit("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateLockTimeout(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).
		WithArgs(id).
		WillReturnError(&pgconn.PgError{Code: codeLockNotAvailable, Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), id, credit("1"))
	assert.ErrorIs(t, err, domain.ErrOperationTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MutateVersionConflict(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	acc := seeded("10")

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs(acc.ID).WillReturnRows(accountRows(mock, acc))
	mock.ExpectExec(`UPDATE wallet_accounts`).
		WithArgs(updateArgsFor(acc.ID, 1)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), acc.ID, credit("1"))
	assert.ErrorIs(t, err, errConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetOrCreateAccount(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	existing := seeded("3")
	proto := domain.NewAccount("u-1", domain.Limits{}, t0)

	mock.ExpectExec(`(?s)INSERT INTO wallet_accounts .*ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(append([]any{proto.ID, "u-1"}, anyArgs(13)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`(?s)FROM wallet_accounts WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnRows(accountRows(mock, existing))

	got, err := s.GetOrCreateAccount(context.Background(), proto)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListTransactions(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	accountID := uuid.New()
	tranID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM wallet_transactions WHERE account_id = \$1`).
		WithArgs(accountID).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`(?s)FROM wallet_transactions\s+WHERE account_id = \$1 ORDER BY created_at DESC, sequence DESC OFFSET \$2 LIMIT \$3`).
		WithArgs(accountID, 20, 10).
		WillReturnRows(mock.NewRows([]string{
			"id", "account_id", "sequence", "type", "amount", "balance_before", "balance_after",
			"description", "reference", "reference_type", "metadata", "created_at",
		}).AddRow(
			tranID, accountID, uint64(3), int16(3), "2.0000", "8.0000", "10.0000",
			"refund", "r-1", domain.ReferenceTypeRefund, []byte(`{"refundOf":"t-9"}`), t0,
		))

	out, total, err := s.ListTransactions(context.Background(), accountID, 20, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, out, 1)
	assert.Equal(t, domain.TransactionTypeRefund, out[0].Type)
	assert.Equal(t, "t-9", out[0].Metadata["refundOf"])
	assert.True(t, out[0].Consistent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AccountCounts(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\),.*FILTER \(WHERE NOT frozen AND balance > 0\).*FROM wallet_accounts`).
		WillReturnRows(mock.NewRows([]string{"total", "active", "frozen", "balance"}).
			AddRow(int64(4), int64(2), int64(1), "99.5000"))

	counts, err := s.AccountCounts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, counts.TotalAccounts)
	assert.EqualValues(t, 2, counts.ActiveAccounts)
	assert.EqualValues(t, 1, counts.FrozenAccounts)
	assert.True(t, counts.TotalBalance.Equal(decimal.RequireFromString("99.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransactionTotalsWithFilter(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	from := t0.Add(-time.Hour)
	to := t0

	mock.ExpectQuery(`(?s)FROM wallet_transactions WHERE created_at >= \$1 AND created_at <= \$2 AND type = ANY\(\$3\) GROUP BY type`).
		WithArgs(from, to, []int16{2}).
		WillReturnRows(mock.NewRows([]string{"type", "count", "sum"}).AddRow(int16(2), int64(2), "40.0000"))

	totals, err := s.TransactionTotals(context.Background(), domain.TransactionFilter{
		From:  &from,
		To:    &to,
		Types: []domain.TransactionType{domain.TransactionTypeDebit},
	})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, domain.TransactionTypeDebit, totals[0].Type)
	assert.EqualValues(t, 2, totals[0].Count)
	assert.True(t, totals[0].Sum.Equal(decimal.NewFromInt(40)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DailyVolume(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)date_trunc\('day', created_at AT TIME ZONE 'UTC'\).*GROUP BY day ORDER BY day`).
		WithArgs(day, day.Add(24*time.Hour),
			int16(domain.TransactionTypeCredit), int16(domain.TransactionTypeDebit), int16(domain.TransactionTypeRefund)).
		WillReturnRows(mock.NewRows([]string{"day", "credits", "debits", "refunds", "count"}).
			AddRow(day.Add(3*time.Hour), "10.0000", "4.0000", "1.0000", int64(3)))

	out, err := s.DailyVolume(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, day, out[0].Date)
	assert.True(t, out[0].Refunds.Equal(decimal.NewFromInt(1)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateArgsMatchPlaceholders(t *testing.T) {
	acc := seeded("10")
	acc.Version = 2
	acc.UpdatedAt = t0.Add(time.Hour)

	args := updateArgs(acc, 1)
	require.Len(t, args, strings.Count(updateAccountSQL, "$"))
	assert.Equal(t, acc.ID, args[0])
	assert.Equal(t, int64(1), args[1], "WHERE version uses the locked version")
	assert.Equal(t, int64(2), args[12], "SET version uses the new version")
	assert.Equal(t, acc.UpdatedAt, args[13])
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(domain.TransactionFilter{}, "t.", nil)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = filterClause(domain.TransactionFilter{ReferenceTypes: []string{"PAYMENT"}}, "t.", []any{"x"})
	assert.Equal(t, " WHERE t.reference_type = ANY($2)", where)
	assert.Len(t, args, 2)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: codeQueryCanceled}), domain.ErrOperationTimeout)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), domain.ErrOperationTimeout)
	assert.ErrorIs(t, classify(domain.ErrInsufficientBalance), domain.ErrInsufficientBalance)
}
