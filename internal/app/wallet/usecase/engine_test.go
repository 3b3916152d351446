package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

// --- Mocks ---

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// --- Helpers ---

// fixedClock 每次呼叫都回傳同一個時間，用來驗證時間戳會被往後推
func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amount(s string) usecase.MutationRequest {
	return usecase.MutationRequest{Amount: dec(s), Description: "test"}
}

type fixture struct {
	store     *memory.Store
	directory *memory.Directory
	engine    *usecase.Engine
	query     *usecase.QueryService
	admin     *usecase.AdminControl
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, opts ...usecase.Option) *fixture {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	directory := memory.NewDirectory(
		domain.UserSummary{ID: "u-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "0912000111"},
		domain.UserSummary{ID: "u-2", FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"},
		domain.UserSummary{ID: "u-3", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"},
	)
	reg := prometheus.NewRegistry()
	metrics := usecase.NewMetrics(reg)
	opts = append([]usecase.Option{
		usecase.WithDirectory(directory),
		usecase.WithMetrics(metrics),
	}, opts...)
	engine := usecase.NewEngine(store, zerolog.Nop(), opts...)
	return &fixture{
		store:     store,
		directory: directory,
		engine:    engine,
		query:     usecase.NewQueryService(store, directory, zerolog.Nop()),
		admin:     usecase.NewAdminControl(engine, zerolog.Nop()),
		registry:  reg,
	}
}

func (f *fixture) account(t *testing.T, userID, balance string) *domain.Account {
	t.Helper()
	acc, err := f.engine.OpenAccount(context.Background(), userID)
	require.NoError(t, err)
	if b := dec(balance); b.IsPositive() {
		res, err := f.engine.Credit(context.Background(), acc.ID, usecase.MutationRequest{Amount: b, Description: "seed"})
		require.NoError(t, err)
		acc = res.Account
	}
	return acc
}

func (f *fixture) assertInvariants(t *testing.T, accountID uuid.UUID) *domain.Account {
	t.Helper()
	acc, err := f.query.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, acc.Balanced(), "balance %s != credits %s - debits %s", acc.Balance, acc.TotalCredits, acc.TotalDebits)
	assert.True(t, acc.WithinLimits(), "balance %s outside limits", acc.Balance)
	return acc
}

func (f *fixture) transactionCount(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	page, err := f.query.GetTransactionHistory(context.Background(), accountID, 1, 1)
	require.NoError(t, err)
	return page.Total
}

// --- Scenarios ---

func TestEngine_DebitReducesBalance(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "1000")

	res, err := f.engine.Debit(context.Background(), acc.ID, amount("300"))
	require.NoError(t, err)

	assert.True(t, res.Account.Balance.Equal(dec("700")))
	assert.Equal(t, domain.TransactionTypeDebit, res.Transaction.Type)
	assert.True(t, res.Transaction.BalanceBefore.Equal(dec("1000")))
	assert.True(t, res.Transaction.BalanceAfter.Equal(dec("700")))
	assert.True(t, res.Transaction.Consistent())
	f.assertInvariants(t, acc.ID)
}

func TestEngine_DebitInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "0")

	_, err := f.engine.Debit(context.Background(), acc.ID, amount("50"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, err := f.query.GetBalance(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.Zero(t, f.transactionCount(t, acc.ID))
}

func TestEngine_FreezeBlocksMutationsUntilUnfrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "u-1", "250")

	_, err := f.engine.Freeze(ctx, acc.ID, "fraud", "admin-1")
	require.NoError(t, err)

	_, err = f.engine.Credit(ctx, acc.ID, amount("100"))
	require.ErrorIs(t, err, domain.ErrAccountFrozen)
	var frozenErr *domain.FrozenError
	require.True(t, errors.As(err, &frozenErr))
	assert.Equal(t, "fraud", frozenErr.Reason)

	_, err = f.engine.Debit(ctx, acc.ID, amount("1"))
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)
	_, err = f.engine.Refund(ctx, acc.ID, amount("1"))
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)

	got := f.assertInvariants(t, acc.ID)
	assert.True(t, got.Balance.Equal(dec("250")))
	assert.EqualValues(t, 1, f.transactionCount(t, acc.ID))

	_, err = f.engine.Unfreeze(ctx, acc.ID)
	require.NoError(t, err)
	res, err := f.engine.Credit(ctx, acc.ID, amount("100"))
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(dec("350")))
}

func TestEngine_FreezeAndUnfreezeAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "u-1", "0")

	_, err := f.engine.Freeze(ctx, acc.ID, "first", "admin-1")
	require.NoError(t, err)
	got, err := f.engine.Freeze(ctx, acc.ID, "second", "admin-2")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStateFrozen, got.State())
	assert.Equal(t, "second", got.FrozenReason)
	assert.Equal(t, "admin-2", got.FrozenBy)

	_, err = f.engine.Unfreeze(ctx, acc.ID)
	require.NoError(t, err)
	got, err = f.engine.Unfreeze(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStateActive, got.State())
	assert.Empty(t, got.FrozenReason)
	assert.Nil(t, got.FrozenAt)
}

func TestEngine_CreditMaxBalanceExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "u-1", "4900")
	maxBalance := dec("5000")
	_, err := f.engine.SetLimits(ctx, acc.ID, domain.Limits{MinBalance: decimal.Zero, MaxBalance: &maxBalance})
	require.NoError(t, err)

	_, err = f.engine.Credit(ctx, acc.ID, amount("200"))
	require.ErrorIs(t, err, domain.ErrMaxBalanceExceeded)

	got := f.assertInvariants(t, acc.ID)
	assert.True(t, got.Balance.Equal(dec("4900")))

	res, err := f.engine.Credit(ctx, acc.ID, amount("100"))
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(maxBalance))
}

func TestEngine_RefundCountsAsCredit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "0")

	res, err := f.engine.Refund(context.Background(), acc.ID, usecase.MutationRequest{
		Amount:        dec("42.5"),
		Description:   "course cancelled",
		Reference:     "order-9",
		ReferenceType: domain.ReferenceTypeRefund,
		Metadata:      domain.Metadata{domain.MetaRefundOf: "order-7"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeRefund, res.Transaction.Type)
	assert.True(t, res.Account.TotalCredits.Equal(dec("42.5")))
	assert.NotNil(t, res.Account.LastTopUp)
	assert.Equal(t, "order-9", res.Transaction.Reference)
	f.assertInvariants(t, acc.ID)
}

func TestEngine_InvalidAmounts(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "10")

	for _, s := range []string{"0", "-5", "0.00001"} {
		_, err := f.engine.Credit(context.Background(), acc.ID, amount(s))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, s)
		_, err = f.engine.Debit(context.Background(), acc.ID, amount(s))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, s)
	}
	assert.EqualValues(t, 1, f.transactionCount(t, acc.ID))
}

func TestEngine_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Debit(context.Background(), uuid.New(), amount("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = f.engine.Freeze(context.Background(), uuid.New(), "x", "admin")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestEngine_MetadataSchemaIsEnforced(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "10")

	_, err := f.engine.Credit(context.Background(), acc.ID, usecase.MutationRequest{
		Amount:        dec("1"),
		ReferenceType: domain.ReferenceTypeAdminAdjustment,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMetadata)

	_, err = f.engine.Debit(context.Background(), acc.ID, usecase.MutationRequest{
		Amount:        dec("1"),
		ReferenceType: domain.ReferenceTypePayment,
		Metadata:      domain.Metadata{domain.MetaItemID: 42},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMetadata)
}

func TestEngine_NegativeMinBalanceAllowsOverdraft(t *testing.T) {
	f := newFixture(t, usecase.WithDefaultLimits(domain.Limits{MinBalance: dec("-100")}))
	acc := f.account(t, "u-1", "0")

	res, err := f.engine.Debit(context.Background(), acc.ID, amount("100"))
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(dec("-100")))

	_, err = f.engine.Debit(context.Background(), acc.ID, amount("0.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	f.assertInvariants(t, acc.ID)
}

func TestEngine_SetLimitsRejectsBoundsViolatedByCurrentBalance(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "300")
	low := dec("200")

	_, err := f.engine.SetLimits(context.Background(), acc.ID, domain.Limits{MaxBalance: &low})
	assert.ErrorIs(t, err, domain.ErrInvalidLimits)
	_, err = f.engine.SetLimits(context.Background(), acc.ID, domain.Limits{MinBalance: dec("500")})
	assert.ErrorIs(t, err, domain.ErrInvalidLimits)
	_, err = f.engine.SetLimits(context.Background(), acc.ID, domain.Limits{MinBalance: dec("10"), MaxBalance: &low})
	assert.ErrorIs(t, err, domain.ErrInvalidLimits)

	got := f.assertInvariants(t, acc.ID)
	assert.Nil(t, got.MaxBalance)
}

func TestEngine_HasSufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "u-1", "50")

	ok, err := f.engine.HasSufficientBalance(ctx, acc.ID, dec("50"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.HasSufficientBalance(ctx, acc.ID, dec("50.01"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.engine.Freeze(ctx, acc.ID, "review", "admin-1")
	require.NoError(t, err)
	ok, err = f.engine.HasSufficientBalance(ctx, acc.ID, dec("1"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.engine.HasSufficientBalance(ctx, acc.ID, dec("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestEngine_OpenAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.OpenAccount(ctx, "u-1")
	require.NoError(t, err)
	again, err := f.engine.OpenAccount(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, first.Balance.IsZero())
	assert.True(t, first.MinBalance.IsZero())

	_, err = f.engine.OpenAccount(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = f.engine.AccountForUser(ctx, "u-2")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestEngine_TimestampsStrictlyIncreaseWithFrozenClock(t *testing.T) {
	f := newFixture(t, usecase.WithClock(fixedClock))
	acc := f.account(t, "u-1", "100")

	var last time.Time
	for range 5 {
		res, err := f.engine.Debit(context.Background(), acc.ID, amount("1"))
		require.NoError(t, err)
		assert.True(t, res.Transaction.CreatedAt.After(last))
		last = res.Transaction.CreatedAt
	}
}

// --- Concurrency ---

func TestEngine_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	const n = 100
	f := newFixture(t)
	acc := f.account(t, "u-1", "1000") // n * 10

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		start     = make(chan struct{})
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.engine.Debit(context.Background(), acc.ID, amount("10"))
			if err != nil {
				t.Errorf("debit failed: %v", err)
				return
			}
			if res.Account.Balance.IsNegative() {
				t.Errorf("balance went negative: %s", res.Account.Balance)
			}
			succeeded.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, n, succeeded.Load())
	got := f.assertInvariants(t, acc.ID)
	assert.True(t, got.Balance.IsZero(), "final balance %s", got.Balance)

	_, err := f.engine.Debit(context.Background(), acc.ID, amount("10"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestEngine_ConcurrentDebitsMoreThanBalance(t *testing.T) {
	const n = 50
	f := newFixture(t)
	acc := f.account(t, "u-1", "250")

	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		rejected atomic.Int64
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Debit(context.Background(), acc.ID, amount("10"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 25, ok.Load())
	assert.EqualValues(t, 25, rejected.Load())
	got := f.assertInvariants(t, acc.ID)
	assert.True(t, got.Balance.IsZero())
	assert.EqualValues(t, 26, f.transactionCount(t, acc.ID))
}

func TestEngine_ConcurrentMixedOperationsKeepInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "u-1", "500")

	var wg sync.WaitGroup
	var posted atomic.Int64
	for i := range 60 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			switch i % 6 {
			case 0:
				_, err = f.engine.Credit(ctx, acc.ID, amount("7.25"))
			case 1:
				_, err = f.engine.Refund(ctx, acc.ID, amount("1.5"))
			case 2:
				_, err = f.engine.Freeze(ctx, acc.ID, "race", "admin")
				return
			case 3:
				_, err = f.engine.Unfreeze(ctx, acc.ID)
				return
			default:
				_, err = f.engine.Debit(ctx, acc.ID, amount("13"))
			}
			if err == nil {
				posted.Add(1)
			}
		}()
	}
	wg.Wait()

	f.assertInvariants(t, acc.ID)
	// 1 筆 seed + 所有成功的異動
	assert.Equal(t, posted.Load()+1, f.transactionCount(t, acc.ID))
}

// --- Events & metrics ---

func TestEngine_PublishesEventsAfterCommit(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		return e.Type == domain.EventTransactionPosted && e.Transaction != nil
	})).Return(nil)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		return e.Type == domain.EventAccountFrozen && e.ActorID == "admin-1"
	})).Return(errors.New("broker down")).Once()

	f := newFixture(t, usecase.WithPublisher(pub))
	acc := f.account(t, "u-1", "10")

	_, err := f.engine.Freeze(context.Background(), acc.ID, "fraud", "admin-1")
	require.NoError(t, err, "publish failures must not fail the mutation")

	_, err = f.engine.Credit(context.Background(), acc.ID, amount("1"))
	require.ErrorIs(t, err, domain.ErrAccountFrozen)

	pub.AssertNumberOfCalls(t, "Publish", 2)
	pub.AssertExpectations(t)
}

func TestMetrics_CountOutcomes(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u-1", "5")

	_, err := f.engine.Debit(context.Background(), acc.ID, amount("10"))
	require.Error(t, err)
	_, err = f.engine.Debit(context.Background(), acc.ID, amount("5"))
	require.NoError(t, err)

	expected := `
# HELP wallet_ledger_mutations_total Total account mutations by operation and outcome.
# TYPE wallet_ledger_mutations_total counter
wallet_ledger_mutations_total{operation="credit",outcome="ok"} 1
wallet_ledger_mutations_total{operation="debit",outcome="ok"} 1
wallet_ledger_mutations_total{operation="debit",outcome="rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "wallet_ledger_mutations_total"))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", usecase.Outcome(nil))
	assert.Equal(t, "timeout", usecase.Outcome(domain.ErrOperationTimeout))
	assert.Equal(t, "rejected", usecase.Outcome(&domain.FrozenError{Reason: "x"}))
	assert.Equal(t, "rejected", usecase.Outcome(domain.ErrAccountNotFound))
	assert.Equal(t, "error", usecase.Outcome(errors.New("disk full")))
}
