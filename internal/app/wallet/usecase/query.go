package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

const (
	DefaultHistoryLimit     = 20
	MaxHistoryLimit         = 100
	MinSearchTermLength     = 2
	SearchResultLimit       = 20
	TopAccountsLimit        = 10
	RecentTransactionsLimit = 10
	// DefaultVolumeWindow 沒有指定區間時，每日交易量統計最近 30 天
	DefaultVolumeWindow = 30 * 24 * time.Hour
)

// AnalyticsFilter 統計區間，nil 代表不限制
type AnalyticsFilter struct {
	From *time.Time
	To   *time.Time
}

// QueryService 唯讀查詢，不會修改任何狀態
type QueryService struct {
	store     Store
	directory UserDirectory
	logger    zerolog.Logger
	clock     func() time.Time
}

// QueryOption QueryService 的選項
type QueryOption func(*QueryService)

// WithQueryClock 替換時間來源 (測試用)
func WithQueryClock(clock func() time.Time) QueryOption {
	return func(q *QueryService) { q.clock = clock }
}

func NewQueryService(store Store, directory UserDirectory, logger zerolog.Logger, opts ...QueryOption) *QueryService {
	q := &QueryService{
		store:     store,
		directory: directory,
		logger:    logger.With().Str("component", "query_service").Logger(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// GetBalance 目前餘額
func (q *QueryService) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	acc, err := q.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// GetAccount 帳戶快照
func (q *QueryService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return q.store.GetAccount(ctx, accountID)
}

// GetTransactionHistory 分頁查詢交易紀錄 (新到舊)
// page 從 1 開始；limit 預設 20，上限 100
func (q *QueryService) GetTransactionHistory(ctx context.Context, accountID uuid.UUID, page, limit int) (*domain.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	if _, err := q.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	// 超大的 page 會讓 (page-1)*limit 溢位，直接定位到最後面 (空頁)
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}
	trans, total, err := q.store.ListTransactions(ctx, accountID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if trans == nil {
		trans = []domain.Transaction{}
	}
	return &domain.HistoryPage{
		Transactions: trans,
		Total:        total,
		Page:         page,
		Limit:        limit,
		TotalPages:   int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

// GetStats 單一帳戶統計
func (q *QueryService) GetStats(ctx context.Context, accountID uuid.UUID) (*domain.AccountStats, error) {
	acc, err := q.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	counts, err := q.store.CountByType(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	return &domain.AccountStats{
		AccountID:    acc.ID,
		Balance:      acc.Balance,
		TotalCredits: acc.TotalCredits,
		TotalDebits:  acc.TotalDebits,
		NetBalance:   acc.TotalCredits.Sub(acc.TotalDebits),
		Frozen:       acc.Frozen,
		FrozenReason: acc.FrozenReason,
		LastTopUp:    acc.LastTopUp,
		Transactions: counts,
	}, nil
}

// SearchAccounts 依姓名、Email、電話搜尋使用者並附上帳戶
// 尚未開戶的使用者 Account 為 nil，不會替他們建立帳戶
func (q *QueryService) SearchAccounts(ctx context.Context, term string) ([]domain.AccountSearchResult, error) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < MinSearchTermLength {
		return nil, domain.ErrInvalidSearchTerm
	}
	if q.directory == nil {
		return nil, errors.New("user directory is not configured")
	}

	users, err := q.directory.Search(ctx, term, SearchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	accounts, err := q.store.AccountsByUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	results := make([]domain.AccountSearchResult, 0, len(users))
	for _, u := range users {
		results = append(results, domain.AccountSearchResult{User: u, Account: accounts[u.ID]})
	}
	return results, nil
}

// GetUsageAnalytics 全站錢包使用統計
// 各項查詢並行執行，彼此之間不保證是同一個快照
func (q *QueryService) GetUsageAnalytics(ctx context.Context, filter AnalyticsFilter) (*domain.UsageAnalytics, error) {
	txFilter := domain.TransactionFilter{From: filter.From, To: filter.To}
	from, to := q.volumeWindow(filter)

	var (
		counts  domain.AccountCounts
		totals  []domain.TypeTotal
		top     []*domain.Account
		recent  []domain.OwnedTransaction
		volume  []domain.DailyVolume
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() (err error) {
		counts, err = q.store.AccountCounts(gctx)
		return wrap("account counts", err)
	})
	g.Go(func() (err error) {
		totals, err = q.store.TransactionTotals(gctx, txFilter)
		return wrap("transaction totals", err)
	})
	g.Go(func() (err error) {
		top, err = q.store.TopAccountsByBalance(gctx, TopAccountsLimit)
		return wrap("top accounts", err)
	})
	g.Go(func() (err error) {
		recent, err = q.store.RecentTransactions(gctx, txFilter, RecentTransactionsLimit)
		return wrap("recent transactions", err)
	})
	g.Go(func() (err error) {
		volume, err = q.store.DailyVolume(gctx, from, to)
		return wrap("daily volume", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(top)+len(recent))
	for _, acc := range top {
		ids = append(ids, acc.UserID)
	}
	for _, t := range recent {
		ids = append(ids, t.UserID)
	}
	users := q.lookupUsers(ctx, ids)

	out := &domain.UsageAnalytics{
		Summary:            counts,
		Transactions:       domain.NewTransactionTotals(totals),
		TopAccounts:        make([]domain.TopAccount, 0, len(top)),
		RecentTransactions: make([]domain.RecentTransaction, 0, len(recent)),
		DailyVolume:        volume,
	}
	if out.DailyVolume == nil {
		out.DailyVolume = []domain.DailyVolume{}
	}
	for _, acc := range top {
		u := users[acc.UserID]
		out.TopAccounts = append(out.TopAccounts, domain.TopAccount{
			AccountID:    acc.ID,
			UserID:       acc.UserID,
			UserName:     u.DisplayName(),
			Email:        u.Email,
			Balance:      acc.Balance,
			TotalCredits: acc.TotalCredits,
			TotalDebits:  acc.TotalDebits,
		})
	}
	for _, t := range recent {
		out.RecentTransactions = append(out.RecentTransactions, domain.RecentTransaction{
			ID:          t.ID,
			Type:        t.Type,
			Amount:      t.Amount,
			Description: t.Description,
			UserID:      t.UserID,
			UserName:    users[t.UserID].DisplayName(),
			CreatedAt:   t.CreatedAt,
		})
	}
	return out, nil
}

// GetPaymentUsage 以錢包付款 (PAYMENT / ENROLLMENT / CLASS_FEE / COURSE 扣款) 的總額
func (q *QueryService) GetPaymentUsage(ctx context.Context, filter AnalyticsFilter) (*domain.PaymentUsage, error) {
	totals, err := q.store.TransactionTotals(ctx, domain.TransactionFilter{
		From:           filter.From,
		To:             filter.To,
		Types:          []domain.TransactionType{domain.TransactionTypeDebit},
		ReferenceTypes: domain.PaymentReferenceTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("payment usage: %w", err)
	}
	usage := &domain.PaymentUsage{Total: decimal.Zero}
	for _, t := range totals {
		usage.Total = usage.Total.Add(t.Sum)
		usage.Count += t.Count
	}
	return usage, nil
}

func (q *QueryService) volumeWindow(filter AnalyticsFilter) (time.Time, time.Time) {
	to := q.clock().UTC()
	if filter.To != nil {
		to = filter.To.UTC()
	}
	from := to.Add(-DefaultVolumeWindow).Truncate(24 * time.Hour)
	if filter.From != nil {
		from = filter.From.UTC()
	}
	return from, to
}

// lookupUsers 使用者資料只用於顯示，查不到時回傳空名稱
func (q *QueryService) lookupUsers(ctx context.Context, ids []string) map[string]domain.UserSummary {
	if q.directory == nil || len(ids) == 0 {
		return map[string]domain.UserSummary{}
	}
	users, err := q.directory.Lookup(ctx, ids)
	if err != nil {
		q.logger.Warn().Err(err).Int("users", len(ids)).Msg("lookup users for analytics failed")
		return map[string]domain.UserSummary{}
	}
	return users
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
