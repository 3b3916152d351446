package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// MutationRequest 一筆餘額異動的內容
type MutationRequest struct {
	Amount        decimal.Decimal
	Description   string
	Reference     string
	ReferenceType string
	Metadata      domain.Metadata
}

// MutationResult 異動成功後的流水與帳戶
type MutationResult struct {
	Transaction *domain.Transaction
	Account     *domain.Account
}

// Engine 帳務引擎，負責所有不變式
// 同帳戶的序列化與原子性交給 Store.Mutate
type Engine struct {
	store         Store
	directory     UserDirectory
	publisher     EventPublisher
	metrics       *Metrics
	logger        zerolog.Logger
	clock         func() time.Time
	defaultLimits domain.Limits
}

// Option Engine 的選項
type Option func(*Engine)

// WithClock 替換時間來源 (測試用)
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics 設定 Prometheus 指標
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher 設定事件發布器
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithDirectory 設定使用者目錄，未設定時 OpenAccount 不檢查使用者是否存在
func WithDirectory(d UserDirectory) Option {
	return func(e *Engine) { e.directory = d }
}

// WithDefaultLimits 新帳戶的預設上下限
func WithDefaultLimits(l domain.Limits) Option {
	return func(e *Engine) { e.defaultLimits = l }
}

func NewEngine(store Store, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		logger:        logger.With().Str("component", "ledger_engine").Logger(),
		clock:         time.Now,
		defaultLimits: domain.Limits{MinBalance: decimal.Zero},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Credit 入帳
func (e *Engine) Credit(ctx context.Context, accountID uuid.UUID, req MutationRequest) (*MutationResult, error) {
	return e.post(ctx, "credit", accountID, domain.TransactionTypeCredit, req, "")
}

// Debit 扣款
func (e *Engine) Debit(ctx context.Context, accountID uuid.UUID, req MutationRequest) (*MutationResult, error) {
	return e.post(ctx, "debit", accountID, domain.TransactionTypeDebit, req, "")
}

// Refund 退款，規則與入帳相同，只是流水類型為 REFUND
// 不檢查是否有對應的扣款
func (e *Engine) Refund(ctx context.Context, accountID uuid.UUID, req MutationRequest) (*MutationResult, error) {
	return e.post(ctx, "refund", accountID, domain.TransactionTypeRefund, req, "")
}

func (e *Engine) post(ctx context.Context, op string, accountID uuid.UUID, typ domain.TransactionType,
	req MutationRequest, actorID string) (res *MutationResult, err error) {
	start := time.Now()
	defer func() { e.metrics.observe(op, start, err) }()

	// 不需要鎖就能判斷的錯誤先擋掉
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := domain.ValidateMetadata(req.ReferenceType, req.Metadata); err != nil {
		return nil, err
	}

	acc, tran, err := e.store.Mutate(ctx, accountID, func(acc *domain.Account) (*domain.Transaction, error) {
		at := e.nextTimestamp(acc)
		before, after, err := acc.Apply(typ, req.Amount, at)
		if err != nil {
			return nil, err
		}
		return &domain.Transaction{
			ID:            uuid.New(),
			AccountID:     acc.ID,
			Sequence:      acc.Version,
			Type:          typ,
			Amount:        req.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   req.Description,
			Reference:     req.Reference,
			ReferenceType: req.ReferenceType,
			Metadata:      req.Metadata.Clone(),
			CreatedAt:     at,
		}, nil
	})
	if err != nil {
		e.logFailure(op, accountID, err)
		return nil, err
	}

	e.publish(ctx, domain.EventTransactionPosted, acc, tran, actorID)
	return &MutationResult{Transaction: tran, Account: acc}, nil
}

// Freeze 凍結帳戶，已凍結時覆寫原因
func (e *Engine) Freeze(ctx context.Context, accountID uuid.UUID, reason, actorID string) (acc *domain.Account, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("freeze", start, err) }()

	acc, _, err = e.store.Mutate(ctx, accountID, func(acc *domain.Account) (*domain.Transaction, error) {
		acc.Freeze(reason, actorID, e.nextTimestamp(acc))
		return nil, nil
	})
	if err != nil {
		e.logFailure("freeze", accountID, err)
		return nil, err
	}
	e.publish(ctx, domain.EventAccountFrozen, acc, nil, actorID)
	return acc, nil
}

// Unfreeze 解除凍結，未凍結時不做任何事
func (e *Engine) Unfreeze(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return e.unfreeze(ctx, accountID, "")
}

func (e *Engine) unfreeze(ctx context.Context, accountID uuid.UUID, actorID string) (acc *domain.Account, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("unfreeze", start, err) }()

	changed := false
	acc, _, err = e.store.Mutate(ctx, accountID, func(acc *domain.Account) (*domain.Transaction, error) {
		changed = acc.Unfreeze(e.nextTimestamp(acc))
		return nil, nil
	})
	if err != nil {
		e.logFailure("unfreeze", accountID, err)
		return nil, err
	}
	if changed {
		e.publish(ctx, domain.EventAccountUnfrozen, acc, nil, actorID)
	}
	return acc, nil
}

// SetLimits 調整餘額上下限，目前餘額必須仍落在新範圍內
func (e *Engine) SetLimits(ctx context.Context, accountID uuid.UUID, limits domain.Limits) (*domain.Account, error) {
	return e.setLimits(ctx, accountID, limits, "")
}

func (e *Engine) setLimits(ctx context.Context, accountID uuid.UUID, limits domain.Limits, actorID string) (acc *domain.Account, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("set_limits", start, err) }()

	if err := limits.Validate(); err != nil {
		return nil, err
	}
	acc, _, err = e.store.Mutate(ctx, accountID, func(acc *domain.Account) (*domain.Transaction, error) {
		return nil, acc.SetLimits(limits, e.nextTimestamp(acc))
	})
	if err != nil {
		e.logFailure("set_limits", accountID, err)
		return nil, err
	}
	e.publish(ctx, domain.EventAccountLimitsChanged, acc, nil, actorID)
	return acc, nil
}

// HasSufficientBalance 餘額是否足夠且帳戶未凍結
// 僅供參考：檢查與後續扣款之間餘額可能改變，以 Debit 的結果為準
func (e *Engine) HasSufficientBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return false, err
	}
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return !acc.Frozen && acc.Balance.GreaterThanOrEqual(amount), nil
}

// OpenAccount 取得使用者的帳戶，第一次存取時建立
func (e *Engine) OpenAccount(ctx context.Context, userID string) (*domain.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrUserNotFound)
	}

	acc, err := e.store.GetAccountByUser(ctx, userID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	if e.directory != nil {
		exists, err := e.directory.Exists(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("check user %s: %w", userID, err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
	}

	now := e.clock().UTC().Truncate(time.Microsecond)
	acc, err = e.store.GetOrCreateAccount(ctx, domain.NewAccount(userID, e.defaultLimits, now))
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("open account failed")
		return nil, err
	}
	e.logger.Debug().Str("user_id", userID).Str("account_id", acc.ID.String()).Msg("account opened")
	return acc, nil
}

// AccountForUser 查詢使用者的帳戶，不會建立
func (e *Engine) AccountForUser(ctx context.Context, userID string) (*domain.Account, error) {
	return e.store.GetAccountByUser(ctx, userID)
}

// nextTimestamp 同一帳戶的異動時間嚴格遞增 (微秒精度，對應資料庫 DATETIME(6))
func (e *Engine) nextTimestamp(acc *domain.Account) time.Time {
	now := e.clock().UTC().Truncate(time.Microsecond)
	if !now.After(acc.UpdatedAt) {
		now = acc.UpdatedAt.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

func (e *Engine) logFailure(op string, accountID uuid.UUID, err error) {
	var event *zerolog.Event
	switch Outcome(err) {
	case "rejected":
		event = e.logger.Debug()
	case "timeout":
		event = e.logger.Warn()
	default:
		event = e.logger.Error()
	}
	event.Err(err).Str("op", op).Str("account_id", accountID.String()).Msg("mutation failed")
}

// publish 交易已提交，事件發布失敗只記錄不回傳
func (e *Engine) publish(ctx context.Context, typ domain.EventType, acc *domain.Account, tran *domain.Transaction, actorID string) {
	if e.publisher == nil {
		return
	}
	event := domain.Event{
		ID:          uuid.New(),
		Type:        typ,
		AccountID:   acc.ID,
		UserID:      acc.UserID,
		ActorID:     actorID,
		Account:     acc.Clone(),
		Transaction: tran,
		OccurredAt:  acc.UpdatedAt,
	}
	err := e.publisher.Publish(context.WithoutCancel(ctx), event)
	e.metrics.event(typ, err)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("event_type", string(typ)).
			Str("account_id", acc.ID.String()).
			Msg("publish event failed")
	}
}
