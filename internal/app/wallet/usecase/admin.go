package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// AdjustRequest 管理員手動調整餘額
type AdjustRequest struct {
	// Type 只接受 CREDIT 或 DEBIT
	Type     domain.TransactionType
	Amount   decimal.Decimal
	Reason   string
	Metadata domain.Metadata
}

// AdminControl 管理員操作
// 權限由呼叫端檢查，這裡只負責記錄操作者 (actorId) 並委派給 Engine
// 管理操作不會建立帳戶，帳戶不存在時回傳 domain.ErrAccountNotFound
type AdminControl struct {
	engine *Engine
	logger zerolog.Logger
	clock  func() int64
}

func NewAdminControl(engine *Engine, logger zerolog.Logger) *AdminControl {
	return &AdminControl{
		engine: engine,
		logger: logger.With().Str("component", "admin_control").Logger(),
		clock:  func() int64 { return engine.clock().UnixMilli() },
	}
}

// Freeze 凍結帳戶
func (a *AdminControl) Freeze(ctx context.Context, actorID string, accountID uuid.UUID, reason string) (*domain.Account, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	acc, err := a.engine.Freeze(ctx, accountID, reason, actorID)
	a.audit("freeze", actorID, accountID, err).Str("reason", reason).Msg("admin action")
	return acc, err
}

// Unfreeze 解除凍結
func (a *AdminControl) Unfreeze(ctx context.Context, actorID string, accountID uuid.UUID) (*domain.Account, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	acc, err := a.engine.unfreeze(ctx, accountID, actorID)
	a.audit("unfreeze", actorID, accountID, err).Msg("admin action")
	return acc, err
}

// Credit 管理員入帳，referenceType 預設 ADMIN_ADJUSTMENT
func (a *AdminControl) Credit(ctx context.Context, actorID string, accountID uuid.UUID, req MutationRequest) (*MutationResult, error) {
	return a.post(ctx, "admin_credit", actorID, accountID, domain.TransactionTypeCredit, req, domain.ReferenceTypeAdminAdjustment)
}

// Debit 管理員扣款，referenceType 預設 ADMIN_ADJUSTMENT
func (a *AdminControl) Debit(ctx context.Context, actorID string, accountID uuid.UUID, req MutationRequest) (*MutationResult, error) {
	return a.post(ctx, "admin_debit", actorID, accountID, domain.TransactionTypeDebit, req, domain.ReferenceTypeAdminAdjustment)
}

// Refund 管理員退款，referenceType 預設 REFUND
func (a *AdminControl) Refund(ctx context.Context, actorID string, accountID uuid.UUID, req MutationRequest) (*MutationResult, error) {
	return a.post(ctx, "admin_refund", actorID, accountID, domain.TransactionTypeRefund, req, domain.ReferenceTypeRefund)
}

// Adjust 手動調整餘額，原因寫入描述，reference 為 ADMIN_ADJUSTMENT_<毫秒時間戳>
func (a *AdminControl) Adjust(ctx context.Context, actorID string, accountID uuid.UUID, req AdjustRequest) (*MutationResult, error) {
	if req.Type != domain.TransactionTypeCredit && req.Type != domain.TransactionTypeDebit {
		return nil, fmt.Errorf("%w: adjust supports CREDIT or DEBIT, got %s", domain.ErrInvalidTransactionType, req.Type)
	}
	return a.post(ctx, "admin_adjust", actorID, accountID, req.Type, MutationRequest{
		Amount:        req.Amount,
		Description:   req.Reason,
		Reference:     fmt.Sprintf("%s_%d", domain.ReferenceTypeAdminAdjustment, a.clock()),
		ReferenceType: domain.ReferenceTypeAdminAdjustment,
		Metadata:      req.Metadata,
	}, domain.ReferenceTypeAdminAdjustment)
}

// SetLimits 調整帳戶上下限
func (a *AdminControl) SetLimits(ctx context.Context, actorID string, accountID uuid.UUID, limits domain.Limits) (*domain.Account, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	acc, err := a.engine.setLimits(ctx, accountID, limits, actorID)
	event := a.audit("set_limits", actorID, accountID, err).Str("min_balance", limits.MinBalance.String())
	if limits.MaxBalance != nil {
		event = event.Str("max_balance", limits.MaxBalance.String())
	}
	event.Msg("admin action")
	return acc, err
}

func (a *AdminControl) post(ctx context.Context, op, actorID string, accountID uuid.UUID, typ domain.TransactionType,
	req MutationRequest, defaultRefType string) (*MutationResult, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if req.ReferenceType == "" {
		req.ReferenceType = defaultRefType
	}
	req.Metadata = req.Metadata.With(domain.MetaActorID, actorID)

	res, err := a.engine.post(ctx, strings.TrimPrefix(op, "admin_"), accountID, typ, req, actorID)
	a.audit(op, actorID, accountID, err).
		Str("amount", req.Amount.String()).
		Str("reference_type", req.ReferenceType).
		Msg("admin action")
	return res, err
}

func (a *AdminControl) audit(op, actorID string, accountID uuid.UUID, err error) *zerolog.Event {
	event := a.logger.Info()
	if err != nil {
		event = a.logger.Warn().Err(err)
	}
	return event.Str("op", op).Str("actor_id", actorID).Str("account_id", accountID.String())
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return domain.ErrMissingActor
	}
	return nil
}
