package grpc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// AccountRef 以 account_id 或 user_id 指定帳戶，兩者皆有時以 account_id 為準
type AccountRef struct {
	AccountID string `json:"account_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type OpenAccountRequest struct {
	UserID string `json:"user_id"`
}

type AccountResponse struct {
	Account *domain.Account `json:"account"`
}

type MutationRequest struct {
	AccountRef
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	Metadata      domain.Metadata `json:"metadata,omitempty"`
}

type MutationResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Account     *domain.Account     `json:"account"`
}

type HasSufficientBalanceRequest struct {
	AccountRef
	Amount decimal.Decimal `json:"amount"`
}

type HasSufficientBalanceResponse struct {
	Sufficient bool `json:"sufficient"`
}

type GetBalanceRequest struct {
	AccountRef
}

type GetBalanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

type GetTransactionHistoryRequest struct {
	AccountRef
	// Page 從 1 開始
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

type GetStatsRequest struct {
	AccountRef
}

type SearchAccountsRequest struct {
	Term string `json:"term"`
}

type SearchAccountsResponse struct {
	Results []domain.AccountSearchResult `json:"results"`
}

// AnalyticsRequest 未指定時間範圍代表全部
type AnalyticsRequest struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type AdminFreezeRequest struct {
	ActorID string `json:"actor_id"`
	AccountRef
	Reason string `json:"reason,omitempty"`
}

type AdminUnfreezeRequest struct {
	ActorID string `json:"actor_id"`
	AccountRef
}

type AdminMutationRequest struct {
	ActorID string `json:"actor_id"`
	MutationRequest
}

type AdminAdjustRequest struct {
	ActorID string `json:"actor_id"`
	AccountRef
	// Type CREDIT 或 DEBIT
	Type     domain.TransactionType `json:"type"`
	Amount   decimal.Decimal        `json:"amount"`
	Reason   string                 `json:"reason,omitempty"`
	Metadata domain.Metadata        `json:"metadata,omitempty"`
}

type AdminSetLimitsRequest struct {
	ActorID string `json:"actor_id"`
	AccountRef
	MinBalance decimal.Decimal  `json:"min_balance"`
	MaxBalance *decimal.Decimal `json:"max_balance,omitempty"`
}
