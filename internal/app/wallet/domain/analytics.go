package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserSummary 使用者目錄提供的唯讀資料
type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// DisplayName 顯示名稱 (名 + 姓)
func (u UserSummary) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// TypeCounts 各類型交易筆數
type TypeCounts struct {
	Credits int64 `json:"credits"`
	Debits  int64 `json:"debits"`
	Refunds int64 `json:"refunds"`
	Total   int64 `json:"total"`
}

// Add 累加某類型的筆數
func (c *TypeCounts) Add(t TransactionType, n int64) {
	switch t {
	case TransactionTypeCredit:
		c.Credits += n
	case TransactionTypeDebit:
		c.Debits += n
	case TransactionTypeRefund:
		c.Refunds += n
	default:
		return
	}
	c.Total += n
}

// AccountStats 單一帳戶統計
type AccountStats struct {
	AccountID    uuid.UUID       `json:"accountId"`
	Balance      decimal.Decimal `json:"balance"`
	TotalCredits decimal.Decimal `json:"totalCredits"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
	NetBalance   decimal.Decimal `json:"netBalance"`
	Frozen       bool            `json:"frozen"`
	FrozenReason string          `json:"frozenReason,omitempty"`
	LastTopUp    *time.Time      `json:"lastTopUp,omitempty"`
	Transactions TypeCounts      `json:"transactions"`
}

// HistoryPage 分頁後的交易紀錄 (新到舊)
type HistoryPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	TotalPages   int           `json:"totalPages"`
}

// AccountSearchResult 搜尋結果，尚未開戶的使用者 Account 為 nil
type AccountSearchResult struct {
	User    UserSummary `json:"user"`
	Account *Account    `json:"account,omitempty"`
}

// TransactionFilter 統計查詢條件，零值代表不限制
type TransactionFilter struct {
	From           *time.Time
	To             *time.Time
	Types          []TransactionType
	ReferenceTypes []string
}

// Match 判斷交易是否符合條件 (記憶體實作使用)
func (f TransactionFilter) Match(t *Transaction) bool {
	if f.From != nil && t.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && t.CreatedAt.After(*f.To) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
		return false
	}
	if len(f.ReferenceTypes) > 0 && !slices.Contains(f.ReferenceTypes, t.ReferenceType) {
		return false
	}
	return true
}

// TypeTotal 某類型交易的筆數與總額
type TypeTotal struct {
	Type  TransactionType
	Count int64
	Sum   decimal.Decimal
}

// AccountCounts 帳戶總覽
type AccountCounts struct {
	TotalAccounts  int64           `json:"totalAccounts"`
	ActiveAccounts int64           `json:"activeAccounts"`
	FrozenAccounts int64           `json:"frozenAccounts"`
	TotalBalance   decimal.Decimal `json:"totalBalance"`
}

// TransactionTotals 交易金額彙總
type TransactionTotals struct {
	TotalCredits decimal.Decimal `json:"totalCredits"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
	TotalRefunds decimal.Decimal `json:"totalRefunds"`
	NetFlow      decimal.Decimal `json:"netFlow"`
	Counts       TypeCounts      `json:"counts"`
}

// NewTransactionTotals 由各類型彙總計算總額與淨流量
func NewTransactionTotals(totals []TypeTotal) TransactionTotals {
	out := TransactionTotals{
		TotalCredits: decimal.Zero,
		TotalDebits:  decimal.Zero,
		TotalRefunds: decimal.Zero,
	}
	for _, t := range totals {
		switch t.Type {
		case TransactionTypeCredit:
			out.TotalCredits = out.TotalCredits.Add(t.Sum)
		case TransactionTypeDebit:
			out.TotalDebits = out.TotalDebits.Add(t.Sum)
		case TransactionTypeRefund:
			out.TotalRefunds = out.TotalRefunds.Add(t.Sum)
		}
		out.Counts.Add(t.Type, t.Count)
	}
	out.NetFlow = out.TotalCredits.Sub(out.TotalDebits)
	return out
}

// TopAccount 餘額排行
type TopAccount struct {
	AccountID    uuid.UUID       `json:"accountId"`
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	Email        string          `json:"email"`
	Balance      decimal.Decimal `json:"balance"`
	TotalCredits decimal.Decimal `json:"totalCredits"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
}

// OwnedTransaction 附帶帳戶擁有者的流水
type OwnedTransaction struct {
	Transaction
	UserID string `json:"userId"`
}

// RecentTransaction 最近交易
type RecentTransaction struct {
	ID          uuid.UUID       `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	UserID      string          `json:"userId"`
	UserName    string          `json:"userName"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// DailyVolume 每日 (UTC) 交易量
type DailyVolume struct {
	Date    time.Time       `json:"date"`
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
	Refunds decimal.Decimal `json:"refunds"`
	Count   int64           `json:"count"`
}

// UsageAnalytics 全站錢包使用統計
type UsageAnalytics struct {
	Summary            AccountCounts       `json:"summary"`
	Transactions       TransactionTotals   `json:"transactions"`
	TopAccounts        []TopAccount        `json:"topAccounts"`
	RecentTransactions []RecentTransaction `json:"recentTransactions"`
	DailyVolume        []DailyVolume       `json:"dailyVolume"`
}

// PaymentUsage 以錢包付款 (PaymentReferenceTypes 的扣款) 的總額與筆數
type PaymentUsage struct {
	Total decimal.Decimal `json:"total"`
	Count int64           `json:"count"`
}
