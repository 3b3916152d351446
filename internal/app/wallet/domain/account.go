package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountState 帳戶狀態
type AccountState string

const (
	AccountStateActive AccountState = "ACTIVE"
	AccountStateFrozen AccountState = "FROZEN"
)

// Limits 帳戶餘額上下限
type Limits struct {
	// MinBalance 餘額下限，允許負數 (透支)
	MinBalance decimal.Decimal `json:"minBalance"`
	// MaxBalance 餘額上限，nil 代表不設上限
	MaxBalance *decimal.Decimal `json:"maxBalance,omitempty"`
}

// Validate 檢查上下限本身是否合理
func (l Limits) Validate() error {
	if l.MaxBalance != nil && l.MinBalance.GreaterThan(*l.MaxBalance) {
		return fmt.Errorf("%w: min balance %s is greater than max balance %s",
			ErrInvalidLimits, l.MinBalance, l.MaxBalance)
	}
	return nil
}

// Account 每個使用者一個錢包帳戶
//
// 不變式:
//
//	Balance == TotalCredits - TotalDebits
//	Balance >= MinBalance
//	MaxBalance != nil 時 Balance <= *MaxBalance
type Account struct {
	ID           uuid.UUID        `json:"id"`
	UserID       string           `json:"userId"`
	Balance      decimal.Decimal  `json:"balance"`
	TotalCredits decimal.Decimal  `json:"totalCredits"`
	TotalDebits  decimal.Decimal  `json:"totalDebits"`
	MinBalance   decimal.Decimal  `json:"minBalance"`
	MaxBalance   *decimal.Decimal `json:"maxBalance,omitempty"`
	Frozen       bool             `json:"frozen"`
	FrozenReason string           `json:"frozenReason,omitempty"`
	FrozenBy     string           `json:"frozenBy,omitempty"`
	FrozenAt     *time.Time       `json:"frozenAt,omitempty"`
	LastTopUp    *time.Time       `json:"lastTopUp,omitempty"`
	// Version 每次帳戶狀態寫入 +1 (含凍結、解凍、調整上下限)
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAccount 建立一個餘額為 0 的新帳戶
func NewAccount(userID string, limits Limits, now time.Time) *Account {
	return &Account{
		ID:           uuid.New(),
		UserID:       userID,
		Balance:      decimal.Zero,
		TotalCredits: decimal.Zero,
		TotalDebits:  decimal.Zero,
		MinBalance:   limits.MinBalance,
		MaxBalance:   cloneDecimal(limits.MaxBalance),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// State 回傳帳戶目前狀態
func (a *Account) State() AccountState {
	if a.Frozen {
		return AccountStateFrozen
	}
	return AccountStateActive
}

// Limits 回傳帳戶目前的上下限
func (a *Account) Limits() Limits {
	return Limits{MinBalance: a.MinBalance, MaxBalance: cloneDecimal(a.MaxBalance)}
}

// Clone 深拷貝，避免呼叫端修改到 store 內部狀態
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.MaxBalance = cloneDecimal(a.MaxBalance)
	c.FrozenAt = cloneTime(a.FrozenAt)
	c.LastTopUp = cloneTime(a.LastTopUp)
	return &c
}

// Balanced 檢查 Balance == TotalCredits - TotalDebits
func (a *Account) Balanced() bool {
	return a.Balance.Equal(a.TotalCredits.Sub(a.TotalDebits))
}

// WithinLimits 檢查餘額是否落在上下限內
func (a *Account) WithinLimits() bool {
	if a.Balance.LessThan(a.MinBalance) {
		return false
	}
	return a.MaxBalance == nil || !a.Balance.GreaterThan(*a.MaxBalance)
}

// Apply 驗證並套用一筆餘額異動，成功時回傳異動前後餘額
// 失敗時帳戶內容完全不變
//
// 參數:
//
//	typ: 交易類型
//	amount: 金額 (必須為正數)
//	at: 異動時間
//
// 回傳:
//
//	before, after: 異動前後餘額
//	error: ErrInvalidAmount / ErrAccountFrozen / ErrInsufficientBalance / ErrMaxBalanceExceeded
func (a *Account) Apply(typ TransactionType, amount decimal.Decimal, at time.Time) (before, after decimal.Decimal, err error) {
	if err := ValidateAmount(amount); err != nil {
		return before, after, err
	}
	if !typ.Valid() {
		return before, after, fmt.Errorf("%w: %d", ErrInvalidTransactionType, uint8(typ))
	}
	if a.Frozen {
		return before, after, &FrozenError{Reason: a.FrozenReason}
	}

	before = a.Balance
	after = before.Add(typ.Delta(amount))

	if typ.IsCredit() {
		if a.MaxBalance != nil && after.GreaterThan(*a.MaxBalance) {
			return before, after, fmt.Errorf("%w: transaction would exceed maximum balance of %s",
				ErrMaxBalanceExceeded, a.MaxBalance.StringFixed(AmountScale))
		}
	} else if after.LessThan(a.MinBalance) {
		return before, after, fmt.Errorf("%w: required %s, available %s",
			ErrInsufficientBalance, amount.StringFixed(AmountScale), before.StringFixed(AmountScale))
	}

	a.Balance = after
	if typ.IsCredit() {
		a.TotalCredits = a.TotalCredits.Add(amount)
		topUp := at
		a.LastTopUp = &topUp
	} else {
		a.TotalDebits = a.TotalDebits.Add(amount)
	}
	a.touch(at)
	return before, after, nil
}

// Freeze 凍結帳戶，已凍結時覆寫原因
func (a *Account) Freeze(reason, actorID string, at time.Time) {
	frozenAt := at
	a.Frozen = true
	a.FrozenReason = reason
	a.FrozenBy = actorID
	a.FrozenAt = &frozenAt
	a.touch(at)
}

// Unfreeze 解除凍結，回傳是否真的有變更
func (a *Account) Unfreeze(at time.Time) bool {
	if !a.Frozen {
		return false
	}
	a.Frozen = false
	a.FrozenReason = ""
	a.FrozenBy = ""
	a.FrozenAt = nil
	a.touch(at)
	return true
}

// SetLimits 更新上下限，目前餘額必須仍在新範圍內
func (a *Account) SetLimits(limits Limits, at time.Time) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	if a.Balance.LessThan(limits.MinBalance) {
		return fmt.Errorf("%w: balance %s is below new min balance %s",
			ErrInvalidLimits, a.Balance, limits.MinBalance)
	}
	if limits.MaxBalance != nil && a.Balance.GreaterThan(*limits.MaxBalance) {
		return fmt.Errorf("%w: balance %s is above new max balance %s",
			ErrInvalidLimits, a.Balance, limits.MaxBalance)
	}
	a.MinBalance = limits.MinBalance
	a.MaxBalance = cloneDecimal(limits.MaxBalance)
	a.touch(at)
	return nil
}

func (a *Account) touch(at time.Time) {
	a.Version++
	a.UpdatedAt = at
}

// ValidateAmount 金額必須為正數且不超過 AmountScale 位小數
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	if !amount.Round(AmountScale).Equal(amount) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	}
	return nil
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
