package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// accountRow 對應資料庫的 wallet_accounts 表
type accountRow struct {
	ID           string              `gorm:"primaryKey;type:char(36)"`
	UserID       string              `gorm:"type:varchar(64);uniqueIndex"`
	Balance      decimal.Decimal     `gorm:"type:decimal(20,4);not null;index"`
	TotalCredits decimal.Decimal     `gorm:"type:decimal(20,4);not null"`
	TotalDebits  decimal.Decimal     `gorm:"type:decimal(20,4);not null"`
	MinBalance   decimal.Decimal     `gorm:"type:decimal(20,4);not null"`
	MaxBalance   decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Frozen       bool                `gorm:"not null"`
	FrozenReason string              `gorm:"type:varchar(255)"`
	FrozenBy     string              `gorm:"type:varchar(64)"`
	FrozenAt     *time.Time          `gorm:"type:datetime(6)"`
	LastTopUp    *time.Time          `gorm:"type:datetime(6)"`
	Version      uint64              `gorm:"not null"`
	CreatedAt    time.Time           `gorm:"type:datetime(6);autoCreateTime:false"`
	UpdatedAt    time.Time           `gorm:"type:datetime(6);autoUpdateTime:false"`
}

func (*accountRow) TableName() string {
	return "wallet_accounts"
}

// transactionRow 對應資料庫的 wallet_transactions 表 (只新增不修改)
type transactionRow struct {
	ID            string          `gorm:"primaryKey;type:char(36)"`
	AccountID     string          `gorm:"type:char(36);uniqueIndex:idx_account_sequence,priority:1;index:idx_account_created,priority:1"`
	Sequence      uint64          `gorm:"uniqueIndex:idx_account_sequence,priority:2"`
	Type          uint8           `gorm:"type:tinyint unsigned;not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Description   string          `gorm:"type:varchar(255)"`
	Reference     string          `gorm:"type:varchar(128);index"`
	ReferenceType string          `gorm:"type:varchar(64);index"`
	Metadata      []byte          `gorm:"type:json"`
	CreatedAt     time.Time       `gorm:"type:datetime(6);autoCreateTime:false;index:idx_account_created,priority:2"`
}

func (*transactionRow) TableName() string {
	return "wallet_transactions"
}

// userRow 對應外部使用者目錄的 users 表 (唯讀)
type userRow struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

func (*userRow) TableName() string {
	return "users"
}

func newAccountRow(acc *domain.Account) accountRow {
	row := accountRow{
		ID:           acc.ID.String(),
		UserID:       acc.UserID,
		Balance:      acc.Balance,
		TotalCredits: acc.TotalCredits,
		TotalDebits:  acc.TotalDebits,
		MinBalance:   acc.MinBalance,
		Frozen:       acc.Frozen,
		FrozenReason: acc.FrozenReason,
		FrozenBy:     acc.FrozenBy,
		FrozenAt:     acc.FrozenAt,
		LastTopUp:    acc.LastTopUp,
		Version:      acc.Version,
		CreatedAt:    acc.CreatedAt,
		UpdatedAt:    acc.UpdatedAt,
	}
	if acc.MaxBalance != nil {
		row.MaxBalance = decimal.NewNullDecimal(*acc.MaxBalance)
	}
	return row
}

func (r *accountRow) toDomain() (*domain.Account, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse account id %q: %w", r.ID, err)
	}
	acc := &domain.Account{
		ID:           id,
		UserID:       r.UserID,
		Balance:      r.Balance,
		TotalCredits: r.TotalCredits,
		TotalDebits:  r.TotalDebits,
		MinBalance:   r.MinBalance,
		Frozen:       r.Frozen,
		FrozenReason: r.FrozenReason,
		FrozenBy:     r.FrozenBy,
		FrozenAt:     utc(r.FrozenAt),
		LastTopUp:    utc(r.LastTopUp),
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.MaxBalance.Valid {
		maxBalance := r.MaxBalance.Decimal
		acc.MaxBalance = &maxBalance
	}
	return acc, nil
}

// accountColumns 帳戶異動時要更新的欄位
// 使用 map 才能把 false / NULL 寫回去
func accountColumns(acc *domain.Account) map[string]any {
	row := newAccountRow(acc)
	return map[string]any{
		"balance":       row.Balance,
		"total_credits": row.TotalCredits,
		"total_debits":  row.TotalDebits,
		"min_balance":   row.MinBalance,
		"max_balance":   row.MaxBalance,
		"frozen":        row.Frozen,
		"frozen_reason": row.FrozenReason,
		"frozen_by":     row.FrozenBy,
		"frozen_at":     row.FrozenAt,
		"last_top_up":   row.LastTopUp,
		"version":       row.Version,
		"updated_at":    row.UpdatedAt,
	}
}

func newTransactionRow(t *domain.Transaction) (transactionRow, error) {
	row := transactionRow{
		ID:            t.ID.String(),
		AccountID:     t.AccountID.String(),
		Sequence:      t.Sequence,
		Type:          uint8(t.Type),
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Description:   t.Description,
		Reference:     t.Reference,
		ReferenceType: t.ReferenceType,
		CreatedAt:     t.CreatedAt,
	}
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return row, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
		}
		row.Metadata = raw
	}
	return row, nil
}

func (r *transactionRow) toDomain() (domain.Transaction, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse transaction id %q: %w", r.ID, err)
	}
	accountID, err := uuid.Parse(r.AccountID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse account id %q: %w", r.AccountID, err)
	}
	t := domain.Transaction{
		ID:            id,
		AccountID:     accountID,
		Sequence:      r.Sequence,
		Type:          domain.TransactionType(r.Type),
		Amount:        r.Amount,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Description:   r.Description,
		Reference:     r.Reference,
		ReferenceType: r.ReferenceType,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &t.Metadata); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
	}
	return t, nil
}

func (u *userRow) toDomain() domain.UserSummary {
	return domain.UserSummary{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
