package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountScale 金額精度：小數點後 4 位 (對應資料庫 DECIMAL(20,4))
const AmountScale int32 = 4

// TransactionType 交易類型
// 為了節省空間，使用 uint8 (資料庫存 tinyint / smallint)
type TransactionType uint8

const (
	// 入帳 (儲值)
	TransactionTypeCredit TransactionType = 1
	// 扣款 (購買)
	TransactionTypeDebit TransactionType = 2
	// 退款 (更正性入帳)
	TransactionTypeRefund TransactionType = 3
)

// TransactionTypes 所有合法的交易類型，依數值排序
var TransactionTypes = []TransactionType{
	TransactionTypeCredit,
	TransactionTypeDebit,
	TransactionTypeRefund,
}

// String 回傳交易類型名稱 (CREDIT / DEBIT / REFUND)
func (t TransactionType) String() string {
	switch t {
	case TransactionTypeCredit:
		return "CREDIT"
	case TransactionTypeDebit:
		return "DEBIT"
	case TransactionTypeRefund:
		return "REFUND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ParseTransactionType 將名稱轉回交易類型
func ParseTransactionType(s string) (TransactionType, error) {
	switch s {
	case "CREDIT":
		return TransactionTypeCredit, nil
	case "DEBIT":
		return TransactionTypeDebit, nil
	case "REFUND":
		return TransactionTypeRefund, nil
	}
	return 0, fmt.Errorf("unknown transaction type %q", s)
}

// Valid 是否為已定義的交易類型
func (t TransactionType) Valid() bool {
	return t >= TransactionTypeCredit && t <= TransactionTypeRefund
}

// IsCredit 是否為增加餘額的類型 (CREDIT、REFUND)
func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeCredit || t == TransactionTypeRefund
}

// Delta 回傳此類型交易對餘額造成的變動量
// amount 一律為正數，方向只由類型決定
func (t TransactionType) Delta(amount decimal.Decimal) decimal.Decimal {
	if t.IsCredit() {
		return amount
	}
	return amount.Neg()
}

func (t TransactionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid transaction type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *TransactionType) UnmarshalText(text []byte) error {
	parsed, err := ParseTransactionType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Transaction 帳務流水，只新增不修改
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"accountId"`
	// Sequence: 產生這筆流水時的帳戶版本號，同一帳戶內嚴格遞增
	Sequence      uint64          `json:"sequence"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Description   string          `json:"description"`
	// Reference: 呼叫端提供的關聯編號 (例如訂單編號)，引擎不做去重
	Reference     string    `json:"reference,omitempty"`
	ReferenceType string    `json:"referenceType,omitempty"`
	Metadata      Metadata  `json:"metadata,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Consistent 檢查 balanceBefore/balanceAfter 是否符合類型與金額
func (t *Transaction) Consistent() bool {
	return t.Amount.IsPositive() &&
		t.BalanceBefore.Add(t.Type.Delta(t.Amount)).Equal(t.BalanceAfter)
}
