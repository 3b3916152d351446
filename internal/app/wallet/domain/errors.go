package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount 金額必須為正數
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAccountFrozen 帳戶已凍結 (實際回傳 *FrozenError，可用 errors.Is 比對)
	ErrAccountFrozen = errors.New("account is frozen")

	// ErrInsufficientBalance 餘額不足 (扣款後會低於下限)
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMaxBalanceExceeded 入帳後會超過餘額上限
	ErrMaxBalanceExceeded = errors.New("max balance exceeded")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrOperationTimeout 無法在時限內取得帳戶鎖 / 資料庫鎖
	ErrOperationTimeout = errors.New("operation timed out waiting for account lock")

	// ErrUserNotFound 使用者目錄中不存在該使用者
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidLimits 上下限設定不合法
	ErrInvalidLimits = errors.New("invalid balance limits")

	// ErrInvalidMetadata metadata 不符合 referenceType 的約定
	ErrInvalidMetadata = errors.New("invalid transaction metadata")

	// ErrInvalidSearchTerm 搜尋字串太短
	ErrInvalidSearchTerm = errors.New("search term must be at least 2 characters")

	// ErrMissingActor 管理操作缺少操作者 ID
	ErrMissingActor = errors.New("actor id is required")

	// ErrInvalidTransactionType 不支援的交易類型
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrWALWriteFailed WAL 寫入失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)

// FrozenError 帳戶凍結錯誤，帶有凍結原因
type FrozenError struct {
	Reason string
}

func (e *FrozenError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no reason provided"
	}
	return fmt.Sprintf("%s: %s", ErrAccountFrozen, reason)
}

// Is 讓 errors.Is(err, ErrAccountFrozen) 成立
func (e *FrozenError) Is(target error) bool {
	return target == ErrAccountFrozen
}

// IsBusinessRule 是否為業務規則拒絕 (重試也不會成功)
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountFrozen) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrMaxBalanceExceeded) ||
		errors.Is(err, ErrInvalidLimits) ||
		errors.Is(err, ErrInvalidMetadata) ||
		errors.Is(err, ErrInvalidTransactionType)
}
