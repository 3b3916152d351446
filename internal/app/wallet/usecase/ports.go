package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// MutateFunc 在持有帳戶鎖的情況下執行
// acc 是目前狀態的副本，可以直接修改；回傳非 nil 的交易會與帳戶一起寫入
// 回傳 error 時 store 不得留下任何變更
// 沒有交易且 acc.Version 未改變時視為無異動，store 不需寫入
type MutateFunc func(acc *domain.Account) (*domain.Transaction, error)

// AccountStore 帳戶狀態的持久化
type AccountStore interface {
	// GetOrCreateAccount 依 proto.UserID 取得帳戶，不存在時以 proto 建立
	// 同一個 userID 併發呼叫只會建立一個帳戶
	GetOrCreateAccount(ctx context.Context, proto *domain.Account) (*domain.Account, error)
	// GetAccount 依帳戶 ID 取得帳戶，不存在回傳 domain.ErrAccountNotFound
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// GetAccountByUser 依使用者 ID 取得帳戶，不存在回傳 domain.ErrAccountNotFound
	GetAccountByUser(ctx context.Context, userID string) (*domain.Account, error)
	// AccountsByUsers 批次查詢，沒有帳戶的使用者不會出現在結果中
	AccountsByUsers(ctx context.Context, userIDs []string) (map[string]*domain.Account, error)
	// Mutate 對單一帳戶做「讀取-驗證-寫入-追加流水」，同帳戶之間線性化
	// 無法在時限內取得鎖時回傳 domain.ErrOperationTimeout
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Account, *domain.Transaction, error)
}

// TransactionLedger 只追加的流水帳
type TransactionLedger interface {
	// ListTransactions 新到舊分頁查詢，並回傳總筆數
	ListTransactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, int64, error)
	// CountByType 各類型交易筆數
	CountByType(ctx context.Context, accountID uuid.UUID) (domain.TypeCounts, error)
}

// AnalyticsStore 全站統計 (唯讀)
type AnalyticsStore interface {
	AccountCounts(ctx context.Context) (domain.AccountCounts, error)
	TransactionTotals(ctx context.Context, filter domain.TransactionFilter) ([]domain.TypeTotal, error)
	// TopAccountsByBalance 餘額大於 0 的帳戶，依餘額由高到低
	TopAccountsByBalance(ctx context.Context, limit int) ([]*domain.Account, error)
	// RecentTransactions 符合條件的最新流水，新到舊
	RecentTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.OwnedTransaction, error)
	// DailyVolume 依 UTC 日期彙總 [from, to] 之間的流水，只回傳有交易的日期，日期遞增
	DailyVolume(ctx context.Context, from, to time.Time) ([]domain.DailyVolume, error)
}

// Store 帳務儲存層，由 memory / mysql / postgres adapter 實作
type Store interface {
	AccountStore
	TransactionLedger
	AnalyticsStore
}

// UserDirectory 外部使用者目錄 (唯讀)
type UserDirectory interface {
	// Exists 使用者是否存在
	Exists(ctx context.Context, userID string) (bool, error)
	// Search 依姓名、Email、電話搜尋，最多 limit 筆
	Search(ctx context.Context, term string, limit int) ([]domain.UserSummary, error)
	// Lookup 批次查詢，找不到的使用者不會出現在結果中
	Lookup(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error)
}

// EventPublisher 事件發布 (Kafka / NATS)
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
