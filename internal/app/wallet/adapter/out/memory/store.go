package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/keylock"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

const (
	opOpenAccount = "account"
	opPost        = "post"

	DefaultLockTimeout = 5 * time.Second
)

// walRecord WAL 中的一筆紀錄
// 每筆都帶完整的帳戶狀態，重播時直接覆蓋，不需要重新計算
type walRecord struct {
	Op          string              `json:"op"`
	Account     *domain.Account     `json:"account"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// Store 記憶體帳本
//
// 結構:
//
//	accounts: 帳戶資料 Map
//	mu: 保護 Map 本身，只在讀取與發布新狀態時短暫持有
//	locks: 每個帳戶一把鎖，序列化同帳戶的「讀取-驗證-寫入」
//	wal: Write-Ahead Log，先落盤再更新記憶體
type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*domain.Account
	byUser       map[string]uuid.UUID
	transactions map[uuid.UUID][]domain.Transaction

	locks    *keylock.Locker[uuid.UUID]
	createMu sync.Mutex

	wal         *wal.WAL
	lockTimeout time.Duration
	logger      zerolog.Logger
}

// Option Store 的選項
type Option func(*Store)

// WithLockTimeout 等待帳戶鎖的上限
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLogger 設定 logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore 建立記憶體帳本並從 WAL 恢復狀態
//
// 參數:
//
//	w: Write-Ahead Log 實例，nil 代表不持久化 (測試用)
//
// 回傳:
//
//	*Store: Store 實例
//	error: WAL 恢復失敗
func NewStore(w *wal.WAL, opts ...Option) (*Store, error) {
	s := &Store{
		accounts:     make(map[uuid.UUID]*domain.Account),
		byUser:       make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID][]domain.Transaction),
		locks:        keylock.New[uuid.UUID](),
		wal:          w,
		lockTimeout:  DefaultLockTimeout,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// recoverFromWAL 重播 WAL，只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	err := s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		if rec.Account == nil {
			return fmt.Errorf("wal record %q without account", rec.Op)
		}
		switch rec.Op {
		case opOpenAccount, opPost:
			s.accounts[rec.Account.ID] = rec.Account
			s.byUser[rec.Account.UserID] = rec.Account.ID
		default:
			return fmt.Errorf("unknown wal op %q", rec.Op)
		}
		if rec.Transaction != nil {
			s.transactions[rec.Account.ID] = append(s.transactions[rec.Account.ID], *rec.Transaction)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Int("accounts", len(s.accounts)).
		Int("records", s.wal.Records()).
		Msg("memory store recovered from wal")
	return nil
}

func (s *Store) persist(rec walRecord) error {
	if s.wal == nil {
		return nil
	}
	if err := s.wal.Write(rec); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWALWriteFailed, err)
	}
	return nil
}

// GetOrCreateAccount 同一個 userID 只會建立一個帳戶
func (s *Store) GetOrCreateAccount(ctx context.Context, proto *domain.Account) (*domain.Account, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	s.mu.RLock()
	id, ok := s.byUser[proto.UserID]
	if ok {
		acc := s.accounts[id].Clone()
		s.mu.RUnlock()
		return acc, nil
	}
	s.mu.RUnlock()

	acc := proto.Clone()
	if err := s.persist(walRecord{Op: opOpenAccount, Account: acc}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.accounts[acc.ID] = acc
	s.byUser[acc.UserID] = acc.ID
	s.mu.Unlock()
	return acc.Clone(), nil
}

// GetAccount 依帳戶 ID 查詢
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// GetAccountByUser 依使用者 ID 查詢
func (s *Store) GetAccountByUser(ctx context.Context, userID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return s.accounts[id].Clone(), nil
}

// AccountsByUsers 批次查詢
func (s *Store) AccountsByUsers(ctx context.Context, userIDs []string) (map[string]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.Account, len(userIDs))
	for _, userID := range userIDs {
		if id, ok := s.byUser[userID]; ok {
			out[userID] = s.accounts[id].Clone()
		}
	}
	return out, nil
}

// Mutate 持有帳戶鎖執行 fn，WAL 落盤後才更新記憶體
func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn usecase.MutateFunc) (*domain.Account, *domain.Transaction, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locks.Lock(lockCtx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("%w: account %s", domain.ErrOperationTimeout, id)
		}
		return nil, nil, err
	}
	defer unlock()

	s.mu.RLock()
	current, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrAccountNotFound
	}

	acc := current.Clone()
	version := acc.Version
	tran, err := fn(acc)
	if err != nil {
		return nil, nil, err
	}
	if tran == nil && acc.Version == version {
		return current.Clone(), nil, nil
	}

	if err := s.persist(walRecord{Op: opPost, Account: acc, Transaction: tran}); err != nil {
		s.logger.Error().Err(err).Str("account_id", id.String()).Msg("wal write failed")
		return nil, nil, err
	}

	s.mu.Lock()
	s.accounts[id] = acc
	if tran != nil {
		stored := *tran
		stored.Metadata = tran.Metadata.Clone()
		s.transactions[id] = append(s.transactions[id], stored)
	}
	s.mu.Unlock()
	return acc.Clone(), tran, nil
}

// ListTransactions 新到舊分頁
func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.transactions[accountID]
	total := len(all)
	if offset < 0 || offset >= total || limit <= 0 {
		return []domain.Transaction{}, int64(total), nil
	}
	out := make([]domain.Transaction, 0, min(limit, max(total-offset, 0)))
	// slice 依寫入順序 (舊到新) 排列，從尾端往前取
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		t := all[i]
		t.Metadata = t.Metadata.Clone()
		out = append(out, t)
	}
	return out, int64(total), nil
}

// CountByType 各類型交易筆數
func (s *Store) CountByType(ctx context.Context, accountID uuid.UUID) (domain.TypeCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts domain.TypeCounts
	for _, t := range s.transactions[accountID] {
		counts.Add(t.Type, 1)
	}
	return counts, nil
}

// AccountCounts 帳戶總覽，active = 未凍結且餘額大於 0
func (s *Store) AccountCounts(ctx context.Context) (domain.AccountCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.AccountCounts{TotalBalance: decimal.Zero}
	for _, acc := range s.accounts {
		out.TotalAccounts++
		if acc.Frozen {
			out.FrozenAccounts++
		} else if acc.Balance.IsPositive() {
			out.ActiveAccounts++
		}
		out.TotalBalance = out.TotalBalance.Add(acc.Balance)
	}
	return out, nil
}

// TransactionTotals 依類型彙總
func (s *Store) TransactionTotals(ctx context.Context, filter domain.TransactionFilter) ([]domain.TypeTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := make(map[domain.TransactionType]*domain.TypeTotal)
	for _, trans := range s.transactions {
		for i := range trans {
			t := &trans[i]
			if !filter.Match(t) {
				continue
			}
			total, ok := byType[t.Type]
			if !ok {
				total = &domain.TypeTotal{Type: t.Type, Sum: decimal.Zero}
				byType[t.Type] = total
			}
			total.Count++
			total.Sum = total.Sum.Add(t.Amount)
		}
	}
	out := make([]domain.TypeTotal, 0, len(byType))
	for _, typ := range domain.TransactionTypes {
		if total, ok := byType[typ]; ok {
			out = append(out, *total)
		}
	}
	return out, nil
}

// TopAccountsByBalance 餘額大於 0 的帳戶，依餘額由高到低
func (s *Store) TopAccountsByBalance(ctx context.Context, limit int) ([]*domain.Account, error) {
	s.mu.RLock()
	out := make([]*domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if acc.Balance.IsPositive() {
			out = append(out, acc.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Account) int {
		if c := b.Balance.Cmp(a.Balance); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentTransactions 最新的流水，附帶帳戶擁有者
func (s *Store) RecentTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.OwnedTransaction, error) {
	s.mu.RLock()
	var out []domain.OwnedTransaction
	for accountID, trans := range s.transactions {
		userID := s.accounts[accountID].UserID
		for i := range trans {
			if filter.Match(&trans[i]) {
				out = append(out, domain.OwnedTransaction{Transaction: trans[i], UserID: userID})
			}
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.OwnedTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DailyVolume 依 UTC 日期彙總
func (s *Store) DailyVolume(ctx context.Context, from, to time.Time) ([]domain.DailyVolume, error) {
	s.mu.RLock()
	byDay := make(map[time.Time]*domain.DailyVolume)
	for _, trans := range s.transactions {
		for _, t := range trans {
			if t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
				continue
			}
			day := t.CreatedAt.UTC().Truncate(24 * time.Hour)
			v, ok := byDay[day]
			if !ok {
				v = &domain.DailyVolume{Date: day, Credits: decimal.Zero, Debits: decimal.Zero, Refunds: decimal.Zero}
				byDay[day] = v
			}
			switch t.Type {
			case domain.TransactionTypeCredit:
				v.Credits = v.Credits.Add(t.Amount)
			case domain.TransactionTypeDebit:
				v.Debits = v.Debits.Add(t.Amount)
			case domain.TransactionTypeRefund:
				v.Refunds = v.Refunds.Add(t.Amount)
			}
			v.Count++
		}
	}
	s.mu.RUnlock()

	out := make([]domain.DailyVolume, 0, len(byDay))
	for _, v := range byDay {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b domain.DailyVolume) int {
		return cmp.Compare(a.Date.Unix(), b.Date.Unix())
	})
	return out, nil
}

var _ usecase.Store = (*Store)(nil)
