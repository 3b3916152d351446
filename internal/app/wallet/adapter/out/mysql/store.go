package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
)

const (
	// errLockWaitTimeout Lock wait timeout exceeded; try restarting transaction
	errLockWaitTimeout = 1205
	// errLockNowait NOWAIT / SKIP LOCKED 無法取得鎖
	errLockNowait = 3572
)

// errConcurrentUpdate 版本號不符，代表有人繞過列鎖修改了帳戶
var errConcurrentUpdate = errors.New("account was modified concurrently")

// Store 使用 GORM + MySQL 的帳本
// 每筆異動是一個資料庫交易：SELECT ... FOR UPDATE 鎖住帳戶列，驗證後更新帳戶並新增流水
type Store struct {
	client  *mysql.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Option Store 的選項
type Option func(*Store)

// WithTimeout 單筆異動 (含等待列鎖) 的時間上限
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithLogger 設定 logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(client *mysql.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 建立 / 更新資料表
func (s *Store) Migrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&accountRow{}, &transactionRow{})
}

// GetOrCreateAccount 以 user_id 唯一索引保證同一使用者只有一個帳戶
func (s *Store) GetOrCreateAccount(ctx context.Context, proto *domain.Account) (*domain.Account, error) {
	row := newAccountRow(proto)
	err := s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, classify(err)
	}
	return s.GetAccountByUser(ctx, proto.UserID)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.findAccount(ctx, "id = ?", id.String())
}

func (s *Store) GetAccountByUser(ctx context.Context, userID string) (*domain.Account, error) {
	return s.findAccount(ctx, "user_id = ?", userID)
}

func (s *Store) findAccount(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var row accountRow
	err := s.client.DB().WithContext(ctx).Where(query, arg).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return row.toDomain()
}

func (s *Store) AccountsByUsers(ctx context.Context, userIDs []string) (map[string]*domain.Account, error) {
	out := make(map[string]*domain.Account, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []accountRow
	if err := s.client.DB().WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	for i := range rows {
		acc, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out[acc.UserID] = acc
	}
	return out, nil
}

// Mutate 悲觀鎖：在同一個資料庫交易內鎖帳戶、驗證、更新帳戶、新增流水
func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn usecase.MutateFunc) (*domain.Account, *domain.Transaction, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		acc  *domain.Account
		tran *domain.Transaction
	)
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 取得鎖定帳號 悲觀鎖
		var row accountRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id.String()).
			Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}

		acc, err = row.toDomain()
		if err != nil {
			return err
		}
		version := acc.Version
		tran, err = fn(acc)
		if err != nil {
			return err
		}
		if tran == nil && acc.Version == version {
			return nil
		}

		// 更新資料庫
		res := tx.Model(&accountRow{}).
			Where("id = ? AND version = ?", id.String(), version).
			UpdateColumns(accountColumns(acc))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errConcurrentUpdate
		}

		// 建立交易紀錄
		if tran != nil {
			tranRow, err := newTransactionRow(tran)
			if err != nil {
				return err
			}
			if err := tx.Create(&tranRow).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		if !domain.IsBusinessRule(err) && !errors.Is(err, domain.ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("account_id", id.String()).Msg("mysql mutate failed")
		}
		return nil, nil, err
	}
	return acc, tran, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, int64, error) {
	db := s.client.DB().WithContext(ctx)

	var total int64
	if err := db.Model(&transactionRow{}).Where("account_id = ?", accountID.String()).Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	var rows []transactionRow
	err := db.Where("account_id = ?", accountID.String()).
		Order("created_at DESC").
		Order("sequence DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, classify(err)
	}
	out, err := toTransactions(rows)
	return out, total, err
}

func (s *Store) CountByType(ctx context.Context, accountID uuid.UUID) (domain.TypeCounts, error) {
	var rows []struct {
		Type  uint8
		Count int64
	}
	err := s.client.DB().WithContext(ctx).
		Model(&transactionRow{}).
		Select("type, COUNT(*) AS count").
		Where("account_id = ?", accountID.String()).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return domain.TypeCounts{}, classify(err)
	}
	var counts domain.TypeCounts
	for _, r := range rows {
		counts.Add(domain.TransactionType(r.Type), r.Count)
	}
	return counts, nil
}

// AccountCounts active = 未凍結且餘額大於 0
func (s *Store) AccountCounts(ctx context.Context) (domain.AccountCounts, error) {
	var out domain.AccountCounts
	err := s.client.DB().WithContext(ctx).
		Model(&accountRow{}).
		Select("COUNT(*) AS total_accounts, " +
			"COALESCE(SUM(CASE WHEN frozen = FALSE AND balance > 0 THEN 1 ELSE 0 END), 0) AS active_accounts, " +
			"COALESCE(SUM(CASE WHEN frozen = TRUE THEN 1 ELSE 0 END), 0) AS frozen_accounts, " +
			"COALESCE(SUM(balance), 0) AS total_balance").
		Scan(&out).Error
	if err != nil {
		return domain.AccountCounts{}, classify(err)
	}
	return out, nil
}

func (s *Store) TransactionTotals(ctx context.Context, filter domain.TransactionFilter) ([]domain.TypeTotal, error) {
	var rows []struct {
		Type  uint8
		Count int64
		Total decimal.Decimal
	}
	q := s.client.DB().WithContext(ctx).
		Model(&transactionRow{}).
		Select("type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total")
	err := applyFilter(q, filter, "").
		Group("type").
		Order("type").
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.TypeTotal, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TypeTotal{Type: domain.TransactionType(r.Type), Count: r.Count, Sum: r.Total})
	}
	return out, nil
}

func (s *Store) TopAccountsByBalance(ctx context.Context, limit int) ([]*domain.Account, error) {
	var rows []accountRow
	err := s.client.DB().WithContext(ctx).
		Where("balance > 0").
		Order("balance DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		acc, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *Store) RecentTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.OwnedTransaction, error) {
	var rows []struct {
		transactionRow `gorm:"embedded"`
		UserID         string
	}
	q := s.client.DB().WithContext(ctx).
		Table("wallet_transactions AS t").
		Select("t.*, a.user_id").
		Joins("JOIN wallet_accounts AS a ON a.id = t.account_id")
	err := applyFilter(q, filter, "t.").
		Order("t.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.OwnedTransaction, 0, len(rows))
	for i := range rows {
		t, err := rows[i].transactionRow.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.OwnedTransaction{Transaction: t, UserID: rows[i].UserID})
	}
	return out, nil
}

func (s *Store) DailyVolume(ctx context.Context, from, to time.Time) ([]domain.DailyVolume, error) {
	var rows []struct {
		Day     time.Time
		Credits decimal.Decimal
		Debits  decimal.Decimal
		Refunds decimal.Decimal
		Count   int64
	}
	err := s.client.DB().WithContext(ctx).
		Model(&transactionRow{}).
		Select("DATE(created_at) AS day, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS credits, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS debits, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS refunds, "+
			"COUNT(*) AS count",
			uint8(domain.TransactionTypeCredit), uint8(domain.TransactionTypeDebit), uint8(domain.TransactionTypeRefund)).
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Group("DATE(created_at)").
		Order("day").
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.DailyVolume, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.DailyVolume{
			Date:    time.Date(r.Day.Year(), r.Day.Month(), r.Day.Day(), 0, 0, 0, 0, time.UTC),
			Credits: r.Credits,
			Debits:  r.Debits,
			Refunds: r.Refunds,
			Count:   r.Count,
		})
	}
	return out, nil
}

// applyFilter 將統計條件轉為 WHERE，prefix 為資料表別名 (例如 "t.")
func applyFilter(q *gorm.DB, f domain.TransactionFilter, prefix string) *gorm.DB {
	if f.From != nil {
		q = q.Where(prefix+"created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where(prefix+"created_at <= ?", f.To.UTC())
	}
	if len(f.Types) > 0 {
		// []uint8 會被 gorm 當成 []byte 單一值綁定，IN 不會展開
		types := make([]int, 0, len(f.Types))
		for _, t := range f.Types {
			types = append(types, int(t))
		}
		q = q.Where(prefix+"type IN ?", types)
	}
	if len(f.ReferenceTypes) > 0 {
		q = q.Where(prefix+"reference_type IN ?", f.ReferenceTypes)
	}
	return q
}

func toTransactions(rows []transactionRow) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// classify 將 MySQL 的鎖等待逾時與 context 逾時轉為 domain.ErrOperationTimeout
// 業務規則錯誤原樣回傳
func classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == errLockWaitTimeout || myErr.Number == errLockNowait) {
		return fmt.Errorf("%w: %v", domain.ErrOperationTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrOperationTimeout, err)
	}
	return err
}

var _ usecase.Store = (*Store)(nil)
