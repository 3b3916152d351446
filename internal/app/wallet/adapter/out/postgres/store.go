package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

//go:embed schema.sql
var schema string

const (
	// lock_not_available, SET LOCAL lock_timeout 逾時
	codeLockNotAvailable = "55P03"
	// query_canceled, statement_timeout 逾時
	codeQueryCanceled = "57014"
)

// errConcurrentUpdate 版本號不符，代表有人繞過列鎖修改了帳戶
var errConcurrentUpdate = errors.New("account was modified concurrently")

// DB pgxpool.Pool 與 pgxmock 共同實作的方法
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier DB 與 pgx.Tx 共同的查詢方法
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, user_id, balance, total_credits, total_debits, min_balance, max_balance,
	frozen, frozen_reason, frozen_by, frozen_at, last_top_up, version, created_at, updated_at`

const transactionColumns = `id, account_id, sequence, type, amount, balance_before, balance_after,
	description, reference, reference_type, metadata, created_at`

const (
	insertAccountSQL = `INSERT INTO wallet_accounts (` + accountColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (user_id) DO NOTHING`

	selectAccountSQL = `SELECT ` + accountColumns + ` FROM wallet_accounts`

	updateAccountSQL = `UPDATE wallet_accounts SET
	balance = $3, total_credits = $4, total_debits = $5, min_balance = $6, max_balance = $7,
	frozen = $8, frozen_reason = $9, frozen_by = $10, frozen_at = $11, last_top_up = $12,
	version = $13, updated_at = $14
	WHERE id = $1 AND version = $2`

	insertTransactionSQL = `INSERT INTO wallet_transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	setLockTimeoutSQL = `SELECT set_config('lock_timeout', $1, true)`
)

// Store 使用 pgx 的帳本
// 每筆異動是一個資料庫交易：SELECT ... FOR UPDATE 鎖住帳戶列，驗證後更新帳戶並新增流水
type Store struct {
	db          DB
	lockTimeout time.Duration
	logger      zerolog.Logger
}

// Option Store 的選項
type Option func(*Store)

// WithLockTimeout 等待列鎖的上限 (SET LOCAL lock_timeout)，0 代表使用伺服器設定
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger 設定 logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(db DB, opts ...Option) *Store {
	s := &Store{db: db, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 建立資料表 (可重複執行)
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// GetOrCreateAccount 以 user_id 唯一限制保證同一使用者只有一個帳戶
func (s *Store) GetOrCreateAccount(ctx context.Context, proto *domain.Account) (*domain.Account, error) {
	if _, err := s.db.Exec(ctx, insertAccountSQL, accountArgs(proto)...); err != nil {
		return nil, classify(err)
	}
	return s.GetAccountByUser(ctx, proto.UserID)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return getAccount(ctx, s.db, selectAccountSQL+` WHERE id = $1`, id)
}

func (s *Store) GetAccountByUser(ctx context.Context, userID string) (*domain.Account, error) {
	return getAccount(ctx, s.db, selectAccountSQL+` WHERE user_id = $1`, userID)
}

func (s *Store) AccountsByUsers(ctx context.Context, userIDs []string) (map[string]*domain.Account, error) {
	out := make(map[string]*domain.Account, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, selectAccountSQL+` WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acc.UserID] = acc
	}
	return out, classify(rows.Err())
}

// Mutate 悲觀鎖：在同一個資料庫交易內鎖帳戶、驗證、更新帳戶、新增流水
func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn usecase.MutateFunc) (*domain.Account, *domain.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, classify(err)
	}

	acc, tran, err := s.mutate(ctx, tx, id, fn)
	if err != nil {
		_ = tx.Rollback(ctx)
		err = classify(err)
		if !domain.IsBusinessRule(err) && !errors.Is(err, domain.ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("account_id", id.String()).Msg("postgres mutate failed")
		}
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, classify(err)
	}
	return acc, tran, nil
}

func (s *Store) mutate(ctx context.Context, tx pgx.Tx, id uuid.UUID, fn usecase.MutateFunc) (*domain.Account, *domain.Transaction, error) {
	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, setLockTimeoutSQL, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
			return nil, nil, err
		}
	}

	acc, err := getAccount(ctx, tx, selectAccountSQL+` WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, nil, err
	}
	version := acc.Version
	tran, err := fn(acc)
	if err != nil {
		return nil, nil, err
	}
	if tran == nil && acc.Version == version {
		return acc, nil, nil
	}

	tag, err := tx.Exec(ctx, updateAccountSQL, updateArgs(acc, version)...)
	if err != nil {
		return nil, nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, nil, errConcurrentUpdate
	}

	if tran != nil {
		targs, err := transactionArgs(tran)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Exec(ctx, insertTransactionSQL, targs...); err != nil {
			return nil, nil, err
		}
	}
	return acc, tran, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE account_id = $1`, accountID).Scan(&total)
	if err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions
	WHERE account_id = $1 ORDER BY created_at DESC, sequence DESC OFFSET $2 LIMIT $3`, accountID, offset, limit)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, classify(rows.Err())
}

func (s *Store) CountByType(ctx context.Context, accountID uuid.UUID) (domain.TypeCounts, error) {
	var counts domain.TypeCounts
	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*) FROM wallet_transactions WHERE account_id = $1 GROUP BY type`, accountID)
	if err != nil {
		return counts, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ int16
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return domain.TypeCounts{}, err
		}
		counts.Add(domain.TransactionType(typ), n)
	}
	return counts, classify(rows.Err())
}

// AccountCounts active = 未凍結且餘額大於 0
func (s *Store) AccountCounts(ctx context.Context) (domain.AccountCounts, error) {
	var out domain.AccountCounts
	err := s.db.QueryRow(ctx, `SELECT COUNT(*),
	COUNT(*) FILTER (WHERE NOT frozen AND balance > 0),
	COUNT(*) FILTER (WHERE frozen),
	COALESCE(SUM(balance), 0)
	FROM wallet_accounts`).Scan(&out.TotalAccounts, &out.ActiveAccounts, &out.FrozenAccounts, &out.TotalBalance)
	if err != nil {
		return domain.AccountCounts{}, classify(err)
	}
	return out, nil
}

func (s *Store) TransactionTotals(ctx context.Context, filter domain.TransactionFilter) ([]domain.TypeTotal, error) {
	where, args := filterClause(filter, "", nil)
	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*), COALESCE(SUM(amount), 0) FROM wallet_transactions`+
		where+` GROUP BY type ORDER BY type`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.TypeTotal
	for rows.Next() {
		var (
			typ   int16
			total domain.TypeTotal
		)
		if err := rows.Scan(&typ, &total.Count, &total.Sum); err != nil {
			return nil, err
		}
		total.Type = domain.TransactionType(typ)
		out = append(out, total)
	}
	return out, classify(rows.Err())
}

func (s *Store) TopAccountsByBalance(ctx context.Context, limit int) ([]*domain.Account, error) {
	rows, err := s.db.Query(ctx, selectAccountSQL+` WHERE balance > 0 ORDER BY balance DESC, created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, classify(rows.Err())
}

func (s *Store) RecentTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.OwnedTransaction, error) {
	where, args := filterClause(filter, "t.", nil)
	args = append(args, limit)
	cols := "t." + strings.ReplaceAll(strings.Join(strings.Fields(transactionColumns), " "), ", ", ", t.")
	rows, err := s.db.Query(ctx, `SELECT `+cols+`, a.user_id
	FROM wallet_transactions t JOIN wallet_accounts a ON a.id = t.account_id`+
		where+fmt.Sprintf(` ORDER BY t.created_at DESC LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.OwnedTransaction
	for rows.Next() {
		var userID string
		t, err := scanTransaction(rows, &userID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.OwnedTransaction{Transaction: t, UserID: userID})
	}
	return out, classify(rows.Err())
}

func (s *Store) DailyVolume(ctx context.Context, from, to time.Time) ([]domain.DailyVolume, error) {
	rows, err := s.db.Query(ctx, `SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
	COALESCE(SUM(amount) FILTER (WHERE type = $3), 0),
	COALESCE(SUM(amount) FILTER (WHERE type = $4), 0),
	COALESCE(SUM(amount) FILTER (WHERE type = $5), 0),
	COUNT(*)
	FROM wallet_transactions
	WHERE created_at BETWEEN $1 AND $2
	GROUP BY day ORDER BY day`,
		from.UTC(), to.UTC(),
		int16(domain.TransactionTypeCredit), int16(domain.TransactionTypeDebit), int16(domain.TransactionTypeRefund))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.DailyVolume
	for rows.Next() {
		var v domain.DailyVolume
		if err := rows.Scan(&v.Date, &v.Credits, &v.Debits, &v.Refunds, &v.Count); err != nil {
			return nil, err
		}
		v.Date = time.Date(v.Date.Year(), v.Date.Month(), v.Date.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, v)
	}
	return out, classify(rows.Err())
}

func getAccount(ctx context.Context, q querier, sql string, arg any) (*domain.Account, error) {
	acc, err := scanAccount(q.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acc        domain.Account
		maxBalance decimal.NullDecimal
	)
	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.Balance, &acc.TotalCredits, &acc.TotalDebits, &acc.MinBalance, &maxBalance,
		&acc.Frozen, &acc.FrozenReason, &acc.FrozenBy, &acc.FrozenAt, &acc.LastTopUp, &acc.Version,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if maxBalance.Valid {
		acc.MaxBalance = &maxBalance.Decimal
	}
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	acc.FrozenAt = utc(acc.FrozenAt)
	acc.LastTopUp = utc(acc.LastTopUp)
	return &acc, nil
}

// scanTransaction extra 為交易欄位之後的額外欄位
func scanTransaction(row pgx.Row, extra ...any) (domain.Transaction, error) {
	var (
		t    domain.Transaction
		typ  int16
		meta []byte
	)
	dest := []any{
		&t.ID, &t.AccountID, &t.Sequence, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Description, &t.Reference, &t.ReferenceType, &meta, &t.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Transaction{}, err
	}
	t.Type = domain.TransactionType(typ)
	t.CreatedAt = t.CreatedAt.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// accountArgs 依 accountColumns 的順序
func accountArgs(acc *domain.Account) []any {
	var maxBalance decimal.NullDecimal
	if acc.MaxBalance != nil {
		maxBalance = decimal.NewNullDecimal(*acc.MaxBalance)
	}
	return []any{
		acc.ID, acc.UserID, acc.Balance, acc.TotalCredits, acc.TotalDebits, acc.MinBalance, maxBalance,
		acc.Frozen, acc.FrozenReason, acc.FrozenBy, acc.FrozenAt, acc.LastTopUp, int64(acc.Version),
		acc.CreatedAt, acc.UpdatedAt,
	}
}

// updateArgs 依 updateAccountSQL 的佔位符號順序，version 為鎖定時讀到的版本
func updateArgs(acc *domain.Account, version uint64) []any {
	args := accountArgs(acc)
	// 去掉 user_id 與 created_at，兩者建立後不會改變
	return []any{
		acc.ID, int64(version),
		args[2], args[3], args[4], args[5], args[6],
		args[7], args[8], args[9], args[10], args[11],
		args[12], acc.UpdatedAt,
	}
}

// transactionArgs 依 transactionColumns 的順序
func transactionArgs(t *domain.Transaction) ([]any, error) {
	var meta []byte
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
		}
		meta = raw
	}
	return []any{
		t.ID, t.AccountID, int64(t.Sequence), int16(t.Type), t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Description, t.Reference, t.ReferenceType, meta, t.CreatedAt,
	}, nil
}

// filterClause 將統計條件轉為 WHERE 子句，佔位符號接在 args 之後
func filterClause(f domain.TransactionFilter, prefix string, args []any) (string, []any) {
	var conds []string
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, prefix, len(args)))
	}
	if f.From != nil {
		add("%screated_at >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("%screated_at <= $%d", f.To.UTC())
	}
	if len(f.Types) > 0 {
		types := make([]int16, 0, len(f.Types))
		for _, t := range f.Types {
			types = append(types, int16(t))
		}
		add("%stype = ANY($%d)", types)
	}
	if len(f.ReferenceTypes) > 0 {
		add("%sreference_type = ANY($%d)", f.ReferenceTypes)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// classify 將鎖等待逾時與 context 逾時轉為 domain.ErrOperationTimeout
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeLockNotAvailable || pgErr.Code == codeQueryCanceled) {
		return fmt.Errorf("%w: %v", domain.ErrOperationTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrOperationTimeout, err)
	}
	return err
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ usecase.Store = (*Store)(nil)
