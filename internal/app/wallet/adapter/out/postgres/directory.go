package postgres

import (
	"context"
	"strings"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

const selectUserSQL = `SELECT id, first_name, last_name, email, COALESCE(phone, '') FROM users`

// Directory 讀取既有的 users 表，不做任何寫入
type Directory struct {
	db DB
}

func NewDirectory(db DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Exists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// Search 名、姓、Email 不分大小寫 (ILIKE)，電話為子字串比對
func (d *Directory) Search(ctx context.Context, term string, limit int) ([]domain.UserSummary, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	return d.query(ctx, selectUserSQL+`
	WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1 OR phone LIKE $1
	ORDER BY last_name, first_name, id LIMIT $2`, pattern, limit)
}

func (d *Directory) Lookup(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error) {
	out := make(map[string]domain.UserSummary, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	users, err := d.query(ctx, selectUserSQL+` WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (d *Directory) query(ctx context.Context, sql string, args ...any) ([]domain.UserSummary, error) {
	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.UserSummary
	for rows.Next() {
		var u domain.UserSummary
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, classify(rows.Err())
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike 跳脫 LIKE 的萬用字元 (PostgreSQL 預設跳脫字元為反斜線)
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ usecase.UserDirectory = (*Directory)(nil)
