package mysql

import (
	"context"
	"strings"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
)

// Directory 讀取既有的 users 表，不做任何寫入
type Directory struct {
	client *mysql.Client
}

func NewDirectory(client *mysql.Client) *Directory {
	return &Directory{client: client}
}

func (d *Directory) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := d.client.DB().WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", userID).
		Count(&count).Error
	if err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}

// Search 名、姓、Email 以 LIKE 比對 (依 collation 不分大小寫)，電話為子字串比對
func (d *Directory) Search(ctx context.Context, term string, limit int) ([]domain.UserSummary, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"

	var rows []userRow
	err := d.client.DB().WithContext(ctx).
		Where("first_name LIKE ? OR last_name LIKE ? OR email LIKE ? OR phone LIKE ?", pattern, pattern, pattern, pattern).
		Order("last_name").
		Order("first_name").
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.UserSummary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (d *Directory) Lookup(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error) {
	out := make(map[string]domain.UserSummary, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []userRow
	if err := d.client.DB().WithContext(ctx).Where("id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].toDomain()
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike 跳脫 LIKE 的萬用字元
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ usecase.UserDirectory = (*Directory)(nil)
