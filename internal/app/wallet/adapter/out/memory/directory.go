package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

// Directory 記憶體使用者目錄 (開發與測試用)
type Directory struct {
	mu    sync.RWMutex
	users map[string]domain.UserSummary
}

func NewDirectory(users ...domain.UserSummary) *Directory {
	d := &Directory{users: make(map[string]domain.UserSummary, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put 新增或覆寫使用者
func (d *Directory) Put(u domain.UserSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *Directory) Exists(ctx context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[userID]
	return ok, nil
}

// Search 姓名與 Email 不分大小寫，電話為子字串比對
// 結果依姓、名排序
func (d *Directory) Search(ctx context.Context, term string, limit int) ([]domain.UserSummary, error) {
	needle := strings.ToLower(strings.TrimSpace(term))

	d.mu.RLock()
	var out []domain.UserSummary
	for _, u := range d.users {
		if matches(u, needle) {
			out = append(out, u)
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.UserSummary) int {
		if c := strings.Compare(a.LastName, b.LastName); c != 0 {
			return c
		}
		if c := strings.Compare(a.FirstName, b.FirstName); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Directory) Lookup(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]domain.UserSummary, len(userIDs))
	for _, id := range userIDs {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func matches(u domain.UserSummary, needle string) bool {
	for _, field := range []string{u.FirstName, u.LastName, u.Email} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return u.Phone != "" && strings.Contains(u.Phone, needle)
}

var _ usecase.UserDirectory = (*Directory)(nil)
