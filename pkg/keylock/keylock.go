package keylock

import (
	"context"
	"sync"
)

// Locker 以 key 為單位的互斥鎖，不同 key 之間完全不互相阻塞
// 等待時可透過 context 設定上限，沒有人使用的 key 會自動回收
type Locker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	// 容量 1 的 channel 當作可被取消等待的 mutex
	sem  chan struct{}
	refs int
}

// New 建立一個新的 Locker
func New[K comparable]() *Locker[K] {
	return &Locker[K]{
		locks: make(map[K]*entry),
	}
}

// Lock 取得 key 的鎖
//
// 參數:
//
//	ctx: 等待上限，ctx 結束時放棄等待
//	key: 要鎖定的 key
//
// 回傳:
//
//	unlock: 釋放鎖的函式 (重複呼叫無副作用)
//	error: ctx.Err()
func (l *Locker[K]) Lock(ctx context.Context, key K) (unlock func(), err error) {
	e := l.acquire(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

// Len 目前仍被持有或等待中的 key 數量
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker[K]) acquire(key K) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker[K]) release(key K, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
