package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
)

type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// InMemoryRunLock implements integration.RunLock inside one process.
// Suitable for a single syncer instance and for tests.
type InMemoryRunLock struct {
	mu      sync.Mutex
	entries map[string]lockEntry
	next    uint64
	now     func() time.Time
}

var _ integration.RunLock = (*InMemoryRunLock)(nil)

// NewInMemoryRunLock creates an empty lock table
func NewInMemoryRunLock() *InMemoryRunLock {
	return &InMemoryRunLock{
		entries: make(map[string]lockEntry),
		now:     time.Now,
	}
}

// Acquire takes key for ttl unless a live holder owns it. A non-positive ttl
// holds the lock until released.
func (l *InMemoryRunLock) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, held := l.entries[key]; held && (e.expiresAt.IsZero() || now.Before(e.expiresAt)) {
		return nil, false, nil
	}

	l.next++
	token := l.next
	e := lockEntry{token: token}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	l.entries[key] = e

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.entries[key]; ok && cur.token == token {
			delete(l.entries, key)
		}
		return nil
	}
	return release, true, nil
}
