package automation

import (
	"context"
	"sync"
	"time"
)

// Locker grants short-lived exclusive leases. The runner takes one per user
// and queue so a user never has two jobs of a queue executing at once, even
// across processes when backed by Redis.
type Locker interface {
	// TryLock acquires key for ttl without waiting. ok is false when
	// another holder has it. unlock releases the lease if still held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	held map[string]time.Time
	now  func() time.Time
	mu   sync.Mutex
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

// TryLock implements Locker.
func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, false, nil
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expiry) {
			delete(l.held, key)
		}
	}, true, nil
}
