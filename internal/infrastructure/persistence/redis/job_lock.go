package redis

import (
	"context"
	"time"
)

// JobLocker is a best-effort mutex for scheduler jobs shared by all workers.
type JobLocker struct {
	cache *Cache
}

// NewJobLocker creates a new JobLocker.
func NewJobLocker(cache *Cache) *JobLocker {
	return &JobLocker{cache: cache}
}

func (l *JobLocker) key(name string) string {
	return l.cache.Key("lock", "job", name)
}

// TryLock reports whether the lock was acquired. A zero ttl uses TTLJobLock.
func (l *JobLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = TTLJobLock
	}
	return l.cache.SetNX(ctx, l.key(name), time.Now().Unix(), ttl)
}

// Unlock releases the lock.
func (l *JobLocker) Unlock(ctx context.Context, name string) error {
	return l.cache.Delete(ctx, l.key(name))
}
