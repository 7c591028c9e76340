// Package userlock provides per-user exclusive locks.
// Locks for different users never contend; idle entries are released.
package userlock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locks is a set of mutexes keyed by user id. The zero value is not usable; use New.
type Locks struct {
	mu sync.Mutex
	m  map[int64]*entry
}

// New creates an empty lock set.
func New() *Locks {
	return &Locks{m: make(map[int64]*entry)}
}

// Lock blocks until the lock for userID is held or ctx is done.
// The returned function releases the lock and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.m[userID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.m[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(userID, e)
		})
	}, nil
}

func (l *Locks) release(userID int64, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, userID)
	}
	l.mu.Unlock()
}

// Len returns the number of users with a held or awaited lock.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
