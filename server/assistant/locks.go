package assistant

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

// sessionLocks serializes exchanges per session id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire waits for the session to be free. The returned func must be called exactly once.
func (l *sessionLocks) acquire(ctx context.Context, uid string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[uid]
	if !ok {
		lock = &sessionLock{sem: semaphore.NewWeighted(1)}
		l.locks[uid] = lock
	}
	lock.refs++
	l.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		l.unref(uid, lock)
		return nil, err
	}
	return func() {
		lock.sem.Release(1)
		l.unref(uid, lock)
	}, nil
}

func (l *sessionLocks) unref(uid string, lock *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, uid)
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
