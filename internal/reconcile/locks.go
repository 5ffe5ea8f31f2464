package reconcile

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// AccountLocks serializes work per account. Different accounts never block
// each other.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewAccountLocks creates an empty lock table.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Acquire blocks until the account's exclusive scope is held or ctx is done.
// The returned release func must be called exactly once.
func (l *AccountLocks) Acquire(ctx context.Context, accountID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[accountID]
	if !ok {
		lk = &accountLock{sem: semaphore.NewWeighted(1)}
		l.locks[accountID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.unref(accountID, lk)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.unref(accountID, lk)
		})
	}, nil
}

func (l *AccountLocks) unref(accountID string, lk *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, accountID)
	}
}

// Len returns the number of accounts with a holder or waiter.
func (l *AccountLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
