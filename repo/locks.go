package repo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ocflkit/ocfl-go"
	"golang.org/x/sync/semaphore"
)

// lockMap provides per-key reader/writer locks with acquisition timeouts.
// Lock entries are created on demand and removed when no longer held.
type lockMap struct {
	mu    sync.Mutex
	wait  time.Duration
	locks map[string]*objLock
}

type objLock struct {
	sem  *semaphore.Weighted
	refs int
}

const maxReaders = int64(math.MaxInt32)

func newLockMap(wait time.Duration) *lockMap {
	return &lockMap{
		wait:  wait,
		locks: map[string]*objLock{},
	}
}

func (lm *lockMap) get(key string) *objLock {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l := lm.locks[key]
	if l == nil {
		l = &objLock{sem: semaphore.NewWeighted(maxReaders)}
		lm.locks[key] = l
	}
	l.refs++
	return l
}

func (lm *lockMap) put(key string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l := lm.locks[key]
	if l == nil {
		return
	}
	l.refs--
	if l.refs < 1 {
		delete(lm.locks, key)
	}
}

// acquire takes n units of the lock's semaphore: 1 for a read lock,
// maxReaders for a write lock. It returns ocfl.ErrLock if the lock can't be
// acquired within the lockMap's wait time.
func (lm *lockMap) acquire(ctx context.Context, key string, n int64) (release func(), err error) {
	l := lm.get(key)
	ctx, cancel := context.WithTimeout(ctx, lm.wait)
	defer cancel()
	if err := l.sem.Acquire(ctx, n); err != nil {
		lm.put(key)
		return nil, fmt.Errorf("object %q: %w", key, ocfl.ErrLock)
	}
	var once sync.Once
	release = func() {
		once.Do(func() {
			l.sem.Release(n)
			lm.put(key)
		})
	}
	return release, nil
}

// ReadLock acquires a shared lock for the key. The returned function
// releases the lock and must be called on all exit paths.
func (lm *lockMap) ReadLock(ctx context.Context, key string) (func(), error) {
	return lm.acquire(ctx, key, 1)
}

// WriteLock acquires an exclusive lock for the key. The returned function
// releases the lock and must be called on all exit paths.
func (lm *lockMap) WriteLock(ctx context.Context, key string) (func(), error) {
	return lm.acquire(ctx, key, maxReaders)
}
