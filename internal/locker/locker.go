// Package locker provides a per-key mutex registry used to guarantee that at most
// one factory runs for a given key at a time.
package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const shardCount = 64

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders + waiters; entry is dropped when it reaches 0
}

type shard struct {
	mu sync.Mutex
	m  map[string]*entry
}

// Locker hands out exclusive per-key locks. Entries are created on demand and
// removed once nobody holds or waits for them, so the registry never grows past
// the number of keys currently in contention.
type Locker struct {
	shards [shardCount]shard
}

// Lock is held by exactly one caller between Acquire and Release.
type Lock struct {
	l    *Locker
	key  string
	e    *entry
	once sync.Once
}

func New() *Locker {
	l := &Locker{}
	for i := range l.shards {
		l.shards[i].m = make(map[string]*entry)
	}
	return l
}

func (l *Locker) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)%shardCount]
}

func (l *Locker) ref(key string) *entry {
	s := l.shardFor(key)
	s.mu.Lock()
	e, ok := s.m[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		s.m[key] = e
	}
	e.refs++
	s.mu.Unlock()
	return e
}

func (l *Locker) unref(key string, e *entry) {
	s := l.shardFor(key)
	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.m, key)
	}
	s.mu.Unlock()
}

// Acquire takes the lock for key.
//   - timeout == 0: try once; nil lock when contended.
//   - timeout < 0:  wait until acquired or ctx is done.
//   - timeout > 0:  wait at most timeout.
//
// A timeout is not an error: it returns (nil, nil). Cancellation of ctx returns ctx.Err().
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	e := l.ref(key)

	if timeout == 0 {
		if !e.sem.TryAcquire(1) {
			l.unref(key, e)
			return nil, nil
		}
		return &Lock{l: l, key: key, e: e}, nil
	}

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(wctx, 1); err != nil {
		l.unref(key, e)
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	return &Lock{l: l, key: key, e: e}, nil
}

// Len reports how many keys currently have a registry entry.
func (l *Locker) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

// Key returns the key this lock guards.
func (lk *Lock) Key() string { return lk.key }

// Release gives the lock back. Safe to call more than once and on a nil Lock.
func (lk *Lock) Release() {
	if lk == nil {
		return
	}
	lk.once.Do(func() {
		lk.e.sem.Release(1)
		lk.l.unref(lk.key, lk.e)
	})
}
