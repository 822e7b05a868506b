// Package asynchook moves hook delivery off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{HitEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	c, _ := layercache.New[User](layercache.Options[User]{
//	    CacheName: "users",
//	    Provider:  provider,
//	    Codec:     codec.JSON[User]{},
//	    Hooks:     hooks, // or raw for synchronous delivery
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache"
)

// Hooks queues every event for a pool of workers. Events are dropped when the
// queue is full; Dropped reports how many.
type Hooks struct {
	inner   layercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(inner layercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers what is queued and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(op, k string, stale bool) { h.try(func() { h.inner.Hit(op, k, stale) }) }
func (h *Hooks) Miss(op, k string)            { h.try(func() { h.inner.Miss(op, k) }) }
func (h *Hooks) Set(op, k string)             { h.try(func() { h.inner.Set(op, k) }) }
func (h *Hooks) Remove(op, k string)          { h.try(func() { h.inner.Remove(op, k) }) }
func (h *Hooks) Expire(op, k string)          { h.try(func() { h.inner.Expire(op, k) }) }
func (h *Hooks) Eviction(k, r string)         { h.try(func() { h.inner.Eviction(k, r) }) }
func (h *Hooks) FactoryError(op, k string, err error) {
	h.try(func() { h.inner.FactoryError(op, k, err) })
}
func (h *Hooks) FactorySyntheticTimeout(op, k string) {
	h.try(func() { h.inner.FactorySyntheticTimeout(op, k) })
}
func (h *Hooks) FailSafeActivated(op, k string) { h.try(func() { h.inner.FailSafeActivated(op, k) }) }
func (h *Hooks) BackgroundFactorySuccess(op, k string) {
	h.try(func() { h.inner.BackgroundFactorySuccess(op, k) })
}
func (h *Hooks) BackgroundFactoryError(op, k string, err error) {
	h.try(func() { h.inner.BackgroundFactoryError(op, k, err) })
}
func (h *Hooks) DistributedError(op, k string, err error) {
	h.try(func() { h.inner.DistributedError(op, k, err) })
}
func (h *Hooks) CircuitBreakerChanged(c string, open bool) {
	h.try(func() { h.inner.CircuitBreakerChanged(c, open) })
}
func (h *Hooks) BackplanePublished(op, k, kind string) {
	h.try(func() { h.inner.BackplanePublished(op, k, kind) })
}
func (h *Hooks) BackplaneReceived(k, kind string) { h.try(func() { h.inner.BackplaneReceived(k, kind) }) }
func (h *Hooks) AutoRecoveryEnqueued(k string)    { h.try(func() { h.inner.AutoRecoveryEnqueued(k) }) }
func (h *Hooks) AutoRecoveryReplayed(k string)    { h.try(func() { h.inner.AutoRecoveryReplayed(k) }) }
func (h *Hooks) AutoRecoveryDropped(k, r string)  { h.try(func() { h.inner.AutoRecoveryDropped(k, r) }) }
