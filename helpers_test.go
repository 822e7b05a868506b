package layercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/layercache/backplane"
	"github.com/unkn0wn-root/layercache/codec"
	pr "github.com/unkn0wn-root/layercache/provider"
)

var errBoom = errors.New("boom")

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// memProvider is a shared in-memory distributed store with failure injection.
type memProvider struct {
	mu    sync.Mutex
	m     map[string]memEntry
	calls atomic.Int64
	fail  atomic.Bool
	delay time.Duration
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) enter(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.fail.Load() {
		return errBoom
	}
	return nil
}

func (p *memProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := p.enter(ctx); err != nil {
		return nil, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Remove(ctx context.Context, key string) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) put(key string, b []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: b}
	p.mu.Unlock()
}

// flakyBackplane fails publishes while fail is set.
type flakyBackplane struct {
	backplane.Backplane
	fail      atomic.Bool
	published atomic.Int64
}

func (f *flakyBackplane) Publish(ctx context.Context, channel string, payload []byte) error {
	if f.fail.Load() {
		return errBoom
	}
	f.published.Add(1)
	return f.Backplane.Publish(ctx, channel, payload)
}

// countingHooks records events by name.
type countingHooks struct {
	NopHooks
	mu     sync.Mutex
	counts map[string]int
}

func newCountingHooks() *countingHooks { return &countingHooks{counts: make(map[string]int)} }

func (h *countingHooks) inc(name string) {
	h.mu.Lock()
	h.counts[name]++
	h.mu.Unlock()
}

func (h *countingHooks) get(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[name]
}

func (h *countingHooks) Hit(_, _ string, stale bool) {
	if stale {
		h.inc("stale")
		return
	}
	h.inc("hit")
}
func (h *countingHooks) Miss(string, string)                          { h.inc("miss") }
func (h *countingHooks) Set(string, string)                           { h.inc("set") }
func (h *countingHooks) FactoryError(string, string, error)           { h.inc("factory_error") }
func (h *countingHooks) FactorySyntheticTimeout(string, string)       { h.inc("factory_timeout") }
func (h *countingHooks) FailSafeActivated(string, string)             { h.inc("failsafe") }
func (h *countingHooks) BackgroundFactorySuccess(string, string)      { h.inc("bg_success") }
func (h *countingHooks) BackgroundFactoryError(string, string, error) { h.inc("bg_error") }
func (h *countingHooks) AutoRecoveryEnqueued(string)                  { h.inc("ar_enqueued") }
func (h *countingHooks) AutoRecoveryReplayed(string)                  { h.inc("ar_replayed") }
func (h *countingHooks) AutoRecoveryDropped(_, reason string)         { h.inc("ar_dropped:" + reason) }

func (h *countingHooks) CircuitBreakerChanged(component string, open bool) {
	if open {
		h.inc(component + ":open")
		return
	}
	h.inc(component + ":closed")
}

// testOptions are entry defaults with fail-safe on and synchronous I/O.
func testOptions() *EntryOptions {
	o := DefaultEntryOptions()
	o.Duration = time.Minute
	o.IsFailSafeEnabled = true
	o.FailSafeMaxDuration = time.Hour
	o.FailSafeThrottleDuration = time.Second
	o.AllowBackgroundBackplaneOperations = false
	return &o
}

func newTestCache(t *testing.T, opts Options[int]) *cache[int] {
	t.Helper()
	if opts.Provider != nil && opts.Codec == nil {
		opts.Codec = codec.JSON[int]{}
	}
	if opts.DefaultEntryOptions == nil {
		opts.DefaultEntryOptions = testOptions()
	}
	c, err := newCache(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func constFactory(v int, calls *atomic.Int64) Factory[int] {
	return func(context.Context, *FactoryContext[int]) (int, error) {
		if calls != nil {
			calls.Add(1)
		}
		return v, nil
	}
}

func failingFactory(calls *atomic.Int64) Factory[int] {
	return func(context.Context, *FactoryContext[int]) (int, error) {
		if calls != nil {
			calls.Add(1)
		}
		return 0, errBoom
	}
}
