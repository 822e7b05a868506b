package layercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/layercache/backplane"
	"github.com/unkn0wn-root/layercache/internal/circuit"
	"github.com/unkn0wn-root/layercache/internal/locker"
	"github.com/unkn0wn-root/layercache/localstore"
)

type cache[V any] struct {
	name       string
	instanceID string
	defaults   *EntryOptions
	log        Logger
	hooks      Hooks

	locker    *locker.Locker
	l1        *memoryAccessor[V]
	ownsStore bool
	l2        *distributedAccessor[V] // nil without a Provider
	bp        *backplaneAccessor      // nil without a Backplane
	ar        *autoRecovery[V]        // nil when disabled

	sub    backplane.Subscription
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once

	bgMu     sync.Mutex // guards bgClosed and bg.Add
	bgClosed bool
	bg       sync.WaitGroup
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider != nil && opts.Codec == nil {
		return nil, fmt.Errorf("layercache: codec is required with a provider")
	}

	defaults := DefaultEntryOptions()
	if opts.DefaultEntryOptions != nil {
		defaults = *opts.DefaultEntryOptions.Duplicate()
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}

	c := &cache[V]{
		name:       coalesce(opts.CacheName, defaultCacheName),
		instanceID: coalesce(opts.InstanceID, uuid.NewString()),
		defaults:   &defaults,
		log:        coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		locker:     locker.New(),
	}

	store := opts.LocalStore
	if store == nil {
		rs, err := localstore.NewRistretto(localstore.DefaultRistrettoConfig())
		if err != nil {
			return nil, fmt.Errorf("layercache: local store: %w", err)
		}
		store = rs
		c.ownsStore = true
	}
	c.l1 = &memoryAccessor[V]{store: store, cacheName: c.name, log: c.log, hooks: c.hooks}

	if opts.Provider != nil {
		c.l2 = &distributedAccessor[V]{
			provider: opts.Provider,
			codec:    opts.Codec,
			breaker: circuit.New(opts.DistributedCacheCircuitBreakerDuration,
				coalesce(opts.DistributedCacheCircuitBreakerThreshold, defaultBreakerThreshold)),
			cacheName:       c.name,
			log:             c.log,
			hooks:           c.hooks,
			onBreakerClosed: c.onBreakerClosed,
			spawn:           c.goBackground,
		}
	}
	if opts.Backplane != nil {
		c.bp = &backplaneAccessor{
			bp:              opts.Backplane,
			channel:         ChannelName(opts.BackplaneChannelPrefix, c.name),
			instanceID:      c.instanceID,
			timeout:         opts.BackplaneTimeout,
			breaker:         circuit.New(opts.BackplaneCircuitBreakerDuration, defaultBreakerThreshold),
			cacheName:       c.name,
			log:             c.log,
			hooks:           c.hooks,
			onBreakerClosed: c.onBreakerClosed,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if c.bp != nil {
		sub, err := c.bp.subscribe(ctx, c.onBackplaneMessage)
		if err != nil {
			cancel()
			if c.ownsStore {
				_ = store.Close()
			}
			return nil, fmt.Errorf("layercache: backplane subscribe: %w", err)
		}
		c.sub = sub
	}

	if !opts.DisableAutoRecovery && (c.l2 != nil || c.bp != nil) {
		c.ar = newAutoRecovery(c,
			coalesce(opts.AutoRecoveryMaxItems, defaultAutoRecoveryItems),
			coalesce(opts.AutoRecoveryMaxRetryCount, defaultAutoRecoveryRetry),
			coalesce(opts.AutoRecoveryDelay, defaultAutoRecoveryDelay))
		go c.ar.run(ctx)
	}

	c.log.Info("cache created", Fields{
		"cache": c.name, "instance": c.instanceID,
		"distributed": c.l2 != nil, "backplane": c.bp != nil, "autoRecovery": c.ar != nil,
	})
	return c, nil
}

func (c *cache[V]) CacheName() string  { return c.name }
func (c *cache[V]) InstanceID() string { return c.instanceID }

func (c *cache[V]) DefaultEntryOptions() EntryOptions { return *c.defaults.Duplicate() }

// Close waits for background refreshes and writes until ctx is done.
func (c *cache[V]) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.sub != nil {
			if cerr := c.sub.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("layercache: backplane unsubscribe: %w", cerr))
			}
		}
		c.cancel()
		if c.ar != nil {
			c.ar.close()
			if n := c.ar.len(); n > 0 {
				c.log.Warn("closing with undelivered notifications", Fields{"cache": c.name, "items": n})
			}
		}

		c.bgMu.Lock()
		c.bgClosed = true
		c.bgMu.Unlock()

		done := make(chan struct{})
		go func() {
			c.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}

		if c.ownsStore {
			err = errors.Join(err, c.l1.store.Close())
		}
	})
	return err
}

// goBackground runs fn on its own goroutine. Work started once Close is
// waiting is no longer tracked.
func (c *cache[V]) goBackground(fn func()) {
	c.bgMu.Lock()
	if c.bgClosed {
		c.bgMu.Unlock()
		go fn()
		return
	}
	c.bg.Add(1)
	c.bgMu.Unlock()
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

func (c *cache[V]) onBreakerClosed() {
	if c.ar != nil {
		c.ar.signal()
	}
}

func newOperationID() string { return uuid.NewString() }

// begin validates the call and returns its private options.
func (c *cache[V]) begin(opts []EntryOption) (*EntryOptions, string, error) {
	if c.closed.Load() {
		return nil, "", ErrClosed
	}
	o := c.defaults.Duplicate()
	for _, fn := range opts {
		fn(o)
	}
	if err := o.Validate(); err != nil {
		return nil, "", err
	}
	return o, newOperationID(), nil
}

// surface decides whether a classified distributed error reaches the caller.
func (c *cache[V]) surface(ctx context.Context, err error, o *EntryOptions) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	var se *SerializationError
	if errors.As(err, &se) {
		if o.ReThrowSerializationErrors {
			return se
		}
		return nil
	}
	var de *DistributedCacheError
	if errors.As(err, &de) && o.ReThrowDistributedCacheErrors {
		if o.ReThrowOriginalErrors {
			return de.Err
		}
		return de
	}
	return nil
}

func (c *cache[V]) TryGet(ctx context.Context, key string, opts ...EntryOption) (V, bool, error) {
	var zero V
	o, opID, err := c.begin(opts)
	if err != nil {
		return zero, false, err
	}
	now := time.Now()

	if !o.SkipMemoryCache {
		if e, ok := c.l1.tryGet(key, now); ok {
			c.hooks.Hit(opID, key, e.isFromFailSafe())
			return e.value, true, nil
		}
	}
	if c.l2 != nil && !o.SkipDistributedCache && c.l2.isCurrentlyUsable(opID, key) {
		de, err := c.l2.tryGet(ctx, opID, key, o, false)
		if err := c.surface(ctx, err, o); err != nil {
			c.hooks.Miss(opID, key)
			return zero, false, err
		}
		if de != nil && !de.isLogicallyExpired(now) {
			if !o.SkipMemoryCache {
				c.l1.set(opID, key, de.forMemory(o, now))
			}
			c.hooks.Hit(opID, key, false)
			return de.value, true, nil
		}
	}
	c.hooks.Miss(opID, key)
	return zero, false, nil
}

func (c *cache[V]) GetOrDefault(ctx context.Context, key string, def V, opts ...EntryOption) (V, error) {
	v, ok, err := c.TryGet(ctx, key, opts...)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, opts ...EntryOption) error {
	o, opID, err := c.begin(opts)
	if err != nil {
		return err
	}
	if o.removesInsteadOfStoring() {
		return c.remove(ctx, opID, key, o)
	}
	e := newEntry(value, o, time.Now(), entryExtras{})
	err = c.commit(ctx, opID, key, e, o)
	c.hooks.Set(opID, key)
	return err
}

func (c *cache[V]) Remove(ctx context.Context, key string, opts ...EntryOption) error {
	o, opID, err := c.begin(opts)
	if err != nil {
		return err
	}
	return c.remove(ctx, opID, key, o)
}

func (c *cache[V]) remove(ctx context.Context, opID, key string, o *EntryOptions) error {
	if !o.SkipMemoryCache {
		c.l1.remove(opID, key)
	}
	err := c.propagate(ctx, opID, key, backplane.KindRemove, time.Now().UnixNano(), nil, o)
	c.hooks.Remove(opID, key)
	return err
}

func (c *cache[V]) Expire(ctx context.Context, key string, opts ...EntryOption) error {
	o, opID, err := c.begin(opts)
	if err != nil {
		return err
	}
	if !o.SkipMemoryCache {
		c.l1.expire(opID, key, o.IsFailSafeEnabled)
	}
	err = c.propagate(ctx, opID, key, backplane.KindExpire, time.Now().UnixNano(), nil, o)
	c.hooks.Expire(opID, key)
	return err
}

// commit stores a fresh entry locally, then writes it through and notifies
// other nodes.
func (c *cache[V]) commit(ctx context.Context, opID, key string, e *entry[V], o *EntryOptions) error {
	if !o.SkipMemoryCache {
		c.l1.set(opID, key, e)
	}
	return c.propagate(ctx, opID, key, backplane.KindSet, e.timestamp, e, o)
}

// propagate applies a change to the distributed store and publishes it.
//
// When the distributed write did not happen the notification is queued for
// auto-recovery instead of being published: other nodes would read the old
// value back from the store.
func (c *cache[V]) propagate(ctx context.Context, opID, key string, kind backplane.MessageKind, ts int64, e *entry[V], o *EntryOptions) error {
	msg := backplane.Message{Key: key, Timestamp: ts, Kind: kind, SenderID: c.instanceID}

	run := func(ctx context.Context) error {
		if c.l2 != nil && !o.SkipDistributedCache {
			if !c.l2.isCurrentlyUsable(opID, key) {
				c.enqueue(msg, e, o)
				return nil
			}
			var err error
			if kind == backplane.KindSet {
				err = c.l2.set(ctx, opID, key, e, o)
			} else {
				err = c.l2.remove(ctx, opID, key, o)
			}
			if err != nil {
				c.enqueue(msg, e, o)
				return c.surface(ctx, err, o)
			}
		}
		c.notify(ctx, opID, msg, e, o)
		return nil
	}

	if o.AllowBackgroundDistributedCacheOperations {
		detached := context.WithoutCancel(ctx)
		c.goBackground(func() { _ = run(detached) })
		return nil
	}
	return run(ctx)
}

func (c *cache[V]) notify(ctx context.Context, opID string, msg backplane.Message, e *entry[V], o *EntryOptions) {
	if c.bp == nil || o.SkipBackplaneNotifications {
		return
	}
	send := func(ctx context.Context) {
		if err := c.bp.publish(ctx, opID, msg); err != nil {
			c.enqueue(msg, e, o)
		}
	}
	if o.AllowBackgroundBackplaneOperations {
		detached := context.WithoutCancel(ctx)
		c.goBackground(func() { send(detached) })
		return
	}
	send(ctx)
}

func (c *cache[V]) enqueue(msg backplane.Message, e *entry[V], o *EntryOptions) {
	if c.ar == nil {
		c.log.Warn("change notification lost; auto-recovery disabled", Fields{
			"cache": c.name, "key": msg.Key, "kind": msg.Kind.String(),
		})
		return
	}
	c.ar.enqueue(msg, e, o)
}

// onBackplaneMessage applies a change announced by another node. Messages not
// newer than the local entry are ignored.
func (c *cache[V]) onBackplaneMessage(_ context.Context, msg backplane.Message) {
	e := c.l1.get(msg.Key)
	if e == nil {
		return
	}
	f := Fields{"cache": c.name, "key": msg.Key, "kind": msg.Kind.String(), "sender": msg.SenderID}
	if msg.Timestamp <= e.timestamp {
		c.log.Debug("ignoring backplane message not newer than local entry", f)
		return
	}
	opID := newOperationID()
	switch msg.Kind {
	case backplane.KindSet:
		// the new value is in the distributed store; without one there is nothing to re-read
		if c.l2 != nil {
			c.l1.set(opID, msg.Key, e.expired(time.Now()))
		} else {
			c.l1.remove(opID, msg.Key)
		}
	case backplane.KindRemove:
		c.l1.remove(opID, msg.Key)
	case backplane.KindExpire:
		c.l1.set(opID, msg.Key, e.expired(time.Now()))
	}
	c.log.Debug("applied backplane message", f)
}
