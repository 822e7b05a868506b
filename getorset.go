package layercache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/layercache/internal/locker"
	"github.com/unkn0wn-root/layercache/internal/timeout"
)

type completion uint8

const (
	completionMiss completion = iota
	completionHit
	completionStale
)

func hitKind[V any](e *entry[V]) completion {
	if e.isFromFailSafe() {
		return completionStale
	}
	return completionHit
}

func (c *cache[V]) GetOrSet(ctx context.Context, key string, factory Factory[V], opts ...EntryOption) (V, error) {
	return c.getOrSet(ctx, key, factory, nil, opts)
}

func (c *cache[V]) GetOrSetWithDefault(ctx context.Context, key string, factory Factory[V], failSafeDefault V, opts ...EntryOption) (V, error) {
	return c.getOrSet(ctx, key, factory, &failSafeDefault, opts)
}

func (c *cache[V]) getOrSet(ctx context.Context, key string, factory Factory[V], def *V, opts []EntryOption) (V, error) {
	var zero V
	if factory == nil {
		return zero, &InvalidOptionsError{Field: "factory", Reason: "must not be nil"}
	}
	o, opID, err := c.begin(opts)
	if err != nil {
		return zero, err
	}

	v, how, err := c.resolve(ctx, opID, key, factory, def, o)
	switch how {
	case completionHit:
		c.hooks.Hit(opID, key, false)
	case completionStale:
		c.hooks.Hit(opID, key, true)
	default:
		c.hooks.Miss(opID, key)
	}
	return v, err
}

// resolve walks L1, the per-key lock, L1 again, L2 and finally the factory.
func (c *cache[V]) resolve(ctx context.Context, opID, key string, factory Factory[V], def *V, o *EntryOptions) (V, completion, error) {
	var zero V
	now := time.Now()

	var memEntry *entry[V]
	if !o.SkipMemoryCache {
		e, valid := c.l1.tryGet(key, now)
		if valid {
			if e.eagerRefreshDue(now) {
				c.eagerRefresh(ctx, opID, key, factory, e, o)
			}
			return e.value, hitKind(e), nil
		}
		memEntry = e
	}

	lock, err := c.locker.Acquire(ctx, key, o.lockTimeout(memEntry != nil || def != nil))
	if err != nil {
		return zero, completionMiss, err
	}
	if lock == nil {
		if o.IsFailSafeEnabled && memEntry != nil {
			c.log.Debug("lock timeout; serving stale value", Fields{"cache": c.name, "op": opID, "key": key})
			return memEntry.value, completionStale, nil
		}
		c.log.Warn("lock timeout; running factory without lock", Fields{"cache": c.name, "op": opID, "key": key})
	}
	// ownership moves to the background completion when a timed-out factory keeps running
	owned := true
	defer func() {
		if owned {
			lock.Release()
		}
	}()

	if lock != nil && !o.SkipMemoryCache {
		now = time.Now()
		e, valid := c.l1.tryGet(key, now)
		if valid {
			return e.value, hitKind(e), nil
		}
		if e != nil {
			memEntry = e
		}
	}

	var distEntry *entry[V]
	if c.l2 != nil && !o.SkipDistributedCache &&
		!(o.SkipDistributedCacheReadWhenStale && memEntry != nil) &&
		c.l2.isCurrentlyUsable(opID, key) {
		de, err := c.l2.tryGet(ctx, opID, key, o, memEntry != nil || def != nil)
		if err := c.surface(ctx, err, o); err != nil {
			return zero, completionMiss, err
		}
		if de != nil {
			now = time.Now()
			if !de.isLogicallyExpired(now) {
				if !o.SkipMemoryCache {
					c.l1.set(opID, key, de.forMemory(o, now))
				}
				return de.value, completionHit, nil
			}
			distEntry = de
		}
	}

	stale := newest(memEntry, distEntry)
	fc := newFactoryContext(o.Duplicate(), stale)
	res := c.runFactory(ctx, opID, key, factory, fc, o.factoryTimeout(stale != nil || def != nil), o, lock, &owned)

	switch res.outcome {
	case factoryOK:
		if err := c.storeFactoryResult(ctx, opID, key, fc, res.value, o); err != nil {
			return zero, completionMiss, err
		}
		return res.value, completionMiss, nil
	case factoryCanceled:
		return zero, completionMiss, res.err
	}

	if v, ok := c.failSafe(opID, key, memEntry, distEntry, def, o, res.err); ok {
		return v, completionStale, nil
	}
	return zero, completionMiss, res.err
}

func newest[V any](a, b *entry[V]) *entry[V] {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.timestamp > a.timestamp:
		return b
	default:
		return a
	}
}

func (c *cache[V]) runFactory(
	ctx context.Context,
	opID, key string,
	factory Factory[V],
	fc *FactoryContext[V],
	d time.Duration,
	o *EntryOptions,
	lock *locker.Lock,
	owned *bool,
) factoryResult[V] {
	onBackground := func(ch <-chan timeout.Result[V]) {
		*owned = false
		c.goBackground(func() {
			defer lock.Release()
			r := <-ch
			c.completeInBackground(opID, key, fc, r, o)
		})
	}

	v, err := timeout.Run(ctx, d, o.AllowTimedOutFactoryBackgroundCompletion, func(ctx context.Context) (V, error) {
		return factory(ctx, fc)
	}, onBackground)

	f := Fields{"cache": c.name, "op": opID, "key": key}
	switch {
	case err == nil:
		return factoryResult[V]{outcome: factoryOK, value: v}
	case ctx.Err() != nil:
		return factoryResult[V]{outcome: factoryCanceled, err: ctx.Err()}
	case errors.Is(err, ErrSyntheticTimeout):
		f["timeout"] = d.String()
		c.log.Warn("factory timed out", f)
		c.hooks.FactorySyntheticTimeout(opID, key)
		return factoryResult[V]{outcome: factoryTimedOut, err: err}
	default:
		f["err"] = err
		c.log.Warn("factory failed", f)
		c.hooks.FactoryError(opID, key, err)
		return factoryResult[V]{outcome: factoryFailed, err: err}
	}
}

// storeFactoryResult commits a produced value using the options the factory
// may have adapted.
func (c *cache[V]) storeFactoryResult(ctx context.Context, opID, key string, fc *FactoryContext[V], v V, base *EntryOptions) error {
	o := fc.opts
	if err := o.Validate(); err != nil {
		c.log.Warn("factory produced invalid options; using call options", Fields{"cache": c.name, "op": opID, "key": key, "err": err})
		o = base
	}
	if o.removesInsteadOfStoring() {
		return c.remove(ctx, opID, key, o)
	}
	err := c.commit(ctx, opID, key, fc.newEntry(v, o, time.Now()), o)
	c.hooks.Set(opID, key)
	return err
}

func (c *cache[V]) completeInBackground(opID, key string, fc *FactoryContext[V], r timeout.Result[V], base *EntryOptions) {
	f := Fields{"cache": c.name, "op": opID, "key": key}
	if r.Err != nil {
		f["err"] = r.Err
		c.log.Warn("background factory failed", f)
		c.hooks.BackgroundFactoryError(opID, key, r.Err)
		return
	}
	if err := c.storeFactoryResult(context.Background(), opID, key, fc, r.Value, base); err != nil {
		f["err"] = err
		c.log.Warn("storing background factory result failed", f)
	}
	c.log.Debug("background factory completed", f)
	c.hooks.BackgroundFactorySuccess(opID, key)
}

// failSafe picks a fallback in order: a stale distributed entry newer than the
// local one, the stale local entry, the caller's default. The fallback is
// stored locally for FailSafeThrottleDuration so the next calls don't retry
// the factory right away.
func (c *cache[V]) failSafe(opID, key string, mem, dist *entry[V], def *V, o *EntryOptions, cause error) (V, bool) {
	var zero V
	if !o.IsFailSafeEnabled {
		return zero, false
	}
	now := time.Now()
	var fallback *entry[V]
	switch {
	case dist != nil && (mem == nil || dist.timestamp > mem.timestamp):
		fallback = dist.forMemory(o, now)
	case mem != nil:
		fallback = mem
	case def != nil:
		fallback = &entry[V]{value: *def, logicalExpiration: now, physicalExpiration: now}
	default:
		return zero, false
	}

	throttled := fallback.throttled(now, o.FailSafeThrottleDuration)
	if !o.SkipMemoryCache {
		// a factory completing in the background may have stored a newer value
		if kept := c.l1.setUnlessNewer(opID, key, throttled); kept != throttled && !kept.isLogicallyExpired(now) {
			c.log.Debug("fail-safe skipped; newer entry already stored", Fields{"cache": c.name, "op": opID, "key": key})
			return kept.value, true
		}
	}
	c.log.Warn("fail-safe activated", Fields{"cache": c.name, "op": opID, "key": key, "err": cause})
	c.hooks.FailSafeActivated(opID, key)
	return throttled.value, true
}

// eagerRefresh refreshes a still valid entry in the background. Only the
// caller that gets the lock without waiting starts it.
func (c *cache[V]) eagerRefresh(ctx context.Context, opID, key string, factory Factory[V], current *entry[V], o *EntryOptions) {
	lock, err := c.locker.Acquire(ctx, key, 0)
	if err != nil || lock == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	c.goBackground(func() {
		defer lock.Release()
		f := Fields{"cache": c.name, "op": opID, "key": key}

		if e := c.l1.get(key); e != nil && e.timestamp > current.timestamp {
			return
		}

		// another node may have refreshed it already
		if c.l2 != nil && !o.SkipDistributedCache && c.l2.isCurrentlyUsable(opID, key) {
			now := time.Now()
			de, err := c.l2.tryGet(detached, opID, key, o, true)
			if err == nil && de != nil && !de.isLogicallyExpired(now) && de.timestamp > current.timestamp {
				c.l1.set(opID, key, de.forMemory(o, now))
				c.log.Debug("eager refresh adopted newer distributed entry", f)
				return
			}
		}

		fc := newFactoryContext(o.Duplicate(), current)
		v, err := timeout.Run(detached, effectiveTimeout(0, o.FactoryHardTimeout, false), false,
			func(ctx context.Context) (V, error) { return factory(ctx, fc) }, nil)
		if err != nil {
			f["err"] = err
			c.log.Warn("eager refresh failed", f)
			c.hooks.BackgroundFactoryError(opID, key, err)
			return
		}
		if err := c.storeFactoryResult(detached, opID, key, fc, v, o); err != nil {
			f["err"] = err
			c.log.Warn("storing eager refresh result failed", f)
		}
		c.hooks.BackgroundFactorySuccess(opID, key)
	})
}
