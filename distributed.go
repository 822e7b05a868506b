package layercache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/layercache/codec"
	"github.com/unkn0wn-root/layercache/internal/circuit"
	"github.com/unkn0wn-root/layercache/internal/timeout"
	"github.com/unkn0wn-root/layercache/internal/wire"
	"github.com/unkn0wn-root/layercache/provider"
)

// distributedAccessor wraps the distributed store. Its methods log failures,
// drive the circuit breaker and return classified errors; whether an error
// reaches the caller is decided by cache.surface.
type distributedAccessor[V any] struct {
	provider  provider.Provider
	codec     codec.Codec[V]
	breaker   *circuit.Breaker
	cacheName string
	log       Logger
	hooks     Hooks

	onBreakerClosed func()
	spawn           func(func())
}

func (d *distributedAccessor[V]) storageKey(key string) string {
	return d.cacheName + ":" + key
}

// isCurrentlyUsable is false while the breaker is open, without any I/O.
func (d *distributedAccessor[V]) isCurrentlyUsable(opID, key string) bool {
	closed, justClosed := d.breaker.IsClosed()
	if justClosed {
		d.log.Info("distributed cache circuit closed", Fields{"cache": d.cacheName, "op": opID, "key": key})
		d.hooks.CircuitBreakerChanged(ComponentDistributed, false)
		if d.onBreakerClosed != nil {
			d.onBreakerClosed()
		}
	}
	return closed
}

type frameResult struct {
	frame wire.Entry
	found bool
}

// getFrame reads and validates the raw frame for key. Physically expired frames
// are misses. Corrupt frames are deleted.
func (d *distributedAccessor[V]) getFrame(ctx context.Context, opID, key string, t time.Duration) (frameResult, error) {
	sk := d.storageKey(key)
	type raw struct {
		b  []byte
		ok bool
	}
	r, err := timeout.Run(ctx, t, false, func(ctx context.Context) (raw, error) {
		b, ok, err := d.provider.Get(ctx, sk)
		return raw{b: b, ok: ok}, err
	}, nil)
	if err != nil {
		return frameResult{}, d.fail(ctx, opID, key, "get", err)
	}
	d.succeed()
	if !r.ok {
		return frameResult{}, nil
	}

	f, err := wire.DecodeEntry(r.b)
	if err != nil {
		d.selfHeal(ctx, opID, key, sk)
		return frameResult{}, d.serializationFailure(opID, key, false, err)
	}
	if !time.Now().Before(time.Unix(0, f.PhysicalExpiration)) {
		return frameResult{}, nil
	}
	return frameResult{frame: f, found: true}, nil
}

// tryGet returns the stored entry, possibly logically expired, or nil.
func (d *distributedAccessor[V]) tryGet(ctx context.Context, opID, key string, o *EntryOptions, hasFallback bool) (*entry[V], error) {
	r, err := d.getFrame(ctx, opID, key, o.distributedTimeout(hasFallback))
	if err != nil || !r.found {
		return nil, err
	}
	v, err := d.codec.Decode(r.frame.Payload)
	if err != nil {
		d.selfHeal(ctx, opID, key, d.storageKey(key))
		return nil, d.serializationFailure(opID, key, false, err)
	}
	return fromFrame(v, r.frame), nil
}

// timestamp returns the timestamp of the stored entry for key, if any.
func (d *distributedAccessor[V]) timestamp(ctx context.Context, opID, key string, o *EntryOptions) (int64, bool, error) {
	r, err := d.getFrame(ctx, opID, key, o.distributedTimeout(false))
	if err != nil || !r.found {
		return 0, false, err
	}
	return r.frame.Timestamp, true, nil
}

func (d *distributedAccessor[V]) set(ctx context.Context, opID, key string, e *entry[V], o *EntryOptions) error {
	payload, err := d.codec.Encode(e.value)
	if err != nil {
		return d.serializationFailure(opID, key, true, err)
	}

	logical, physical := e.logicalExpiration, e.physicalExpiration
	if o.DistributedCacheDuration > 0 || o.DistributedCacheFailSafeMaxDuration > 0 {
		created := time.Unix(0, e.timestamp)
		logical, physical, _ = expirations(o,
			created,
			coalesce(o.DistributedCacheDuration, o.Duration),
			coalesce(o.DistributedCacheFailSafeMaxDuration, o.FailSafeMaxDuration))
	}
	ttl := time.Until(physical)
	if ttl <= 0 {
		return d.remove(ctx, opID, key, o)
	}

	frame, err := wire.EncodeEntry(toFrame(e, logical, physical, payload))
	if err != nil {
		return d.serializationFailure(opID, key, true, err)
	}

	sk := d.storageKey(key)
	_, err = timeout.Run(ctx, o.DistributedCacheHardTimeout, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.provider.Set(ctx, sk, frame, ttl)
	}, d.background(ctx, opID, key, "set"))
	if err != nil {
		return d.fail(ctx, opID, key, "set", err)
	}
	d.succeed()
	d.log.Debug("distributed set", Fields{"cache": d.cacheName, "op": opID, "key": key})
	return nil
}

func (d *distributedAccessor[V]) remove(ctx context.Context, opID, key string, o *EntryOptions) error {
	sk := d.storageKey(key)
	_, err := timeout.Run(ctx, o.DistributedCacheHardTimeout, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.provider.Remove(ctx, sk)
	}, d.background(ctx, opID, key, "remove"))
	if err != nil {
		return d.fail(ctx, opID, key, "remove", err)
	}
	d.succeed()
	d.log.Debug("distributed remove", Fields{"cache": d.cacheName, "op": opID, "key": key})
	return nil
}

// background lets a timed-out write finish and still account for its outcome.
func (d *distributedAccessor[V]) background(ctx context.Context, opID, key, op string) func(<-chan timeout.Result[struct{}]) {
	detached := context.WithoutCancel(ctx)
	return func(ch <-chan timeout.Result[struct{}]) {
		d.spawn(func() {
			r := <-ch
			if r.Err != nil {
				_ = d.fail(detached, opID, key, op, r.Err)
				return
			}
			d.succeed()
			d.log.Debug("distributed "+op+" completed in background", Fields{"cache": d.cacheName, "op": opID, "key": key})
		})
	}
}

func (d *distributedAccessor[V]) succeed() {
	if d.breaker.Close() {
		d.log.Info("distributed cache circuit closed", Fields{"cache": d.cacheName})
		d.hooks.CircuitBreakerChanged(ComponentDistributed, false)
		if d.onBreakerClosed != nil {
			d.onBreakerClosed()
		}
	}
}

// fail classifies err. Caller cancellation passes through untouched and
// synthetic timeouts don't count against the breaker.
func (d *distributedAccessor[V]) fail(ctx context.Context, opID, key, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	f := Fields{"cache": d.cacheName, "op": opID, "key": key, "action": op, "err": err}
	if errors.Is(err, ErrSyntheticTimeout) {
		// timeouts do not trip the breaker
		d.log.Warn("distributed cache operation timed out", f)
		d.hooks.DistributedError(opID, key, err)
		return &DistributedCacheError{Op: op, Key: key, Err: err}
	}
	d.log.Warn("distributed cache operation failed", f)
	d.hooks.DistributedError(opID, key, err)
	if d.breaker.TryOpen() {
		d.log.Warn("distributed cache circuit opened", Fields{"cache": d.cacheName, "op": opID, "key": key})
		d.hooks.CircuitBreakerChanged(ComponentDistributed, true)
	}
	return &DistributedCacheError{Op: op, Key: key, Err: err}
}

func (d *distributedAccessor[V]) serializationFailure(opID, key string, encode bool, err error) error {
	d.log.Error("distributed cache serialization failed", Fields{
		"cache": d.cacheName, "op": opID, "key": key, "encode": encode, "err": err,
	})
	se := &SerializationError{Key: key, Encode: encode, Err: err}
	d.hooks.DistributedError(opID, key, se)
	return se
}

func (d *distributedAccessor[V]) selfHeal(ctx context.Context, opID, key, sk string) {
	if err := d.provider.Remove(context.WithoutCancel(ctx), sk); err != nil {
		d.log.Warn("failed to remove corrupt distributed entry", Fields{"cache": d.cacheName, "op": opID, "key": key, "err": err})
	}
}

func toFrame[V any](e *entry[V], logical, physical time.Time, payload []byte) wire.Entry {
	f := wire.Entry{
		Timestamp:          e.timestamp,
		LogicalExpiration:  logical.UnixNano(),
		PhysicalExpiration: physical.UnixNano(),
		Payload:            payload,
	}
	if m := e.meta; m != nil {
		f.Meta = &wire.Meta{
			IsFromFailSafe:  m.isFromFailSafe,
			EagerExpiration: unixNano(m.eagerExpiration),
			LastModified:    unixNano(m.lastModified),
			Size:            m.size,
			Priority:        uint8(m.priority),
			ETag:            m.etag,
			Tags:            m.tags,
		}
	}
	return f
}

func fromFrame[V any](v V, f wire.Entry) *entry[V] {
	e := &entry[V]{
		value:              v,
		timestamp:          f.Timestamp,
		logicalExpiration:  time.Unix(0, f.LogicalExpiration),
		physicalExpiration: time.Unix(0, f.PhysicalExpiration),
	}
	if m := f.Meta; m != nil {
		e.meta = &entryMetadata{
			isFromFailSafe:  m.IsFromFailSafe,
			eagerExpiration: fromUnixNano(m.EagerExpiration),
			lastModified:    fromUnixNano(m.LastModified),
			size:            m.Size,
			priority:        Priority(m.Priority),
			etag:            m.ETag,
			tags:            m.Tags,
		}
	}
	return e
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
