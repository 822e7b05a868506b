package localstore

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultRistrettoConfig sizes the store for roughly 100k items of cost 1.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1e6,
		MaxCost:     1e5,
		BufferItems: 64,
	}
}

// Ristretto is a Store over dgraph-io/ristretto. Costs are taken as given
// (internal cost accounting is disabled) with a floor of 1.
type Ristretto struct {
	c *rc.Cache
}

var _ Store = (*Ristretto)(nil)

type item struct {
	key        string
	value      any
	expiration time.Time
	onEvict    EvictionFunc
}

func NewRistretto(cfg RistrettoConfig) (*Ristretto, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("localstore: invalid ristretto config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		IgnoreInternalCost: true,
		OnEvict:            onRistrettoEvict,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c}, nil
}

func onRistrettoEvict(ri *rc.Item) {
	it, ok := ri.Value.(*item)
	if !ok || it.onEvict == nil {
		return
	}
	it.onEvict(it.key, it.value, evictionReason(it.expiration, time.Now()))
}

func evictionReason(expiration, now time.Time) EvictionReason {
	if !expiration.IsZero() && !now.Before(expiration) {
		return EvictionExpired
	}
	return EvictionCapacity
}

func (r *Ristretto) Get(key string) (any, bool) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false
	}
	it, ok := v.(*item)
	if !ok {
		r.c.Del(key)
		return nil, false
	}
	if !it.expiration.IsZero() && !time.Now().Before(it.expiration) {
		return nil, false
	}
	return it.value, true
}

func (r *Ristretto) Set(key string, value any, cost int64, expiration time.Time, onEvict EvictionFunc) {
	var ttl time.Duration
	if !expiration.IsZero() {
		ttl = time.Until(expiration)
		if ttl <= 0 {
			r.Remove(key)
			return
		}
	}
	if cost < 1 {
		cost = 1
	}
	it := &item{key: key, value: value, expiration: expiration, onEvict: onEvict}
	if !r.c.SetWithTTL(key, it, cost, ttl) {
		// dropped by the write buffer or rejected; don't leave an older value behind
		r.c.Del(key)
	}
	r.c.Wait()
}

func (r *Ristretto) Remove(key string) {
	r.c.Del(key)
	r.c.Wait()
}

func (r *Ristretto) Close() error {
	r.c.Close()
	return nil
}
