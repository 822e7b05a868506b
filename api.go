package layercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/layercache/backplane"
	"github.com/unkn0wn-root/layercache/codec"
	"github.com/unkn0wn-root/layercache/localstore"
	"github.com/unkn0wn-root/layercache/provider"
)

// Cache is a two-level cache with stampede protection, fail-safe and
// cross-node invalidation. V is the caller's value type; the local level keeps
// values as-is and the distributed level stores them through Codec.
type Cache[V any] interface {
	// GetOrSet returns the cached value for key, calling factory at most once
	// per key at a time when there is none.
	GetOrSet(ctx context.Context, key string, factory Factory[V], opts ...EntryOption) (V, error)
	// GetOrSetWithDefault is GetOrSet with failSafeDefault as the last fail-safe fallback.
	GetOrSetWithDefault(ctx context.Context, key string, factory Factory[V], failSafeDefault V, opts ...EntryOption) (V, error)

	TryGet(ctx context.Context, key string, opts ...EntryOption) (v V, ok bool, err error)
	GetOrDefault(ctx context.Context, key string, def V, opts ...EntryOption) (V, error)

	Set(ctx context.Context, key string, value V, opts ...EntryOption) error
	Remove(ctx context.Context, key string, opts ...EntryOption) error
	// Expire marks key as stale everywhere. With fail-safe the local value is
	// kept as a fallback, otherwise it is removed.
	Expire(ctx context.Context, key string, opts ...EntryOption) error

	CacheName() string
	InstanceID() string
	DefaultEntryOptions() EntryOptions

	// Close stops background work. The Provider and Backplane are owned by the
	// caller and are left open.
	Close(ctx context.Context) error
}

// Options configure a Cache. Everything is optional; without a Provider and a
// Backplane the cache is purely local.
type Options[V any] struct {
	CacheName  string // shared by every node of the same logical cache; default "default"
	InstanceID string // unique per process; default random UUID

	LocalStore localstore.Store    // nil => ristretto with DefaultRistrettoConfig
	Provider   provider.Provider   // nil => no distributed level
	Codec      codec.Codec[V]      // required with Provider
	Backplane  backplane.Backplane // nil => no notifications

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	DefaultEntryOptions *EntryOptions // nil => DefaultEntryOptions()

	DistributedCacheCircuitBreakerDuration  time.Duration // 0 => breaker disabled
	DistributedCacheCircuitBreakerThreshold int           // failures before opening; default 1
	BackplaneCircuitBreakerDuration         time.Duration // 0 => breaker disabled
	BackplaneTimeout                        time.Duration // 0 => none
	BackplaneChannelPrefix                  string        // default CacheName

	DisableAutoRecovery       bool
	AutoRecoveryMaxItems      int           // default 1000
	AutoRecoveryMaxRetryCount int           // default 10
	AutoRecoveryDelay         time.Duration // default 2s
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
