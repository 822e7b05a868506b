package layercache

import (
	"math/rand"
	"slices"
	"time"
)

// InfiniteTimeout disables a timeout. For LockTimeout it means "wait until
// acquired or the context is done".
const InfiniteTimeout time.Duration = -1

// Priority is carried with an entry for stores that can use it.
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
	PriorityNeverRemove
)

// EntryOptions are the per-call settings of a cache operation. Every call works
// on its own copy (see Duplicate), so the defaults are never mutated.
//
// Factory, distributed and backplane timeouts <= 0 are "not set".
// LockTimeout 0 means a non-blocking try; a negative value waits forever.
type EntryOptions struct {
	Duration          time.Duration
	JitterMaxDuration time.Duration
	LockTimeout       time.Duration

	Size     int64
	Priority Priority
	Tags     []string

	// EagerRefreshThreshold is the fraction of Duration after which a hit starts
	// a background refresh. 0 disables eager refresh.
	EagerRefreshThreshold float64

	IsFailSafeEnabled        bool
	FailSafeMaxDuration      time.Duration
	FailSafeThrottleDuration time.Duration

	// FactorySoftTimeout is honored only when fail-safe is enabled and a
	// fallback value exists.
	FactorySoftTimeout                       time.Duration
	FactoryHardTimeout                       time.Duration
	AllowTimedOutFactoryBackgroundCompletion bool

	// DistributedCacheDuration and DistributedCacheFailSafeMaxDuration override
	// Duration and FailSafeMaxDuration for the copy written to the distributed store.
	DistributedCacheDuration                  time.Duration
	DistributedCacheFailSafeMaxDuration       time.Duration
	DistributedCacheSoftTimeout               time.Duration
	DistributedCacheHardTimeout               time.Duration
	AllowBackgroundDistributedCacheOperations bool
	ReThrowDistributedCacheErrors             bool
	ReThrowSerializationErrors                bool
	// ReThrowOriginalErrors rethrows the store's own error instead of a
	// *DistributedCacheError.
	ReThrowOriginalErrors             bool
	SkipDistributedCacheReadWhenStale bool

	AllowBackgroundBackplaneOperations bool

	SkipMemoryCache            bool
	SkipDistributedCache       bool
	SkipBackplaneNotifications bool
}

// DefaultEntryOptions are used when Options.DefaultEntryOptions is nil.
func DefaultEntryOptions() EntryOptions {
	return EntryOptions{
		Duration:                                 30 * time.Second,
		LockTimeout:                              InfiniteTimeout,
		FailSafeMaxDuration:                      24 * time.Hour,
		FailSafeThrottleDuration:                 30 * time.Second,
		FactorySoftTimeout:                       InfiniteTimeout,
		FactoryHardTimeout:                       InfiniteTimeout,
		AllowTimedOutFactoryBackgroundCompletion: true,
		DistributedCacheSoftTimeout:              InfiniteTimeout,
		DistributedCacheHardTimeout:              InfiniteTimeout,
		ReThrowSerializationErrors:               true,
		AllowBackgroundBackplaneOperations:       true,
	}
}

// Duplicate returns a deep copy.
func (o *EntryOptions) Duplicate() *EntryOptions {
	d := *o
	d.Tags = slices.Clone(o.Tags)
	return &d
}

// Validate rejects combinations that can never be honored.
func (o *EntryOptions) Validate() error {
	switch {
	case o.EagerRefreshThreshold < 0 || o.EagerRefreshThreshold >= 1:
		return &InvalidOptionsError{Field: "EagerRefreshThreshold", Reason: "must be in [0, 1)"}
	case o.JitterMaxDuration < 0:
		return &InvalidOptionsError{Field: "JitterMaxDuration", Reason: "must not be negative"}
	case o.FailSafeMaxDuration < 0:
		return &InvalidOptionsError{Field: "FailSafeMaxDuration", Reason: "must not be negative"}
	case o.FailSafeThrottleDuration < 0:
		return &InvalidOptionsError{Field: "FailSafeThrottleDuration", Reason: "must not be negative"}
	case o.DistributedCacheFailSafeMaxDuration < 0:
		return &InvalidOptionsError{Field: "DistributedCacheFailSafeMaxDuration", Reason: "must not be negative"}
	case o.Size < 0:
		return &InvalidOptionsError{Field: "Size", Reason: "must not be negative"}
	case o.FactorySoftTimeout > 0 && o.FactoryHardTimeout > 0 && o.FactorySoftTimeout > o.FactoryHardTimeout:
		return &InvalidOptionsError{Field: "FactorySoftTimeout", Reason: "must not exceed FactoryHardTimeout"}
	case o.DistributedCacheSoftTimeout > 0 && o.DistributedCacheHardTimeout > 0 &&
		o.DistributedCacheSoftTimeout > o.DistributedCacheHardTimeout:
		return &InvalidOptionsError{Field: "DistributedCacheSoftTimeout", Reason: "must not exceed DistributedCacheHardTimeout"}
	}
	return nil
}

// factoryTimeout is the timeout a factory call runs under.
func (o *EntryOptions) factoryTimeout(hasFallback bool) time.Duration {
	return effectiveTimeout(o.FactorySoftTimeout, o.FactoryHardTimeout, o.IsFailSafeEnabled && hasFallback)
}

func (o *EntryOptions) distributedTimeout(hasFallback bool) time.Duration {
	return effectiveTimeout(o.DistributedCacheSoftTimeout, o.DistributedCacheHardTimeout, o.IsFailSafeEnabled && hasFallback)
}

// effectiveTimeout returns 0 for "no timeout".
func effectiveTimeout(soft, hard time.Duration, useSoft bool) time.Duration {
	if useSoft && soft > 0 && (hard <= 0 || soft < hard) {
		return soft
	}
	if hard > 0 {
		return hard
	}
	return 0
}

// lockTimeout falls back to the factory soft timeout when waiting forever
// would hide a usable fallback.
func (o *EntryOptions) lockTimeout(hasFallback bool) time.Duration {
	if o.LockTimeout < 0 && o.IsFailSafeEnabled && hasFallback && o.FactorySoftTimeout > 0 {
		return o.FactorySoftTimeout
	}
	return o.LockTimeout
}

func (o *EntryOptions) jitter() time.Duration {
	if o.JitterMaxDuration <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(o.JitterMaxDuration)))
}

// removesInsteadOfStoring is true for a non-positive duration without fail-safe:
// such an entry would be dead on arrival.
func (o *EntryOptions) removesInsteadOfStoring() bool {
	return o.Duration <= 0 && !o.IsFailSafeEnabled
}

// EntryOption tunes the options of a single call.
type EntryOption func(*EntryOptions)

func WithDuration(d time.Duration) EntryOption {
	return func(o *EntryOptions) { o.Duration = d }
}

// WithFailSafe enables or disables fail-safe. Non-zero durations replace the defaults.
func WithFailSafe(enabled bool, maxDuration, throttle time.Duration) EntryOption {
	return func(o *EntryOptions) {
		o.IsFailSafeEnabled = enabled
		if maxDuration != 0 {
			o.FailSafeMaxDuration = maxDuration
		}
		if throttle != 0 {
			o.FailSafeThrottleDuration = throttle
		}
	}
}

func WithFactoryTimeouts(soft, hard time.Duration) EntryOption {
	return func(o *EntryOptions) {
		o.FactorySoftTimeout = soft
		o.FactoryHardTimeout = hard
	}
}

func WithBackgroundFactoryCompletion(allow bool) EntryOption {
	return func(o *EntryOptions) { o.AllowTimedOutFactoryBackgroundCompletion = allow }
}

func WithDistributedCacheTimeouts(soft, hard time.Duration) EntryOption {
	return func(o *EntryOptions) {
		o.DistributedCacheSoftTimeout = soft
		o.DistributedCacheHardTimeout = hard
	}
}

func WithDistributedCacheDuration(d, failSafeMax time.Duration) EntryOption {
	return func(o *EntryOptions) {
		o.DistributedCacheDuration = d
		o.DistributedCacheFailSafeMaxDuration = failSafeMax
	}
}

func WithLockTimeout(d time.Duration) EntryOption {
	return func(o *EntryOptions) { o.LockTimeout = d }
}

func WithJitter(d time.Duration) EntryOption {
	return func(o *EntryOptions) { o.JitterMaxDuration = d }
}

func WithEagerRefresh(threshold float64) EntryOption {
	return func(o *EntryOptions) { o.EagerRefreshThreshold = threshold }
}

func WithSize(size int64) EntryOption {
	return func(o *EntryOptions) { o.Size = size }
}

func WithPriority(p Priority) EntryOption {
	return func(o *EntryOptions) { o.Priority = p }
}

func WithTags(tags ...string) EntryOption {
	return func(o *EntryOptions) { o.Tags = slices.Clone(tags) }
}

func WithSkipMemoryCache() EntryOption {
	return func(o *EntryOptions) { o.SkipMemoryCache = true }
}

func WithSkipDistributedCache() EntryOption {
	return func(o *EntryOptions) { o.SkipDistributedCache = true }
}

func WithSkipDistributedCacheReadWhenStale() EntryOption {
	return func(o *EntryOptions) { o.SkipDistributedCacheReadWhenStale = true }
}

func WithSkipBackplaneNotifications() EntryOption {
	return func(o *EntryOptions) { o.SkipBackplaneNotifications = true }
}

func WithBackgroundDistributedOperations(allow bool) EntryOption {
	return func(o *EntryOptions) { o.AllowBackgroundDistributedCacheOperations = allow }
}

func WithBackgroundBackplaneOperations(allow bool) EntryOption {
	return func(o *EntryOptions) { o.AllowBackgroundBackplaneOperations = allow }
}

// WithReThrowDistributedCacheErrors surfaces store failures to the caller.
// With original set, the store's error is returned unwrapped.
func WithReThrowDistributedCacheErrors(rethrow, original bool) EntryOption {
	return func(o *EntryOptions) {
		o.ReThrowDistributedCacheErrors = rethrow
		o.ReThrowOriginalErrors = original
	}
}

func WithReThrowSerializationErrors(rethrow bool) EntryOption {
	return func(o *EntryOptions) { o.ReThrowSerializationErrors = rethrow }
}
