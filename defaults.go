package layercache

import "time"

const (
	defaultCacheName         = "default"
	defaultAutoRecoveryItems = 1000
	defaultAutoRecoveryRetry = 10
	defaultAutoRecoveryDelay = 2 * time.Second
	defaultBreakerThreshold  = 1
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
