// Package localstore defines the in-process (L1) store boundary and its
// default ristretto implementation.
package localstore

import "time"

// EvictionReason tells why a store dropped an item on its own.
type EvictionReason uint8

const (
	EvictionExpired EvictionReason = iota + 1
	EvictionCapacity
)

func (r EvictionReason) String() string {
	switch r {
	case EvictionExpired:
		return "expired"
	case EvictionCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// EvictionFunc is called after the store evicted key. It is not called for
// explicit Remove calls or for overwrites.
type EvictionFunc func(key string, value any, reason EvictionReason)

// Store is a concurrent in-process key/value store with absolute expiration.
//
// A value written by Set must be visible to the next Get from any goroutine.
type Store interface {
	Get(key string) (any, bool)
	// Set stores value until expiration. A zero expiration never expires;
	// an expiration in the past removes key. onEvict may be nil.
	Set(key string, value any, cost int64, expiration time.Time, onEvict EvictionFunc)
	Remove(key string)
	Close() error
}
