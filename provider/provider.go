// Package provider defines the distributed (L2) store boundary.
//
// Providers are byte stores: Get must return exactly the bytes given to Set.
// Keys written by a cache are prefixed with "<cache name>:"; foreign values
// under that prefix fail frame validation and are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a byte store shared by every node of a cache. It must be safe for
// concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl. A ttl <= 0 stores without expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases resources owned by the provider.
	Close(ctx context.Context) error
}
