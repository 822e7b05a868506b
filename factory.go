package layercache

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Factory produces the value for a key on a cache miss.
//
// ctx is cancelled on a hard timeout unless background completion is allowed,
// in which case the factory keeps running after the caller stopped waiting.
type Factory[V any] func(ctx context.Context, fc *FactoryContext[V]) (V, error)

var errNoStaleValue = errors.New("layercache: NotModified called without a stale value")

// FactoryContext gives a factory access to the value it is replacing and lets
// it adapt the options of the entry it produces. It is owned by one factory
// call and must not be retained after the factory returns.
type FactoryContext[V any] struct {
	stale *entry[V]
	opts  *EntryOptions

	tags         []string
	etag         string
	lastModified time.Time
	notModified  bool
}

func newFactoryContext[V any](opts *EntryOptions, stale *entry[V]) *FactoryContext[V] {
	return &FactoryContext[V]{stale: stale, opts: opts}
}

// HasStaleValue reports whether an expired value for the key is known.
func (fc *FactoryContext[V]) HasStaleValue() bool { return fc.stale != nil }

// StaleValue returns the expired value, or the zero value.
func (fc *FactoryContext[V]) StaleValue() V {
	if fc.stale == nil {
		var zero V
		return zero
	}
	return fc.stale.value
}

// ETag of the stale value, for conditional requests.
func (fc *FactoryContext[V]) ETag() string { return fc.stale.etag() }

// LastModified of the stale value, for conditional requests.
func (fc *FactoryContext[V]) LastModified() time.Time { return fc.stale.lastModified() }

// Options returns this call's private copy of the entry options. Changes made
// before the factory returns apply to the entry it produces.
func (fc *FactoryContext[V]) Options() *EntryOptions { return fc.opts }

func (fc *FactoryContext[V]) SetTags(tags ...string) { fc.tags = slices.Clone(tags) }

// Fail reports a failure without an underlying error. Fail-safe applies as for
// any other factory error.
func (fc *FactoryContext[V]) Fail(msg string) (V, error) {
	var zero V
	return zero, &FactoryFailedError{Message: msg}
}

// Modified returns v and records its etag and last-modified time.
func (fc *FactoryContext[V]) Modified(v V, etag string, lastModified time.Time) (V, error) {
	fc.etag = etag
	fc.lastModified = lastModified
	return v, nil
}

// NotModified keeps the stale value (and its etag) as the fresh value.
func (fc *FactoryContext[V]) NotModified() (V, error) {
	if fc.stale == nil {
		var zero V
		return zero, errNoStaleValue
	}
	fc.notModified = true
	fc.etag = fc.stale.etag()
	fc.lastModified = fc.stale.lastModified()
	return fc.stale.value, nil
}

// newEntry builds the entry for a factory result at now.
func (fc *FactoryContext[V]) newEntry(v V, o *EntryOptions, now time.Time) *entry[V] {
	tags := fc.tags
	if tags == nil && fc.notModified && fc.stale.meta != nil {
		tags = fc.stale.meta.tags
	}
	return newEntry(v, o, now, entryExtras{etag: fc.etag, lastModified: fc.lastModified, tags: tags})
}

type factoryOutcome uint8

const (
	factoryOK factoryOutcome = iota
	factoryTimedOut
	factoryFailed
	factoryCanceled
)

// factoryResult is the tagged outcome of one factory invocation.
type factoryResult[V any] struct {
	outcome factoryOutcome
	value   V
	err     error
}
