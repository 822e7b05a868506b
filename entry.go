package layercache

import (
	"slices"
	"time"
)

// entry is what the local store holds. Stored entries are never mutated:
// every change is a modified copy that replaces the stored pointer.
type entry[V any] struct {
	value V
	// timestamp is the write time in unix nanoseconds; last write wins across nodes.
	timestamp          int64
	logicalExpiration  time.Time
	physicalExpiration time.Time
	meta               *entryMetadata
}

// entryMetadata is nil unless one of its fields is in use.
type entryMetadata struct {
	isFromFailSafe  bool
	eagerExpiration time.Time
	etag            string
	lastModified    time.Time
	tags            []string
	size            int64
	priority        Priority
}

func (m *entryMetadata) empty() bool {
	return !m.isFromFailSafe && m.eagerExpiration.IsZero() && m.etag == "" &&
		m.lastModified.IsZero() && len(m.tags) == 0 && m.size == 0 && m.priority == PriorityNormal
}

type entryExtras struct {
	etag         string
	lastModified time.Time
	tags         []string
}

// newEntry builds a fresh entry written at now.
//
// With fail-safe the entry outlives its logical expiration up to
// max(Duration, FailSafeMaxDuration), so it can serve as a fallback.
// Jitter shifts both expirations by the same amount.
func newEntry[V any](value V, o *EntryOptions, now time.Time, x entryExtras) *entry[V] {
	logical, physical, eager := expirations(o, now, o.Duration, o.FailSafeMaxDuration)
	e := &entry[V]{
		value:              value,
		timestamp:          now.UnixNano(),
		logicalExpiration:  logical,
		physicalExpiration: physical,
	}
	tags := x.tags
	if tags == nil {
		tags = o.Tags
	}
	m := &entryMetadata{
		eagerExpiration: eager,
		etag:            x.etag,
		lastModified:    x.lastModified,
		tags:            slices.Clone(tags),
		size:            o.Size,
		priority:        o.Priority,
	}
	if !m.empty() {
		e.meta = m
	}
	return e
}

func expirations(o *EntryOptions, now time.Time, d, failSafeMax time.Duration) (logical, physical, eager time.Time) {
	j := o.jitter()
	logical = now.Add(d + j)
	physical = logical
	if o.IsFailSafeEnabled {
		physical = now.Add(max(d, failSafeMax) + j)
	}
	if o.EagerRefreshThreshold > 0 && d > 0 {
		eager = now.Add(time.Duration(float64(d) * o.EagerRefreshThreshold))
	}
	return logical, physical, eager
}

func (e *entry[V]) isLogicallyExpired(now time.Time) bool {
	return !now.Before(e.logicalExpiration)
}

func (e *entry[V]) isPhysicallyExpired(now time.Time) bool {
	return !now.Before(e.physicalExpiration)
}

func (e *entry[V]) isFromFailSafe() bool {
	return e.meta != nil && e.meta.isFromFailSafe
}

func (e *entry[V]) eagerRefreshDue(now time.Time) bool {
	return e.meta != nil && !e.meta.eagerExpiration.IsZero() && !now.Before(e.meta.eagerExpiration)
}

func (e *entry[V]) etag() string {
	if e == nil || e.meta == nil {
		return ""
	}
	return e.meta.etag
}

func (e *entry[V]) lastModified() time.Time {
	if e == nil || e.meta == nil {
		return time.Time{}
	}
	return e.meta.lastModified
}

func (e *entry[V]) clone() *entry[V] {
	c := *e
	if e.meta != nil {
		m := *e.meta
		c.meta = &m
	}
	return &c
}

// expired returns a copy that is logically expired at now. The physical
// expiration is kept so the value remains usable as a fail-safe fallback.
func (e *entry[V]) expired(now time.Time) *entry[V] {
	c := e.clone()
	c.logicalExpiration = now
	if c.meta != nil {
		c.meta.eagerExpiration = time.Time{}
	}
	return c
}

// throttled returns a fail-safe copy that stays valid for throttle. The
// timestamp is kept: a throttled value is not a new write.
func (e *entry[V]) throttled(now time.Time, throttle time.Duration) *entry[V] {
	c := e.clone()
	c.logicalExpiration = now.Add(throttle)
	if c.physicalExpiration.Before(c.logicalExpiration) {
		c.physicalExpiration = c.logicalExpiration
	}
	if c.meta == nil {
		c.meta = &entryMetadata{}
	}
	c.meta.isFromFailSafe = true
	c.meta.eagerExpiration = time.Time{}
	return c
}

// forMemory adapts an entry read from the distributed store to the local
// durations of o: it never stays valid locally longer than Duration.
func (e *entry[V]) forMemory(o *EntryOptions, now time.Time) *entry[V] {
	c := e.clone()
	if limit := now.Add(o.Duration); c.logicalExpiration.After(limit) {
		c.logicalExpiration = limit
	}
	span := o.Duration
	if o.IsFailSafeEnabled {
		span = max(o.Duration, o.FailSafeMaxDuration)
	}
	if limit := now.Add(span); c.physicalExpiration.After(limit) {
		c.physicalExpiration = limit
	}
	if c.physicalExpiration.Before(c.logicalExpiration) {
		c.physicalExpiration = c.logicalExpiration
	}
	if c.meta != nil && c.meta.eagerExpiration.After(c.logicalExpiration) {
		c.meta.eagerExpiration = time.Time{}
	}
	return c
}
