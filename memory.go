package layercache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/layercache/localstore"
)

const writeStripes = 64

// memoryAccessor wraps the local store.
type memoryAccessor[V any] struct {
	store     localstore.Store
	cacheName string
	log       Logger
	hooks     Hooks

	// orders writes to the same key so setUnlessNewer can compare timestamps
	mu [writeStripes]sync.Mutex
}

func (m *memoryAccessor[V]) stripe(key string) *sync.Mutex {
	return &m.mu[xxhash.Sum64String(key)%writeStripes]
}

// get returns the stored entry, expired or not, or nil.
func (m *memoryAccessor[V]) get(key string) *entry[V] {
	v, ok := m.store.Get(key)
	if !ok {
		return nil
	}
	e, ok := v.(*entry[V])
	if !ok {
		m.log.Warn("unexpected value in local store; removing", Fields{"cache": m.cacheName, "key": key})
		m.store.Remove(key)
		return nil
	}
	return e
}

// tryGet returns the entry and whether it is logically valid at now.
func (m *memoryAccessor[V]) tryGet(key string, now time.Time) (*entry[V], bool) {
	e := m.get(key)
	if e == nil {
		return nil, false
	}
	return e, !e.isLogicallyExpired(now)
}

func (m *memoryAccessor[V]) set(opID, key string, e *entry[V]) {
	mu := m.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	m.put(opID, key, e)
}

// setUnlessNewer stores e unless the local entry carries a newer timestamp,
// and returns whichever entry is left in place.
func (m *memoryAccessor[V]) setUnlessNewer(opID, key string, e *entry[V]) *entry[V] {
	mu := m.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	if cur := m.get(key); cur != nil && cur.timestamp > e.timestamp {
		return cur
	}
	m.put(opID, key, e)
	return e
}

func (m *memoryAccessor[V]) put(opID, key string, e *entry[V]) {
	if e.isPhysicallyExpired(time.Now()) {
		m.store.Remove(key)
		return
	}
	cost := int64(1)
	if e.meta != nil && e.meta.size > 0 {
		cost = e.meta.size
	}
	m.store.Set(key, e, cost, e.physicalExpiration, m.onEvict)
	m.log.Debug("memory set", Fields{"cache": m.cacheName, "op": opID, "key": key})
}

func (m *memoryAccessor[V]) remove(opID, key string) {
	m.store.Remove(key)
	m.log.Debug("memory remove", Fields{"cache": m.cacheName, "op": opID, "key": key})
}

// expire logically expires key. Without fail-safe there is nothing worth
// keeping and the entry is removed.
func (m *memoryAccessor[V]) expire(opID, key string, allowFailSafe bool) {
	if !allowFailSafe {
		m.remove(opID, key)
		return
	}
	e := m.get(key)
	if e == nil {
		return
	}
	m.set(opID, key, e.expired(time.Now()))
}

func (m *memoryAccessor[V]) onEvict(key string, _ any, reason localstore.EvictionReason) {
	m.hooks.Eviction(key, reason.String())
}
