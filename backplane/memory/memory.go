// Package memory is an in-process Backplane. Several caches sharing one Hub
// behave like nodes of a fleet connected by a pub/sub channel.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache/backplane"
)

// Hub fans out published payloads to all subscribers synchronously, in the
// publisher's goroutine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]backplane.Handler
	nextID atomic.Uint64
}

var _ backplane.Backplane = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]backplane.Handler)}
}

func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	handlers := make([]backplane.Handler, 0, len(h.subs[channel]))
	for _, fn := range h.subs[channel] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		// each subscriber gets its own copy
		fn(ctx, append([]byte(nil), payload...))
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel string, fn backplane.Handler) (backplane.Subscription, error) {
	id := h.nextID.Add(1)
	h.mu.Lock()
	m, ok := h.subs[channel]
	if !ok {
		m = make(map[uint64]backplane.Handler)
		h.subs[channel] = m
	}
	m[id] = fn
	h.mu.Unlock()

	s := &subscription{hub: h, channel: channel, id: id}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = s.Close()
		}()
	}
	return s, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

type subscription struct {
	hub     *Hub
	channel string
	id      uint64
	once    sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if m, ok := s.hub.subs[s.channel]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(s.hub.subs, s.channel)
			}
		}
		s.hub.mu.Unlock()
	})
	return nil
}
