package layercache

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/unkn0wn-root/layercache/backplane"
)

// autoRecoveryItem is a queued change. For a Set it keeps the written entry so
// the distributed write can be redone after the local copy is gone.
type autoRecoveryItem[V any] struct {
	msg       backplane.Message
	entry     *entry[V]
	opts      *EntryOptions
	createdAt time.Time
	seq       uint64
	retries   int
}

// autoRecovery holds notifications that could not be delivered, at most one per
// key, and replays them once the distributed store and the backplane are usable.
type autoRecovery[V any] struct {
	c          *cache[V]
	maxItems   int
	maxRetries int
	delay      time.Duration

	mu    sync.Mutex
	items map[string]*autoRecoveryItem[V]
	seq   uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newAutoRecovery[V any](c *cache[V], maxItems, maxRetries int, delay time.Duration) *autoRecovery[V] {
	return &autoRecovery[V]{
		c:          c,
		maxItems:   maxItems,
		maxRetries: maxRetries,
		delay:      delay,
		items:      make(map[string]*autoRecoveryItem[V]),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// enqueue keeps the newest message per key. When full, the oldest item is evicted.
func (q *autoRecovery[V]) enqueue(msg backplane.Message, e *entry[V], opts *EntryOptions) {
	q.mu.Lock()
	if cur, ok := q.items[msg.Key]; ok && cur.msg.Timestamp > msg.Timestamp {
		q.mu.Unlock()
		q.dropped(msg.Key, DropSuperseded)
		return
	}
	q.seq++
	q.items[msg.Key] = &autoRecoveryItem[V]{
		msg:       msg,
		entry:     e,
		opts:      opts.Duplicate(),
		createdAt: time.Now(),
		seq:       q.seq,
	}
	var evicted string
	if q.maxItems > 0 && len(q.items) > q.maxItems {
		var oldest *autoRecoveryItem[V]
		for _, it := range q.items {
			if oldest == nil || it.seq < oldest.seq {
				oldest = it
			}
		}
		delete(q.items, oldest.msg.Key)
		evicted = oldest.msg.Key
	}
	q.mu.Unlock()

	q.c.log.Debug("auto-recovery item enqueued", Fields{"cache": q.c.name, "key": msg.Key, "kind": msg.Kind.String()})
	q.c.hooks.AutoRecoveryEnqueued(msg.Key)
	if evicted != "" {
		q.dropped(evicted, DropCapacity)
	}
}

func (q *autoRecovery[V]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signal schedules a replay after the recovery delay.
func (q *autoRecovery[V]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *autoRecovery[V]) run(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(q.delay)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
		case <-q.wake:
			// let other nodes settle before replaying
			select {
			case <-q.stop:
				return
			case <-time.After(q.delay):
			}
		}
		q.process(ctx)
	}
}

func (q *autoRecovery[V]) close() {
	close(q.stop)
	<-q.done
}

type replayResult uint8

const (
	replayDone replayResult = iota
	replaySuperseded
	replayFailed
)

// process replays queued items oldest first and stops at the first failure.
func (q *autoRecovery[V]) process(ctx context.Context) {
	q.mu.Lock()
	pending := make([]*autoRecoveryItem[V], 0, len(q.items))
	for _, it := range q.items {
		pending = append(pending, it)
	}
	q.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	slices.SortFunc(pending, func(a, b *autoRecoveryItem[V]) int { return cmp.Compare(a.seq, b.seq) })

	q.c.log.Debug("auto-recovery processing", Fields{"cache": q.c.name, "items": len(pending)})
	for _, it := range pending {
		if ctx.Err() != nil {
			return
		}
		switch q.replay(ctx, it) {
		case replayDone:
			if q.removeIf(it) {
				q.c.hooks.AutoRecoveryReplayed(it.msg.Key)
			}
		case replaySuperseded:
			if q.removeIf(it) {
				q.dropped(it.msg.Key, DropSuperseded)
			}
		case replayFailed:
			q.mu.Lock()
			it.retries++
			exhausted := q.maxRetries > 0 && it.retries >= q.maxRetries
			q.mu.Unlock()
			if exhausted && q.removeIf(it) {
				q.dropped(it.msg.Key, DropMaxRetries)
			}
			return
		}
	}
}

// removeIf removes it unless a newer item for the same key replaced it.
func (q *autoRecovery[V]) removeIf(it *autoRecoveryItem[V]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items[it.msg.Key] != it {
		return false
	}
	delete(q.items, it.msg.Key)
	return true
}

func (q *autoRecovery[V]) replay(ctx context.Context, it *autoRecoveryItem[V]) replayResult {
	c, msg, o := q.c, it.msg, it.opts
	opID := newOperationID()

	local := c.l1.get(msg.Key)
	if local != nil && local.timestamp > msg.Timestamp {
		return replaySuperseded
	}

	if c.l2 != nil && !o.SkipDistributedCache {
		if !c.l2.isCurrentlyUsable(opID, msg.Key) {
			return replayFailed
		}
		switch msg.Kind {
		case backplane.KindSet:
			ts, found, err := c.l2.timestamp(ctx, opID, msg.Key, o)
			if err != nil {
				return replayFailed
			}
			if !found || ts < msg.Timestamp {
				e := it.entry
				if local != nil && local.timestamp == msg.Timestamp {
					e = local
				}
				if e == nil {
					return replaySuperseded
				}
				if err := c.l2.set(ctx, opID, msg.Key, e, o); err != nil {
					return replayFailed
				}
			}
		case backplane.KindRemove, backplane.KindExpire:
			if err := c.l2.remove(ctx, opID, msg.Key, o); err != nil {
				return replayFailed
			}
		}
	}

	if c.bp != nil && !o.SkipBackplaneNotifications {
		if err := c.bp.publish(ctx, opID, msg); err != nil {
			return replayFailed
		}
	}
	return replayDone
}

func (q *autoRecovery[V]) dropped(key, reason string) {
	q.c.log.Warn("auto-recovery item dropped", Fields{"cache": q.c.name, "key": key, "reason": reason})
	q.c.hooks.AutoRecoveryDropped(key, reason)
}
