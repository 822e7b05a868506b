// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache"
)

type Options struct {
	// Sampling to avoid floods on hot paths; 0/1 = log all.
	HitEvery  uint64
	MissEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

// Hooks logs hits, misses and writes at Debug, degraded operation (fail-safe,
// timeouts, store errors) at Warn and circuit changes at Info.
type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr  atomic.Uint64
	missCtr atomic.Uint64
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(opID, key string, stale bool) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("layercache.hit", "op", opID, "key", h.redact(key), "stale", stale)
}

func (h *Hooks) Miss(opID, key string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("layercache.miss", "op", opID, "key", h.redact(key))
}

func (h *Hooks) Set(opID, key string)    { h.debug("layercache.set", opID, key) }
func (h *Hooks) Remove(opID, key string) { h.debug("layercache.remove", opID, key) }
func (h *Hooks) Expire(opID, key string) { h.debug("layercache.expire", opID, key) }

func (h *Hooks) Eviction(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("layercache.eviction", "key", h.redact(key), "reason", reason)
}

func (h *Hooks) FactoryError(opID, key string, err error) {
	h.warn("layercache.factory_error", opID, key, err)
}

func (h *Hooks) FactorySyntheticTimeout(opID, key string) {
	h.warn("layercache.factory_timeout", opID, key, nil)
}

func (h *Hooks) FailSafeActivated(opID, key string) {
	h.warn("layercache.fail_safe", opID, key, nil)
}

func (h *Hooks) BackgroundFactorySuccess(opID, key string) {
	h.debug("layercache.background_factory_success", opID, key)
}

func (h *Hooks) BackgroundFactoryError(opID, key string, err error) {
	h.warn("layercache.background_factory_error", opID, key, err)
}

func (h *Hooks) DistributedError(opID, key string, err error) {
	h.warn("layercache.distributed_error", opID, key, err)
}

func (h *Hooks) CircuitBreakerChanged(component string, open bool) {
	if h.l == nil {
		return
	}
	h.l.Info("layercache.circuit_breaker", "component", component, "open", open)
}

func (h *Hooks) BackplanePublished(opID, key, kind string) {
	if h.l == nil {
		return
	}
	h.l.Debug("layercache.backplane_published", "op", opID, "key", h.redact(key), "kind", kind)
}

func (h *Hooks) BackplaneReceived(key, kind string) {
	if h.l == nil {
		return
	}
	h.l.Debug("layercache.backplane_received", "key", h.redact(key), "kind", kind)
}

func (h *Hooks) AutoRecoveryEnqueued(key string) {
	h.debug("layercache.auto_recovery_enqueued", "", key)
}

func (h *Hooks) AutoRecoveryReplayed(key string) {
	h.debug("layercache.auto_recovery_replayed", "", key)
}

func (h *Hooks) AutoRecoveryDropped(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("layercache.auto_recovery_dropped", "key", h.redact(key), "reason", reason)
}

func (h *Hooks) debug(msg, opID, key string) {
	if h.l == nil {
		return
	}
	if opID == "" {
		h.l.Debug(msg, "key", h.redact(key))
		return
	}
	h.l.Debug(msg, "op", opID, "key", h.redact(key))
}

func (h *Hooks) warn(msg, opID, key string, err error) {
	if h.l == nil {
		return
	}
	if err == nil {
		h.l.Warn(msg, "op", opID, "key", h.redact(key))
		return
	}
	h.l.Warn(msg, "op", opID, "key", h.redact(key), "err", err)
}
