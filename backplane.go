package layercache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/layercache/backplane"
	"github.com/unkn0wn-root/layercache/internal/circuit"
	"github.com/unkn0wn-root/layercache/internal/timeout"
	"github.com/unkn0wn-root/layercache/internal/wire"
)

var errBackplaneUnavailable = errors.New("layercache: backplane circuit open")

// backplaneAccessor publishes change notifications for this instance.
type backplaneAccessor struct {
	bp         backplane.Backplane
	channel    string
	instanceID string
	timeout    time.Duration
	breaker    *circuit.Breaker
	cacheName  string
	log        Logger
	hooks      Hooks

	onBreakerClosed func()
}

// ChannelName is the backplane channel of a cache: the prefix (default the
// cache name) followed by ".backplane".
func ChannelName(prefix, cacheName string) string {
	return coalesce(prefix, cacheName) + ".backplane"
}

func (b *backplaneAccessor) isCurrentlyUsable() bool {
	closed, justClosed := b.breaker.IsClosed()
	if justClosed {
		b.log.Info("backplane circuit closed", Fields{"cache": b.cacheName})
		b.hooks.CircuitBreakerChanged(ComponentBackplane, false)
		if b.onBreakerClosed != nil {
			b.onBreakerClosed()
		}
	}
	return closed
}

// publish sends msg once. Failures are logged and returned; queueing them for
// auto-recovery is up to the caller.
func (b *backplaneAccessor) publish(ctx context.Context, opID string, msg backplane.Message) error {
	if !b.isCurrentlyUsable() {
		return errBackplaneUnavailable
	}
	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		b.log.Error("backplane message encode failed", Fields{"cache": b.cacheName, "op": opID, "key": msg.Key, "err": err})
		return err
	}
	_, err = timeout.Run(ctx, b.timeout, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.bp.Publish(ctx, b.channel, payload)
	}, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.log.Warn("backplane publish failed", Fields{
			"cache": b.cacheName, "op": opID, "key": msg.Key, "kind": msg.Kind.String(), "err": err,
		})
		if b.breaker.TryOpen() {
			b.log.Warn("backplane circuit opened", Fields{"cache": b.cacheName, "op": opID})
			b.hooks.CircuitBreakerChanged(ComponentBackplane, true)
		}
		return err
	}
	if b.breaker.Close() {
		b.log.Info("backplane circuit closed", Fields{"cache": b.cacheName})
		b.hooks.CircuitBreakerChanged(ComponentBackplane, false)
		if b.onBreakerClosed != nil {
			b.onBreakerClosed()
		}
	}
	b.hooks.BackplanePublished(opID, msg.Key, msg.Kind.String())
	return nil
}

func (b *backplaneAccessor) subscribe(ctx context.Context, h func(context.Context, backplane.Message)) (backplane.Subscription, error) {
	return b.bp.Subscribe(ctx, b.channel, func(ctx context.Context, payload []byte) {
		msg, err := wire.DecodeMessage(payload)
		if err != nil {
			b.log.Warn("invalid backplane message", Fields{"cache": b.cacheName, "err": err})
			return
		}
		if msg.SenderID == b.instanceID {
			return
		}
		b.hooks.BackplaneReceived(msg.Key, msg.Kind.String())
		h(ctx, msg)
	})
}
