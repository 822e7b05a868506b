// Package redis is a Backplane over redis PUBLISH/SUBSCRIBE.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/layercache/backplane"
)

var ErrNilClient = errors.New("redis backplane: nil client")

type Redis struct {
	rdb goredis.UniversalClient
}

var _ backplane.Backplane = (*Redis)(nil)

type Config struct {
	// Client is owned by the caller; the backplane never closes it.
	Client goredis.UniversalClient
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client}, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis backplane publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed by the server before
// returning, so messages published afterwards are not missed.
func (r *Redis) Subscribe(ctx context.Context, channel string, h backplane.Handler) (backplane.Subscription, error) {
	ps := r.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis backplane subscribe: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		ch := ps.Channel()
		for {
			select {
			case <-sctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h(sctx, []byte(msg.Payload))
			}
		}
	}()
	return s, nil
}

type subscription struct {
	ps     *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}
