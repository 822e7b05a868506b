package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bp, err := New(Config{Client: newTestRedis(t)})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	sub, err := bp.Subscribe(ctx, "cache.backplane", func(_ context.Context, p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bp.Publish(ctx, "cache.backplane", []byte("one")))
	require.NoError(t, bp.Publish(ctx, "cache.backplane", []byte("two")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"one", "two"}, got)
	mu.Unlock()

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestPublishAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	bp, err := New(Config{Client: client})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.Error(t, bp.Publish(ctx, "ch", []byte("x")))
}
