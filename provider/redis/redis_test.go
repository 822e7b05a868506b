package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	p, err := New(Config{Client: client, CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return mr, p
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestGetSetRemove(t *testing.T) {
	ctx := context.Background()
	_, p := setup(t)

	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Set(ctx, "k", []byte{0, 1, 2}, 0))
	b, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2}, b)

	require.NoError(t, p.Remove(ctx, "k"))
	require.NoError(t, p.Remove(ctx, "k"))
	_, ok, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	mr, p := setup(t)

	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServerErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	mr, p := setup(t)
	mr.SetError("LOADING")
	_, _, err := p.Get(ctx, "k")
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	_, p := setup(t)
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}
