package bigcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute})
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Second))
	b, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), b)

	require.NoError(t, p.Remove(ctx, "k"))
	require.NoError(t, p.Remove(ctx, "k"), "removing a missing key is not an error")
	_, ok, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestCloseTwice(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute})
	require.NoError(t, err)
	require.NoError(t, p.Close(ctx))
	require.NoError(t, p.Close(ctx))
}
