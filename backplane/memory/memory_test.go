package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFansOutToAllSubscribers(t *testing.T) {
	ctx := context.Background()
	h := NewHub()

	var a, b [][]byte
	subA, err := h.Subscribe(ctx, "ch", func(_ context.Context, p []byte) { a = append(a, p) })
	require.NoError(t, err)
	subB, err := h.Subscribe(ctx, "ch", func(_ context.Context, p []byte) { b = append(b, p) })
	require.NoError(t, err)
	_, err = h.Subscribe(ctx, "other", func(_ context.Context, p []byte) { t.Fatalf("wrong channel") })
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, "ch", []byte("hello")))
	assert.Equal(t, [][]byte{[]byte("hello")}, a)
	assert.Equal(t, [][]byte{[]byte("hello")}, b)

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close())
	require.NoError(t, h.Publish(ctx, "ch", []byte("again")))
	assert.Len(t, a, 1)
	assert.Len(t, b, 2)

	require.NoError(t, subB.Close())
	assert.Equal(t, 0, h.Subscribers("ch"))
}

func TestHubPayloadIsCopiedPerSubscriber(t *testing.T) {
	ctx := context.Background()
	h := NewHub()

	var got []byte
	_, err := h.Subscribe(ctx, "ch", func(_ context.Context, p []byte) { got = p })
	require.NoError(t, err)

	buf := []byte("abc")
	require.NoError(t, h.Publish(ctx, "ch", buf))
	buf[0] = 'X'
	assert.Equal(t, "abc", string(got))
}

func TestHubSubscriptionEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	_, err := h.Subscribe(ctx, "ch", func(context.Context, []byte) {})
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers("ch"))

	cancel()
	assert.Eventually(t, func() bool { return h.Subscribers("ch") == 0 }, time.Second, 5*time.Millisecond)
}
