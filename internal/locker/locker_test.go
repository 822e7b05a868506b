package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusivePerKey(t *testing.T) {
	l := New()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk, err := l.Acquire(ctx, "k", -1)
			if !assert.NoError(t, err) || !assert.NotNil(t, lk) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			lk.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Len(), "registry should be empty once nobody holds the key")
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	l := New()
	ctx := context.Background()

	a, err := l.Acquire(ctx, "a", 0)
	require.NoError(t, err)
	require.NotNil(t, a)
	defer a.Release()

	b, err := l.Acquire(ctx, "b", 0)
	require.NoError(t, err)
	require.NotNil(t, b)
	b.Release()
}

func TestZeroTimeoutReturnsImmediatelyWhenContended(t *testing.T) {
	l := New()
	ctx := context.Background()

	held, err := l.Acquire(ctx, "k", -1)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	lk, err := l.Acquire(ctx, "k", 0)
	assert.NoError(t, err)
	assert.Nil(t, lk)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTimeoutIsNotAnError(t *testing.T) {
	l := New()
	ctx := context.Background()

	held, err := l.Acquire(ctx, "k", -1)
	require.NoError(t, err)
	defer held.Release()

	lk, err := l.Acquire(ctx, "k", 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, lk)
	assert.Equal(t, 1, l.Len())
}

func TestCancellationPropagates(t *testing.T) {
	l := New()

	held, err := l.Acquire(context.Background(), "k", -1)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	lk, err := l.Acquire(ctx, "k", -1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, lk)
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New()
	ctx := context.Background()

	lk, err := l.Acquire(ctx, "k", -1)
	require.NoError(t, err)
	lk.Release()
	lk.Release()

	var nilLock *Lock
	nilLock.Release()

	again, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	require.NotNil(t, again, "double release must not leave the key locked")
	again.Release()

	// a second waiter must still be excluded after the double release
	first, _ := l.Acquire(ctx, "k", 0)
	second, _ := l.Acquire(ctx, "k", 0)
	assert.NotNil(t, first)
	assert.Nil(t, second)
	first.Release()
}
