package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestBreaker(d time.Duration, threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(d, threshold)
	b.now = clk.Now
	return b, clk
}

func TestBreaker_InitialStateClosed(t *testing.T) {
	b, _ := newTestBreaker(time.Second, 1)
	closed, justClosed := b.IsClosed()
	assert.True(t, closed)
	assert.False(t, justClosed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(time.Second, 3)

	assert.False(t, b.TryOpen())
	assert.False(t, b.TryOpen())
	closed, _ := b.IsClosed()
	assert.True(t, closed, "below threshold the breaker stays closed")

	assert.True(t, b.TryOpen())
	closed, _ = b.IsClosed()
	assert.False(t, closed)
	assert.True(t, b.IsOpen())
}

func TestBreaker_ReclosesAfterWindowExactlyOnce(t *testing.T) {
	b, clk := newTestBreaker(time.Second, 1)
	assert.True(t, b.TryOpen())

	clk.t = clk.t.Add(999 * time.Millisecond)
	closed, _ := b.IsClosed()
	assert.False(t, closed)

	clk.t = clk.t.Add(2 * time.Millisecond)
	closed, justClosed := b.IsClosed()
	assert.True(t, closed)
	assert.True(t, justClosed)

	closed, justClosed = b.IsClosed()
	assert.True(t, closed)
	assert.False(t, justClosed)
}

func TestBreaker_FailureWhileOpenExtendsWindow(t *testing.T) {
	b, clk := newTestBreaker(time.Second, 1)
	assert.True(t, b.TryOpen())

	clk.t = clk.t.Add(500 * time.Millisecond)
	assert.False(t, b.TryOpen(), "extending is not a new opening")

	clk.t = clk.t.Add(700 * time.Millisecond)
	closed, _ := b.IsClosed()
	assert.False(t, closed, "window was extended from the second failure")
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(time.Second, 2)
	b.TryOpen()
	assert.False(t, b.Close())
	assert.False(t, b.TryOpen(), "count restarted after success")
}

func TestBreaker_DisabledNeverOpens(t *testing.T) {
	b := New(0, 1)
	for i := 0; i < 10; i++ {
		assert.False(t, b.TryOpen())
	}
	closed, _ := b.IsClosed()
	assert.True(t, closed)
	assert.False(t, b.Enabled())
}
