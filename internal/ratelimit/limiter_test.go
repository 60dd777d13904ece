package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := NewLimiter()
	l.SetClock(clock.Now)
	// Clear the constructor's default server state so local windows decide.
	l.UpdateServerState(CategoryAccount, 1, clock.Now())
	l.UpdateServerState(CategoryMarket, 1, clock.Now())
	return l, clock
}

func TestCategoryFor(t *testing.T) {
	assert.Equal(t, CategoryAccount, CategoryFor("v1/accounts"))
	assert.Equal(t, CategoryAccount, CategoryFor("/v1/accounts/123/positions"))
	assert.Equal(t, CategoryAccount, CategoryFor("v1/time"))
	assert.Equal(t, CategoryMarket, CategoryFor("v1/markets/quotes"))
	assert.Equal(t, CategoryMarket, CategoryFor("/v1/symbols/search"))
	assert.Equal(t, CategoryMarket, CategoryFor("v1/symbols/8049/options"))
}

func TestWaitDurationSecondWindowSaturated(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < categoryLimits[CategoryMarket].perSecond; i++ {
		l.Record(CategoryMarket)
	}
	clock.Advance(100 * time.Millisecond)

	wait := l.WaitDuration(CategoryMarket)
	require.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)
	assert.InDelta(t, 0.9, wait.Seconds(), 0.001)

	clock.Advance(time.Second)
	assert.Equal(t, time.Duration(0), l.WaitDuration(CategoryMarket))
}

func TestWaitDurationSpreadRequests(t *testing.T) {
	l, clock := newTestLimiter()

	// Same number of requests, but spaced beyond the one second window.
	for i := 0; i < categoryLimits[CategoryMarket].perSecond; i++ {
		l.Record(CategoryMarket)
		clock.Advance(200 * time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), l.WaitDuration(CategoryMarket))
}

func TestServerStateTakesPriority(t *testing.T) {
	l, clock := newTestLimiter()

	resetAt := clock.Now().Add(5 * time.Second)
	l.UpdateServerState(CategoryAccount, 0, resetAt)

	// The local window is empty, yet the server says we are out of quota.
	wait := l.WaitDuration(CategoryAccount)
	assert.Equal(t, 5*time.Second, wait)

	clock.Advance(6 * time.Second)
	assert.Equal(t, time.Duration(0), l.WaitDuration(CategoryAccount))
}

func TestServerStateAllowsDespiteEmptyWindow(t *testing.T) {
	l, clock := newTestLimiter()

	l.UpdateServerState(CategoryMarket, 5, clock.Now().Add(time.Second))
	assert.Equal(t, time.Duration(0), l.WaitDuration(CategoryMarket))
}

func TestHourWindowSaturated(t *testing.T) {
	l, clock := newTestLimiter()

	lim := categoryLimits[CategoryAccount]
	start := clock.Now()
	for i := 0; i < lim.perHour; i++ {
		l.Record(CategoryAccount)
	}
	// The second window saturates too, but one second later only the hour
	// window should still be holding requests back.
	clock.Advance(2 * time.Second)
	wait := l.WaitDuration(CategoryAccount)
	require.Greater(t, wait, time.Duration(0))
	assert.Equal(t, time.Hour-clock.Now().Sub(start), wait)
}

func TestWindowEvictsOldest(t *testing.T) {
	w := newWindow(3)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		w.record(base.Add(time.Duration(i) * time.Second))
	}
	require.True(t, w.full())
	assert.Len(t, w.items, 3)
	assert.Equal(t, base.Add(2*time.Second), w.oldest())
}

func TestRecordConcurrent(t *testing.T) {
	l := NewLimiter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Record(CategoryMarket)
				l.WaitDuration(CategoryMarket)
			}
		}()
	}
	wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state[CategoryMarket]
	assert.Len(t, st.second.items, categoryLimits[CategoryMarket].perSecond)
}
