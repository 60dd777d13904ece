package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Category is a rate-limit accounting bucket. Questrade meters account-data
// and market-data endpoints against separate quotas.
type Category int

const (
	CategoryAccount Category = iota
	CategoryMarket
)

func (c Category) String() string {
	if c == CategoryMarket {
		return "market"
	}
	return "account"
}

// limits holds the per-second and per-hour request quota for one category.
type limits struct {
	perSecond int
	perHour   int
}

// Questrade publishes 30 req/s, 30000 req/h for account calls and
// 20 req/s, 15000 req/h for market data calls.
var categoryLimits = map[Category]limits{
	CategoryAccount: {perSecond: 30, perHour: 30000},
	CategoryMarket:  {perSecond: 20, perHour: 15000},
}

// window is a fixed-capacity ring of request timestamps. When full, recording
// a new timestamp evicts the oldest. "Saturated" is therefore a plain size
// check rather than a timestamp prune.
type window struct {
	cap   int
	items []time.Time
}

func newWindow(capacity int) *window {
	return &window{cap: capacity}
}

func (w *window) record(t time.Time) {
	if len(w.items) == w.cap {
		w.items = w.items[1:]
	}
	w.items = append(w.items, t)
}

func (w *window) full() bool { return len(w.items) >= w.cap }

func (w *window) oldest() time.Time { return w.items[0] }

type categoryState struct {
	second *window
	hour   *window

	// Server-reported state from the last X-RateLimit-* headers seen. It is
	// authoritative: when remaining hits zero the reset time wins over any
	// local window estimate.
	remaining int
	resetAt   time.Time
}

// Limiter enforces Questrade API rate limits across both request categories.
// One Limiter may be shared by every client operating under the same
// provider-side quota; all state is guarded by a single mutex.
type Limiter struct {
	mu    sync.Mutex
	state map[Category]*categoryState
	now   func() time.Time
}

func NewLimiter() *Limiter {
	l := &Limiter{
		state: make(map[Category]*categoryState, len(categoryLimits)),
		now:   time.Now,
	}
	for cat, lim := range categoryLimits {
		l.state[cat] = &categoryState{
			second:    newWindow(lim.perSecond),
			hour:      newWindow(lim.perHour),
			remaining: lim.perSecond,
			resetAt:   l.now().Add(time.Second),
		}
	}
	return l
}

// SetClock replaces the wall clock, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Record notes that a request of the given category is being issued now.
// Call it immediately before the HTTP call so local accounting reflects real
// issue order.
func (l *Limiter) Record(cat Category) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state[cat]
	t := l.now()
	st.second.record(t)
	st.hour.record(t)
}

// UpdateServerState overwrites the header-reported remaining/reset values for
// a category. Call it after every response carrying rate-limit headers,
// regardless of status code.
func (l *Limiter) UpdateServerState(cat Category, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state[cat]
	st.remaining = remaining
	st.resetAt = resetAt
}

// WaitDuration returns how long the caller must wait before issuing the next
// request of the given category. Zero means "go ahead". The result is never
// negative.
//
// Server-reported state is checked first; the local sliding windows only
// matter when the server still allows requests (or has not reported yet).
func (l *Limiter) WaitDuration(cat Category) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state[cat]
	now := l.now()

	if st.remaining <= 0 {
		if wait := st.resetAt.Sub(now); wait > 0 {
			return wait
		}
	}
	if st.second.full() {
		if wait := time.Second - now.Sub(st.second.oldest()); wait > 0 {
			return wait
		}
	}
	if st.hour.full() {
		if wait := time.Hour - now.Sub(st.hour.oldest()); wait > 0 {
			return wait
		}
	}
	return 0
}

// CategoryFor classifies an endpoint path into its rate-limit category.
// Market data endpoints live under v1/markets and v1/symbols; everything
// else (accounts, time) meters against the account quota.
func CategoryFor(endpoint string) Category {
	endpoint = strings.TrimLeft(endpoint, "/")
	if strings.HasPrefix(endpoint, "v1/markets") || strings.HasPrefix(endpoint, "v1/symbols") {
		return CategoryMarket
	}
	return CategoryAccount
}
