package httpd

import (
	"sync"
	"time"
)

// rateWindow is the sliding window for per-client send throttling.
const rateWindow = 10 * time.Second

// rateLimiter throttles sends per client IP over a sliding window.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	recent  map[string][]time.Time
	nowFunc func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		recent:  make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

// allow records one request for key and reports whether it fits inside
// the window.
func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	q := l.recent[key]
	for len(q) > 0 && now.Sub(q[0]) > rateWindow {
		q = q[1:]
	}
	if len(q) >= l.limit {
		l.recent[key] = q
		return false
	}
	l.recent[key] = append(q, now)
	return true
}
