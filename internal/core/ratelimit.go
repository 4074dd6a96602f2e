package core

import (
	"sync"
	"time"
)

// IPRateLimiter tracks connection attempts per source address over a
// sliding window. It is process-global shared state; all access is
// serialized by its mutex.
type IPRateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewIPRateLimiter allows at most max connections per address per window.
func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a connection attempt from ip and reports whether it is
// within the limit. The attempt is counted even when rejected.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(ip, now)
	l.hits[ip] = append(recent, now)
	return len(recent) < l.max
}

// Cleanup drops expired timestamps for ip, called opportunistically on
// disconnect so the map does not grow with dead addresses.
func (l *IPRateLimiter) Cleanup(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(ip, l.now())
	if len(recent) == 0 {
		delete(l.hits, ip)
	} else {
		l.hits[ip] = recent
	}
}

// prune returns the timestamps for ip still inside the window. Caller
// holds the mutex.
func (l *IPRateLimiter) prune(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	hits := l.hits[ip]
	keep := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	return keep
}
