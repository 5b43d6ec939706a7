// Package budget caps how many messages one address can be sent within a
// sliding window.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/teranos/wakeup/errors"
)

// ErrRateLimited is returned by Allow when the key has used its window
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultWindow is the sliding window length
const DefaultWindow = time.Minute

// Limiter enforces max events per key per window using a sliding window
type Limiter struct {
	max     int
	window  time.Duration
	mu      sync.Mutex
	events  map[string][]time.Time
	timeNow func() time.Time
}

// NewLimiter allows max events per key per minute
func NewLimiter(max int) *Limiter {
	return NewLimiterWithClock(max, DefaultWindow, time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock
func NewLimiterWithClock(max int, window time.Duration, timeNow func() time.Time) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:     max,
		window:  window,
		events:  make(map[string][]time.Time),
		timeNow: timeNow,
	}
}

// Allow records an event for key, or returns ErrRateLimited when key is at
// its limit. A limiter with max <= 0 allows everything.
func (l *Limiter) Allow(key string) error {
	if l == nil || l.max <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	times := l.prune(key, now)
	if len(times) >= l.max {
		err := errors.Wrapf(ErrRateLimited, "%d events in %s (limit: %d)", len(times), l.window, l.max)
		return errors.WithDetail(err, fmt.Sprintf("Retry after: %s", times[0].Add(l.window).Sub(now).Round(time.Second)))
	}
	l.events[key] = append(times, now)
	return nil
}

// prune drops timestamps outside the window. Must be called with lock held.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	times := l.events[key]
	cutoff := now.Add(-l.window)

	expired := 0
	for _, t := range times {
		if t.After(cutoff) {
			break
		}
		expired++
	}
	times = times[expired:]
	if len(times) == 0 {
		delete(l.events, key)
		return nil
	}
	l.events[key] = times
	return times
}

// Remaining returns how many more events key may record in the current window
func (l *Limiter) Remaining(key string) int {
	if l == nil || l.max <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.max - len(l.prune(key, l.timeNow()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears all keys
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make(map[string][]time.Time)
}
