package marketdata

import (
	"math"
	"sync"
	"time"
)

// rateWindowLength is the fixed sliding-window span for provider limits.
const rateWindowLength = time.Hour

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter tracks request counts per provider over a fixed one-hour
// window. Windows restart on the first request after expiry. Safe for
// concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// CanRequest reports whether provider name may issue a request under limit
// requests per hour. An infinite limit always allows.
func (rl *RateLimiter) CanRequest(name string, limit float64) bool {
	if math.IsInf(limit, 1) {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[name]
	if !exists || !rl.now().Before(w.start.Add(rateWindowLength)) {
		return true
	}
	return float64(w.count) < limit
}

// RecordRequest counts one request against provider name, starting a new
// window when none is active.
func (rl *RateLimiter) RecordRequest(name string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.windows[name]
	if !exists || !now.Before(w.start.Add(rateWindowLength)) {
		rl.windows[name] = &rateWindow{start: now, count: 1}
		return
	}
	w.count++
}

// Remaining returns how many requests provider name has left in the
// current window, clamped at zero. Infinite for an unlimited provider.
func (rl *RateLimiter) Remaining(name string, limit float64) float64 {
	if math.IsInf(limit, 1) {
		return Unlimited
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[name]
	if !exists || !rl.now().Before(w.start.Add(rateWindowLength)) {
		return limit
	}
	remaining := limit - float64(w.count)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// WindowStatus reports the live window for one provider.
type WindowStatus struct {
	Count    int       `json:"count"`
	Start    time.Time `json:"window_start"`
	ResetsAt time.Time `json:"resets_at"`
}

// Status returns the active windows keyed by provider name. Expired
// windows are omitted.
func (rl *RateLimiter) Status() map[string]WindowStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	out := make(map[string]WindowStatus, len(rl.windows))
	for name, w := range rl.windows {
		resetsAt := w.start.Add(rateWindowLength)
		if !now.Before(resetsAt) {
			continue
		}
		out[name] = WindowStatus{Count: w.count, Start: w.start, ResetsAt: resetsAt}
	}
	return out
}
