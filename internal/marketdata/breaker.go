package marketdata

import (
	"sync"
	"time"
)

// BreakerState is the health state of one provider.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"    // Provider in rotation
	BreakerOpen     BreakerState = "open"      // Provider skipped
	BreakerHalfOpen BreakerState = "half_open" // Probing recovery
)

// BreakerConfig tunes the per-provider failure breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// DefaultBreakerConfig returns the defaults used by the service.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
	}
}

type breakerEntry struct {
	state    BreakerState
	failures int
	openedAt time.Time
}

// ProviderBreaker skips providers that keep failing. Consecutive failures
// past the threshold open the breaker for the cooldown; the first attempt
// afterwards probes half-open. Rate-limit denials are not failures.
type ProviderBreaker struct {
	mu      sync.Mutex
	config  BreakerConfig
	entries map[string]*breakerEntry
	now     func() time.Time
}

// NewProviderBreaker creates a breaker with the given config.
func NewProviderBreaker(config BreakerConfig) *ProviderBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &ProviderBreaker{
		config:  config,
		entries: make(map[string]*breakerEntry),
		now:     time.Now,
	}
}

func (b *ProviderBreaker) entry(name string) *breakerEntry {
	e, ok := b.entries[name]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		b.entries[name] = e
	}
	return e
}

// Allow reports whether provider name may be attempted. An open breaker
// past its cooldown flips to half-open and allows one probe.
func (b *ProviderBreaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(name)
	switch e.state {
	case BreakerOpen:
		if b.now().Sub(e.openedAt) < b.config.Cooldown {
			return false
		}
		e.state = BreakerHalfOpen
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *ProviderBreaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(name)
	e.state = BreakerClosed
	e.failures = 0
}

// RecordFailure counts one failure. A half-open probe failure reopens
// immediately; a closed breaker opens once the run reaches the threshold.
func (b *ProviderBreaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(name)
	e.failures++
	if e.state == BreakerHalfOpen || e.failures >= b.config.FailureThreshold {
		e.state = BreakerOpen
		e.openedAt = b.now()
	}
}

// State returns the current state for provider name.
func (b *ProviderBreaker) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[name]
	if !ok {
		return BreakerClosed
	}
	if e.state == BreakerOpen && b.now().Sub(e.openedAt) >= b.config.Cooldown {
		return BreakerHalfOpen
	}
	return e.state
}
