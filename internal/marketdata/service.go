package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/metrics"
)

// IngestionStatus summarizes stored coverage for one (symbol, timeframe).
type IngestionStatus struct {
	Symbol    string     `json:"symbol"`
	Timeframe Timeframe  `json:"timeframe"`
	BarCount  int64      `json:"bar_count"`
	FirstBar  *time.Time `json:"first_bar,omitempty"`
	LastBar   *time.Time `json:"last_bar,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// BarStore is the persistence contract the service can fill from. Reads
// that fail fall through to providers; writes are best-effort.
type BarStore interface {
	GetBars(ctx context.Context, symbol string, tf Timeframe, start, end *time.Time, limit int) ([]OHLCBar, error)
	StoreBars(ctx context.Context, symbol string, tf Timeframe, bars []OHLCBar, provider string) error
	GetAvailableSymbols(ctx context.Context) ([]string, error)
	GetAvailableTimeframes(ctx context.Context, symbol string) ([]Timeframe, error)
	GetTimeRange(ctx context.Context, symbol string, tf Timeframe) (start, end time.Time, err error)
	GetIngestionStatus(ctx context.Context, symbol string, tf Timeframe) (*IngestionStatus, error)
}

// ServiceConfig wires the service's collaborators. Store, Snapshots and
// Bus are optional.
type ServiceConfig struct {
	Providers []Provider
	Store     BarStore
	Snapshots *SnapshotPublisher
	Bus       *events.Bus
	Breaker   BreakerConfig
}

// Service owns the cache and rate limiter and answers GetOHLC by
// consulting, in order: cache, persistence, then providers by ascending
// priority with the simulated provider last.
type Service struct {
	providers []Provider
	cache     *Cache
	limiter   *RateLimiter
	breaker   *ProviderBreaker
	store     BarStore
	snapshots *SnapshotPublisher
	bus       *events.Bus
	logger    zerolog.Logger
}

// NewService builds a service from cfg. Providers are sorted by priority
// once at construction.
func NewService(cfg ServiceConfig, logger zerolog.Logger) *Service {
	providers := append([]Provider(nil), cfg.Providers...)
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].Config().Priority < providers[j].Config().Priority
	})

	return &Service{
		providers: providers,
		cache:     NewCache(),
		limiter:   NewRateLimiter(),
		breaker:   NewProviderBreaker(cfg.Breaker),
		store:     cfg.Store,
		snapshots: cfg.Snapshots,
		bus:       cfg.Bus,
		logger:    logger.With().Str("component", "MarketDataService").Logger(),
	}
}

// InvalidateCache drops cached entries for a symbol. An empty timeframe
// clears every timeframe held for the symbol. Returns the number of
// entries removed and announces the drop on the bus.
func (s *Service) InvalidateCache(symbol string, tf Timeframe) int {
	invalidated := 0
	if tf != "" {
		if s.cache.Contains(symbol, tf) {
			s.cache.Invalidate(symbol, tf)
			invalidated = 1
		}
	} else {
		invalidated = s.cache.InvalidateSymbol(symbol)
	}

	if invalidated > 0 && s.bus != nil {
		s.bus.PublishCacheInvalidated(symbol, string(tf), invalidated)
	}
	return invalidated
}

// Store exposes the configured persistence, nil when disabled.
func (s *Service) Store() BarStore {
	return s.store
}

// GetOHLC fetches up to periods bars for (symbol, timeframe). The error
// return is non-nil only on context cancellation; every other failure is
// embedded in the result with Success=false.
func (s *Service) GetOHLC(ctx context.Context, symbol string, tf Timeframe, periods int, forceRefresh bool) (*MarketDataResult, error) {
	if symbol == "" {
		return ErrorResult(symbol, tf, fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)), nil
	}
	if !tf.Valid() {
		return ErrorResult(symbol, tf, fmt.Errorf("%w: %s", ErrInvalidTimeframe, tf)), nil
	}
	if periods <= 0 {
		return ErrorResult(symbol, tf, ErrInvalidPeriods), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !forceRefresh {
		if hit := s.cache.Get(symbol, tf); hit != nil {
			metrics.RecordCacheHit()
			return hit, nil
		}
		metrics.RecordCacheMiss()

		if dbResult := s.fillFromStore(ctx, symbol, tf, periods); dbResult != nil {
			s.cache.Set(symbol, tf, dbResult)
			return dbResult, nil
		}
	}

	result, err := s.fetchFromProviders(ctx, symbol, tf, periods)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fillFromStore serves the request from persistence when at least half the
// requested bars are stored. Store errors are swallowed.
func (s *Service) fillFromStore(ctx context.Context, symbol string, tf Timeframe, periods int) *MarketDataResult {
	if s.store == nil {
		return nil
	}

	bars, err := s.store.GetBars(ctx, symbol, tf, nil, nil, periods)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).
			Msg("Persistence read failed, falling through to providers")
		return nil
	}

	minimum := (periods + 1) / 2
	if len(bars) < minimum {
		return nil
	}

	return &MarketDataResult{
		Success:      true,
		Symbol:       symbol,
		Timeframe:    tf,
		Data:         bars,
		ProviderName: "database",
		Cached:       false,
		MarketStatus: MarketStatusUnknown,
	}
}

// fetchFromProviders walks the chain in priority order. Rate-limited and
// unhealthy providers are skipped with a bus event; the first success wins.
func (s *Service) fetchFromProviders(ctx context.Context, symbol string, tf Timeframe, periods int) (*MarketDataResult, error) {
	if len(s.providers) == 0 {
		return ErrorResult(symbol, tf, ErrNoProviders), nil
	}

	var lastErr error
	for _, provider := range s.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg := provider.Config()
		if !provider.IsAvailable() {
			continue
		}
		if !s.breaker.Allow(cfg.Name) {
			if s.bus != nil {
				s.bus.PublishProviderSkipped(cfg.Name, symbol, string(tf), "circuit open")
			}
			continue
		}
		if !s.limiter.CanRequest(cfg.Name, cfg.RateLimitPerHour) {
			metrics.RecordRateLimitDenial(cfg.Name)
			if s.bus != nil {
				s.bus.PublishProviderSkipped(cfg.Name, symbol, string(tf), "rate limit exhausted")
			}
			continue
		}

		started := time.Now()
		result, err := provider.FetchOHLC(ctx, symbol, tf, periods)
		elapsed := time.Since(started)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.RecordProviderRequest(cfg.Name, "failure", elapsed.Seconds())
			s.noteFailure(cfg.Name, symbol, tf, err)
			lastErr = err
			continue
		}
		if result == nil || !result.Success || len(result.Data) == 0 {
			metrics.RecordProviderRequest(cfg.Name, "failure", elapsed.Seconds())
			err := &ProviderError{Provider: cfg.Name, Code: ErrCodeInsufficientData, Message: "empty result"}
			s.noteFailure(cfg.Name, symbol, tf, err)
			lastErr = err
			continue
		}

		metrics.RecordProviderRequest(cfg.Name, "success", elapsed.Seconds())
		s.breaker.RecordSuccess(cfg.Name)
		s.limiter.RecordRequest(cfg.Name)
		if cfg.RateLimited() {
			remaining := s.limiter.Remaining(cfg.Name, cfg.RateLimitPerHour)
			result.RateLimitRemaining = &remaining
		}

		s.persistBars(ctx, symbol, tf, result)
		s.cache.Set(symbol, tf, result)
		s.snapshots.PublishResult(ctx, result)
		if s.bus != nil {
			s.bus.PublishDataFetched(symbol, string(tf), cfg.Name, len(result.Data), false)
		}
		return result, nil
	}

	if s.bus != nil {
		s.bus.PublishError("marketdata", fmt.Sprintf("all providers failed for %s %s", symbol, tf), lastErr)
	}
	if lastErr != nil {
		return ErrorResult(symbol, tf, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)), nil
	}
	return ErrorResult(symbol, tf, ErrAllProvidersFailed), nil
}

// noteFailure logs one provider failure and feeds the breaker. Rate-limit
// rejections from the venue leave the breaker alone.
func (s *Service) noteFailure(name, symbol string, tf Timeframe, err error) {
	s.logger.Warn().Err(err).
		Str("provider", name).
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Msg("Provider fetch failed, trying next")

	if pe, ok := err.(*ProviderError); ok && pe.RateLimited {
		return
	}
	s.breaker.RecordFailure(name)
	if s.bus != nil {
		s.bus.PublishProviderFailed(name, symbol, string(tf), err.Error())
	}
}

// persistBars writes fetched bars back to the store. Best-effort.
func (s *Service) persistBars(ctx context.Context, symbol string, tf Timeframe, result *MarketDataResult) {
	if s.store == nil || len(result.Data) == 0 {
		return
	}
	if err := s.store.StoreBars(ctx, symbol, tf, result.Data, result.ProviderName); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).
			Msg("Persisting bars failed")
	}
}

// ProviderStatusList reports every configured provider with its limiter
// and breaker state, ordered by priority.
func (s *Service) ProviderStatusList() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(s.providers))
	for _, provider := range s.providers {
		cfg := provider.Config()
		status := ProviderStatus{
			Name:           cfg.Name,
			Priority:       cfg.Priority,
			Available:      provider.IsAvailable(),
			RequiresAPIKey: cfg.RequiresAPIKey,
			BreakerState:   string(s.breaker.State(cfg.Name)),
		}
		if cfg.RateLimited() {
			limit := cfg.RateLimitPerHour
			remaining := s.limiter.Remaining(cfg.Name, limit)
			status.RateLimitPerHour = &limit
			status.RateLimitRemaining = &remaining
		}
		out = append(out, status)
	}
	return out
}

// PublishStatusSnapshot pushes the current provider status into Redis.
func (s *Service) PublishStatusSnapshot(ctx context.Context) {
	s.snapshots.PublishProviderStatus(ctx, s.ProviderStatusList())
}
