package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis key formats for published snapshots.
const (
	keyLatestResult   = "ohlc:latest:%s:%s" // symbol, timeframe
	keyProviderStatus = "providers:status"
)

// SnapshotPublisher mirrors the latest successful result per
// (symbol, timeframe) and the provider status into Redis so external
// consumers can read them without touching the engine. All operations are
// best-effort: a down Redis never fails a request.
type SnapshotPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewSnapshotPublisher wraps an existing Redis client.
func NewSnapshotPublisher(client *redis.Client, logger zerolog.Logger) *SnapshotPublisher {
	return &SnapshotPublisher{
		client: client,
		logger: logger.With().Str("component", "SnapshotPublisher").Logger(),
	}
}

// PublishResult stores the result under its symbol and timeframe with the
// timeframe's cache TTL.
func (s *SnapshotPublisher) PublishResult(ctx context.Context, result *MarketDataResult) {
	if s == nil || result == nil || !result.Success {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to marshal result snapshot")
		return
	}

	key := fmt.Sprintf(keyLatestResult, result.Symbol, result.Timeframe)
	if err := s.client.Set(ctx, key, payload, result.Timeframe.CacheTTL()).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to publish result snapshot")
	}
}

// PublishProviderStatus stores the current provider status list.
func (s *SnapshotPublisher) PublishProviderStatus(ctx context.Context, statuses []ProviderStatus) {
	if s == nil {
		return
	}

	payload, err := json.Marshal(statuses)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to marshal provider status snapshot")
		return
	}
	if err := s.client.Set(ctx, keyProviderStatus, payload, 5*time.Minute).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish provider status snapshot")
	}
}

// LatestResult reads back a published result, or nil when absent.
func (s *SnapshotPublisher) LatestResult(ctx context.Context, symbol string, tf Timeframe) (*MarketDataResult, error) {
	if s == nil {
		return nil, nil
	}

	key := fmt.Sprintf(keyLatestResult, symbol, tf)
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", key, err)
	}

	var result MarketDataResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	return &result, nil
}
