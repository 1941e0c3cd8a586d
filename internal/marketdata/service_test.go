package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedProvider returns canned outcomes in order, repeating the last
// one when the script runs out.
type scriptedProvider struct {
	cfg     ProviderConfig
	outcome func(call int) (*MarketDataResult, error)
	calls   int
}

func (p *scriptedProvider) Config() ProviderConfig { return p.cfg }
func (p *scriptedProvider) IsAvailable() bool      { return true }

func (p *scriptedProvider) FetchOHLC(ctx context.Context, symbol string, tf Timeframe, periods int) (*MarketDataResult, error) {
	p.calls++
	return p.outcome(p.calls)
}

func succeedWith(name string, bars []OHLCBar) func(int) (*MarketDataResult, error) {
	return func(int) (*MarketDataResult, error) {
		return &MarketDataResult{
			Success:      true,
			Symbol:       "AAPL",
			Timeframe:    Timeframe1H,
			Data:         bars,
			ProviderName: name,
			MarketStatus: MarketStatusOpen,
		}, nil
	}
}

func failWith(name, code string) func(int) (*MarketDataResult, error) {
	return func(int) (*MarketDataResult, error) {
		return nil, &ProviderError{Provider: name, Code: code, Message: "scripted failure"}
	}
}

func testBars(n int) []OHLCBar {
	base := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	bars := make([]OHLCBar, n)
	for i := range bars {
		price := 100.0 + float64(i)
		bars[i] = OHLCBar{
			Time:   BarTime{Time: base.Add(time.Duration(i) * time.Hour)},
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price + 0.5,
			Volume: 1000,
		}
	}
	return bars
}

func newTestService(store BarStore, providers ...Provider) *Service {
	return NewService(ServiceConfig{Providers: providers, Store: store}, zerolog.Nop())
}

func TestGetOHLCFallsBackToNextProvider(t *testing.T) {
	primary := &scriptedProvider{
		cfg:     ProviderConfig{Name: "primary", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: failWith("primary", ErrCodeAPIError),
	}
	secondary := &scriptedProvider{
		cfg:     ProviderConfig{Name: "secondary", Priority: 2, RateLimitPerHour: Unlimited},
		outcome: succeedWith("secondary", testBars(10)),
	}

	svc := newTestService(nil, secondary, primary)
	result, err := svc.GetOHLC(context.Background(), "AAPL", Timeframe1H, 10, false)
	if err != nil {
		t.Fatalf("GetOHLC returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.ProviderName != "secondary" {
		t.Errorf("provider = %q, want secondary", result.ProviderName)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("calls = primary %d secondary %d, want 1 and 1", primary.calls, secondary.calls)
	}
}

func TestGetOHLCAllProvidersFailed(t *testing.T) {
	p1 := &scriptedProvider{
		cfg:     ProviderConfig{Name: "p1", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: failWith("p1", ErrCodeNetworkError),
	}
	p2 := &scriptedProvider{
		cfg:     ProviderConfig{Name: "p2", Priority: 2, RateLimitPerHour: Unlimited},
		outcome: failWith("p2", ErrCodeAPIError),
	}

	svc := newTestService(nil, p1, p2)
	result, err := svc.GetOHLC(context.Background(), "AAPL", Timeframe1H, 10, false)
	if err != nil {
		t.Fatalf("GetOHLC returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.Error == "" {
		t.Error("expected error message on failed result")
	}

	// Failed results must not be cached: a retry hits the chain again.
	if _, err := svc.GetOHLC(context.Background(), "AAPL", Timeframe1H, 10, false); err != nil {
		t.Fatalf("second GetOHLC returned error: %v", err)
	}
	if p1.calls != 2 || p2.calls != 2 {
		t.Errorf("calls after retry = %d and %d, want 2 and 2", p1.calls, p2.calls)
	}
}

func TestGetOHLCServesSecondCallFromCache(t *testing.T) {
	provider := &scriptedProvider{
		cfg:     ProviderConfig{Name: "only", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("only", testBars(20)),
	}

	svc := newTestService(nil, provider)
	ctx := context.Background()

	first, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 20, false)
	if err != nil {
		t.Fatalf("first GetOHLC: %v", err)
	}
	if first.Cached {
		t.Error("first result should not be cached")
	}

	second, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 20, false)
	if err != nil {
		t.Fatalf("second GetOHLC: %v", err)
	}
	if !second.Cached {
		t.Error("second result should come from cache")
	}
	if second.CacheExpiresAt == nil {
		t.Error("cached result should carry its expiry")
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestGetOHLCForceRefreshBypassesCache(t *testing.T) {
	provider := &scriptedProvider{
		cfg:     ProviderConfig{Name: "only", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("only", testBars(20)),
	}

	svc := newTestService(nil, provider)
	ctx := context.Background()

	if _, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 20, false); err != nil {
		t.Fatalf("first GetOHLC: %v", err)
	}
	refreshed, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 20, true)
	if err != nil {
		t.Fatalf("forced GetOHLC: %v", err)
	}
	if refreshed.Cached {
		t.Error("forced refresh must not return the cached result")
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
}

func TestInvalidateCacheDropsEntry(t *testing.T) {
	provider := &scriptedProvider{
		cfg:     ProviderConfig{Name: "only", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("only", testBars(5)),
	}

	svc := newTestService(nil, provider)
	ctx := context.Background()

	if _, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, false); err != nil {
		t.Fatalf("GetOHLC: %v", err)
	}
	if removed := svc.InvalidateCache("AAPL", Timeframe1H); removed != 1 {
		t.Fatalf("invalidated = %d, want 1", removed)
	}
	// An empty timeframe sweeps the whole symbol; nothing is left.
	if removed := svc.InvalidateCache("AAPL", ""); removed != 0 {
		t.Errorf("second invalidation = %d, want 0", removed)
	}

	if _, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, false); err != nil {
		t.Fatalf("GetOHLC after invalidation: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2 after cache drop", provider.calls)
	}
}

func TestGetOHLCSkipsRateLimitedProvider(t *testing.T) {
	limited := &scriptedProvider{
		cfg:     ProviderConfig{Name: "limited", Priority: 1, RateLimitPerHour: 1},
		outcome: succeedWith("limited", testBars(5)),
	}
	backup := &scriptedProvider{
		cfg:     ProviderConfig{Name: "backup", Priority: 2, RateLimitPerHour: Unlimited},
		outcome: succeedWith("backup", testBars(5)),
	}

	svc := newTestService(nil, limited, backup)
	ctx := context.Background()

	first, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, true)
	if err != nil {
		t.Fatalf("first GetOHLC: %v", err)
	}
	if first.ProviderName != "limited" {
		t.Fatalf("first provider = %q, want limited", first.ProviderName)
	}
	if first.RateLimitRemaining == nil || *first.RateLimitRemaining != 0 {
		t.Errorf("remaining = %v, want 0", first.RateLimitRemaining)
	}

	second, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, true)
	if err != nil {
		t.Fatalf("second GetOHLC: %v", err)
	}
	if second.ProviderName != "backup" {
		t.Errorf("second provider = %q, want backup", second.ProviderName)
	}
	if limited.calls != 1 {
		t.Errorf("limited provider calls = %d, want 1", limited.calls)
	}
}

func TestGetOHLCFailureDoesNotConsumeRateLimit(t *testing.T) {
	flaky := &scriptedProvider{
		cfg: ProviderConfig{Name: "flaky", Priority: 1, RateLimitPerHour: 2},
		outcome: func(call int) (*MarketDataResult, error) {
			if call == 1 {
				return nil, &ProviderError{Provider: "flaky", Code: ErrCodeNetworkError, Message: "down"}
			}
			return succeedWith("flaky", testBars(5))(call)
		},
	}

	svc := newTestService(nil, flaky)
	ctx := context.Background()

	if _, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, true); err != nil {
		t.Fatalf("first GetOHLC: %v", err)
	}
	result, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, true)
	if err != nil {
		t.Fatalf("second GetOHLC: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success on retry, got %q", result.Error)
	}
	// Only the successful call counts against the hourly limit.
	if result.RateLimitRemaining == nil || *result.RateLimitRemaining != 1 {
		t.Errorf("remaining = %v, want 1", result.RateLimitRemaining)
	}
}

func TestGetOHLCOpensBreakerAfterRepeatedFailures(t *testing.T) {
	failing := &scriptedProvider{
		cfg:     ProviderConfig{Name: "failing", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: failWith("failing", ErrCodeAPIError),
	}
	backup := &scriptedProvider{
		cfg:     ProviderConfig{Name: "backup", Priority: 2, RateLimitPerHour: Unlimited},
		outcome: succeedWith("backup", testBars(5)),
	}

	svc := newTestService(nil, failing, backup)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, true); err != nil {
			t.Fatalf("GetOHLC %d: %v", i, err)
		}
	}
	// Default threshold is 3: the fourth round skips the failing provider.
	if failing.calls != 3 {
		t.Errorf("failing provider calls = %d, want 3", failing.calls)
	}
	if backup.calls != 4 {
		t.Errorf("backup provider calls = %d, want 4", backup.calls)
	}

	statuses := svc.ProviderStatusList()
	if statuses[0].BreakerState != string(BreakerOpen) {
		t.Errorf("breaker state = %q, want open", statuses[0].BreakerState)
	}
}

func TestGetOHLCValidatesInput(t *testing.T) {
	svc := newTestService(nil)

	cases := []struct {
		name    string
		symbol  string
		tf      Timeframe
		periods int
	}{
		{"empty symbol", "", Timeframe1H, 10},
		{"bad timeframe", "AAPL", Timeframe("2H"), 10},
		{"zero periods", "AAPL", Timeframe1H, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.GetOHLC(context.Background(), tc.symbol, tc.tf, tc.periods, false)
			if err != nil {
				t.Fatalf("GetOHLC returned error: %v", err)
			}
			if result.Success {
				t.Error("expected failure result")
			}
		})
	}
}

func TestGetOHLCCancelledContext(t *testing.T) {
	svc := newTestService(nil, &scriptedProvider{
		cfg:     ProviderConfig{Name: "only", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("only", testBars(5)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.GetOHLC(ctx, "AAPL", Timeframe1H, 5, false); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// fixedStore answers GetBars with a fixed slice and records writes.
type fixedStore struct {
	bars   []OHLCBar
	reads  int
	writes int
}

func (s *fixedStore) GetBars(ctx context.Context, symbol string, tf Timeframe, start, end *time.Time, limit int) ([]OHLCBar, error) {
	s.reads++
	if limit > 0 && limit < len(s.bars) {
		return s.bars[len(s.bars)-limit:], nil
	}
	return s.bars, nil
}

func (s *fixedStore) StoreBars(ctx context.Context, symbol string, tf Timeframe, bars []OHLCBar, provider string) error {
	s.writes++
	return nil
}

func (s *fixedStore) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	return []string{"AAPL"}, nil
}

func (s *fixedStore) GetAvailableTimeframes(ctx context.Context, symbol string) ([]Timeframe, error) {
	return []Timeframe{Timeframe1H}, nil
}

func (s *fixedStore) GetTimeRange(ctx context.Context, symbol string, tf Timeframe) (time.Time, time.Time, error) {
	if len(s.bars) == 0 {
		return time.Time{}, time.Time{}, errors.New("no bars")
	}
	return s.bars[0].Time.Time, s.bars[len(s.bars)-1].Time.Time, nil
}

func (s *fixedStore) GetIngestionStatus(ctx context.Context, symbol string, tf Timeframe) (*IngestionStatus, error) {
	return &IngestionStatus{Symbol: symbol, Timeframe: tf, BarCount: int64(len(s.bars))}, nil
}

func TestGetOHLCFillsFromPersistence(t *testing.T) {
	provider := &scriptedProvider{
		cfg:     ProviderConfig{Name: "live", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("live", testBars(10)),
	}
	store := &fixedStore{bars: testBars(6)}

	svc := newTestService(store, provider)
	result, err := svc.GetOHLC(context.Background(), "AAPL", Timeframe1H, 10, false)
	if err != nil {
		t.Fatalf("GetOHLC: %v", err)
	}
	// 6 stored bars cover ceil(10/2) = 5, so the store serves the request.
	if result.ProviderName != "database" {
		t.Fatalf("provider = %q, want database", result.ProviderName)
	}
	if result.Cached {
		t.Error("persistence fill should not be marked cached")
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls)
	}
}

func TestGetOHLCPersistenceBelowThresholdFallsThrough(t *testing.T) {
	provider := &scriptedProvider{
		cfg:     ProviderConfig{Name: "live", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("live", testBars(10)),
	}
	store := &fixedStore{bars: testBars(4)}

	svc := newTestService(store, provider)
	result, err := svc.GetOHLC(context.Background(), "AAPL", Timeframe1H, 10, false)
	if err != nil {
		t.Fatalf("GetOHLC: %v", err)
	}
	if result.ProviderName != "live" {
		t.Errorf("provider = %q, want live", result.ProviderName)
	}
	if store.writes != 1 {
		t.Errorf("store writes = %d, want 1 write-back of fetched bars", store.writes)
	}
}

func TestGetOHLCForceRefreshSkipsPersistenceRead(t *testing.T) {
	provider := &scriptedProvider{
		cfg:     ProviderConfig{Name: "live", Priority: 1, RateLimitPerHour: Unlimited},
		outcome: succeedWith("live", testBars(10)),
	}
	store := &fixedStore{bars: testBars(10)}

	svc := newTestService(store, provider)
	result, err := svc.GetOHLC(context.Background(), "AAPL", Timeframe1H, 10, true)
	if err != nil {
		t.Fatalf("GetOHLC: %v", err)
	}
	if result.ProviderName != "live" {
		t.Errorf("provider = %q, want live", result.ProviderName)
	}
	if store.reads != 0 {
		t.Errorf("store reads = %d, want 0 on forced refresh", store.reads)
	}
	if store.writes != 1 {
		t.Errorf("store writes = %d, want 1", store.writes)
	}
}

func TestProviderStatusListOrdersByPriority(t *testing.T) {
	svc := newTestService(nil,
		&scriptedProvider{cfg: ProviderConfig{Name: "sim", Priority: SimulatedPriority, RateLimitPerHour: Unlimited}},
		&scriptedProvider{cfg: ProviderConfig{Name: "first", Priority: 1, RateLimitPerHour: 100}},
		&scriptedProvider{cfg: ProviderConfig{Name: "second", Priority: 2, RateLimitPerHour: Unlimited}},
	)

	statuses := svc.ProviderStatusList()
	if len(statuses) != 3 {
		t.Fatalf("len = %d, want 3", len(statuses))
	}
	if statuses[0].Name != "first" || statuses[1].Name != "second" || statuses[2].Name != "sim" {
		t.Errorf("order = %s, %s, %s", statuses[0].Name, statuses[1].Name, statuses[2].Name)
	}
	if statuses[0].RateLimitPerHour == nil || *statuses[0].RateLimitPerHour != 100 {
		t.Errorf("first limit = %v, want 100", statuses[0].RateLimitPerHour)
	}
	if statuses[1].RateLimitPerHour != nil {
		t.Error("unlimited provider should report nil limit")
	}
}
