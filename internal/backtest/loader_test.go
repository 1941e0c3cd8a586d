package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/marketdata"
)

func loaderBars() []marketdata.OHLCBar {
	return ohlcBars([][4]float64{
		{100, 101, 99, 100},
		{100, 102, 99, 101},
		{101, 103, 100, 102},
		{102, 104, 101, 103},
	})
}

func TestLoadDataFromSourceThenCache(t *testing.T) {
	source := newStubSource()
	source.put("AAPL", marketdata.Timeframe1H, loaderBars())
	loader := NewDataLoader(source, nil, zerolog.Nop())

	bars, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("got %d bars, want 4", len(bars))
	}
	if source.calls != 1 {
		t.Fatalf("source calls = %d, want 1", source.calls)
	}

	if _, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("second LoadData: %v", err)
	}
	if source.calls != 1 {
		t.Errorf("source calls after cache hit = %d, want 1", source.calls)
	}
}

func TestLoadDataPrefersPersistence(t *testing.T) {
	source := newStubSource()
	source.put("AAPL", marketdata.Timeframe1H, loaderBars()[:1])
	store := &stubStore{bars: loaderBars()}
	loader := NewDataLoader(source, store, zerolog.Nop())

	bars, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("got %d bars, want the 4 persisted ones", len(bars))
	}
	if source.calls != 0 {
		t.Errorf("source calls = %d, want 0 when persistence answers", source.calls)
	}
	if store.gets != 1 {
		t.Errorf("store reads = %d, want 1", store.gets)
	}

	if _, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("second LoadData: %v", err)
	}
	if store.gets != 1 {
		t.Errorf("store reads after cache hit = %d, want 1", store.gets)
	}
}

func TestLoadDataStoreErrorFallsThrough(t *testing.T) {
	source := newStubSource()
	source.put("AAPL", marketdata.Timeframe1H, loaderBars())
	store := &stubStore{err: errors.New("connection refused")}
	loader := NewDataLoader(source, store, zerolog.Nop())

	bars, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(bars) != 4 {
		t.Errorf("got %d bars, want 4 from the provider fallback", len(bars))
	}
	if source.calls != 1 {
		t.Errorf("source calls = %d, want 1", source.calls)
	}
}

func TestLoadDataEmptyStoreFallsThrough(t *testing.T) {
	source := newStubSource()
	source.put("AAPL", marketdata.Timeframe1H, loaderBars())
	loader := NewDataLoader(source, &stubStore{}, zerolog.Nop())

	bars, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(bars) != 4 {
		t.Errorf("got %d bars, want 4", len(bars))
	}
}

func TestLoadDataNoSource(t *testing.T) {
	loader := NewDataLoader(nil, &stubStore{}, zerolog.Nop())

	_, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
}

func TestLoadDataProviderFailure(t *testing.T) {
	source := newStubSource()
	source.fail("AAPL", marketdata.Timeframe1H, "all providers exhausted")
	loader := NewDataLoader(source, nil, zerolog.Nop())

	_, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	if !strings.Contains(err.Error(), "all providers exhausted") {
		t.Errorf("err = %v, want the provider message preserved", err)
	}
}

func TestLoadDataSourceErrorPassthrough(t *testing.T) {
	source := newStubSource()
	source.err = context.Canceled
	loader := NewDataLoader(source, nil, zerolog.Nop())

	_, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H, time.Time{}, time.Time{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrNoData) {
		t.Error("transport errors must not be wrapped as ErrNoData")
	}
}

func TestPreloadServesDateSlice(t *testing.T) {
	loader := NewDataLoader(nil, nil, zerolog.Nop())
	loader.Preload("AAPL", marketdata.Timeframe1H, loaderBars())

	bars, err := loader.LoadData(context.Background(), "AAPL", marketdata.Timeframe1H,
		fixtureTime(1).Time, fixtureTime(2).Time)
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want the 2 inside the range", len(bars))
	}
	if !bars[0].Time.Equal(fixtureTime(1).Time) || !bars[1].Time.Equal(fixtureTime(2).Time) {
		t.Errorf("slice bounds = (%v, %v), want bars 1 and 2", bars[0].Time, bars[1].Time)
	}
}

func TestPeriodsForRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tf   marketdata.Timeframe
		end  time.Time
		want int
	}{
		{"two days hourly", marketdata.Timeframe1H, start.Add(48 * time.Hour), 49},
		{"capped", marketdata.Timeframe1H, start.Add(5000 * time.Hour), 1000},
		{"degenerate range", marketdata.Timeframe1H, start, 1},
		{"inverted range", marketdata.Timeframe1H, start.Add(-time.Hour), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := periodsForRange(tt.tf, start, tt.end); got != tt.want {
				t.Errorf("periodsForRange = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFilterByDate(t *testing.T) {
	bars := loaderBars()

	inside := filterByDate(bars, fixtureTime(1).Time, fixtureTime(2).Time)
	if len(inside) != 2 {
		t.Errorf("bounded filter kept %d bars, want 2 (bounds inclusive)", len(inside))
	}

	openLow := filterByDate(bars, time.Time{}, fixtureTime(1).Time)
	if len(openLow) != 2 {
		t.Errorf("open start kept %d bars, want 2", len(openLow))
	}

	openHigh := filterByDate(bars, fixtureTime(3).Time, time.Time{})
	if len(openHigh) != 1 {
		t.Errorf("open end kept %d bars, want 1", len(openHigh))
	}

	all := filterByDate(bars, time.Time{}, time.Time{})
	if len(all) != len(bars) {
		t.Errorf("unbounded filter kept %d bars, want %d", len(all), len(bars))
	}
}
