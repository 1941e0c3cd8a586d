package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/marketdata"
)

// Data loader errors.
var (
	ErrNoSource = errors.New("no data source configured")
	ErrNoData   = errors.New("no historical data available")
)

// maxLoadPeriods caps a single acquisition request when the bar count is
// derived from the date range.
const maxLoadPeriods = 1000

// DataLoader feeds the engine. It keeps everything it has seen for a
// symbol and timeframe in memory so repeated runs over the same range,
// and every grid point of an optimization, hit the cache instead of the
// service.
type DataLoader struct {
	source DataSource
	store  marketdata.BarStore
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string][]marketdata.OHLCBar
}

// NewDataLoader builds a loader over an acquisition source and optional
// persistence. Either may be nil; loading fails only when both are
// missing or empty.
func NewDataLoader(source DataSource, store marketdata.BarStore, logger zerolog.Logger) *DataLoader {
	return &DataLoader{
		source: source,
		store:  store,
		logger: logger.With().Str("component", "backtest_loader").Logger(),
		cache:  map[string][]marketdata.OHLCBar{},
	}
}

// LoadData returns bars inside [start, end], consulting the local cache,
// then persistence, then the market-data service. Persistence errors fall
// through to the service; an exhausted chain returns ErrNoData.
func (l *DataLoader) LoadData(ctx context.Context, symbol string, tf marketdata.Timeframe, start, end time.Time) ([]marketdata.OHLCBar, error) {
	key := symbol + ":" + string(tf)

	l.mu.Lock()
	cached, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return filterByDate(cached, start, end), nil
	}

	if l.store != nil {
		bars, err := l.store.GetBars(ctx, symbol, tf, nil, nil, 0)
		if err != nil {
			l.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).
				Msg("persistence read failed; falling back to providers")
		} else if len(bars) > 0 {
			l.remember(key, bars)
			return filterByDate(bars, start, end), nil
		}
	}

	if l.source == nil {
		return nil, ErrNoSource
	}

	result, err := l.source.GetOHLC(ctx, symbol, tf, periodsForRange(tf, start, end), false)
	if err != nil {
		return nil, err
	}
	if !result.Success || len(result.Data) == 0 {
		if result.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoData, result.Error)
		}
		return nil, fmt.Errorf("%w for %s %s", ErrNoData, symbol, tf)
	}
	l.remember(key, result.Data)
	return filterByDate(result.Data, start, end), nil
}

// Preload seeds the cache directly, bypassing both persistence and the
// service. Tests and replay tooling use it to run against fixed data.
func (l *DataLoader) Preload(symbol string, tf marketdata.Timeframe, bars []marketdata.OHLCBar) {
	l.remember(symbol+":"+string(tf), bars)
}

func (l *DataLoader) remember(key string, bars []marketdata.OHLCBar) {
	l.mu.Lock()
	l.cache[key] = bars
	l.mu.Unlock()
}

// periodsForRange estimates how many bars cover the date range at the
// given timeframe, capped at maxLoadPeriods.
func periodsForRange(tf marketdata.Timeframe, start, end time.Time) int {
	interval := tf.Duration()
	if interval <= 0 || !start.Before(end) {
		return 1
	}
	periods := int(end.Sub(start)/interval) + 1
	if periods > maxLoadPeriods {
		periods = maxLoadPeriods
	}
	return periods
}

// filterByDate keeps bars whose time falls inside [start, end]. A zero
// bound leaves that side open.
func filterByDate(bars []marketdata.OHLCBar, start, end time.Time) []marketdata.OHLCBar {
	out := make([]marketdata.OHLCBar, 0, len(bars))
	for _, bar := range bars {
		if !start.IsZero() && bar.Time.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Time.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out
}
