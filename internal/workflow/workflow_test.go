package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/marketdata"
)

// stubSource serves canned results keyed by "symbol|timeframe".
type stubSource struct {
	results map[string]*marketdata.MarketDataResult
	err     error
	calls   int
}

func newStubSource() *stubSource {
	return &stubSource{results: map[string]*marketdata.MarketDataResult{}}
}

func (s *stubSource) put(symbol string, tf marketdata.Timeframe, bars []marketdata.OHLCBar) {
	s.results[symbol+"|"+string(tf)] = &marketdata.MarketDataResult{
		Success:      true,
		Symbol:       symbol,
		Timeframe:    tf,
		Data:         bars,
		ProviderName: "test",
		MarketStatus: marketdata.MarketStatusUnknown,
	}
}

func (s *stubSource) fail(symbol string, tf marketdata.Timeframe, msg string) {
	s.results[symbol+"|"+string(tf)] = &marketdata.MarketDataResult{
		Success:   false,
		Symbol:    symbol,
		Timeframe: tf,
		Error:     msg,
	}
}

func (s *stubSource) GetOHLC(ctx context.Context, symbol string, tf marketdata.Timeframe, periods int, forceRefresh bool) (*marketdata.MarketDataResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	result, ok := s.results[symbol+"|"+string(tf)]
	if !ok {
		return &marketdata.MarketDataResult{
			Success: false, Symbol: symbol, Timeframe: tf,
			Error: fmt.Sprintf("no stub for %s %s", symbol, tf),
		}, nil
	}
	return result, nil
}

func newTestWorkflow(source DataSource) *Workflow {
	return New(source, nil, 2, zerolog.Nop())
}

// midBars builds a daily series where each bar spans mid-1 to mid+1 and
// closes at mid.
func midBars(mids []float64) []marketdata.OHLCBar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.OHLCBar, len(mids))
	for i, mid := range mids {
		bars[i] = marketdata.OHLCBar{
			Time:  marketdata.NewBarTime(base.AddDate(0, 0, i), marketdata.Timeframe1D),
			Open:  mid,
			High:  mid + 1,
			Low:   mid - 1,
			Close: mid,
		}
	}
	return bars
}

// Rising zigzag: higher highs and higher lows, ending above the last low
// pivot. Reads bullish in an impulse leg with lookback 1.
func bullishBars() []marketdata.OHLCBar {
	return midBars([]float64{10, 20, 12, 24, 15, 28, 18, 32, 20, 34})
}

// Falling zigzag: lower highs and lower lows, ending below the last high
// pivot.
func bearishBars() []marketdata.OHLCBar {
	return midBars([]float64{34, 20, 32, 18, 28, 15, 24, 12, 20, 10})
}

// structureMids traces two full up-legs and two pullbacks wide enough for
// the default lookback of five: peaks at index 7 and 19, troughs at 13 and
// 25, closing on a fresh advance.
var structureMids = []float64{
	10, 12, 14, 16, 18, 20, 22, 26,
	24, 22, 20, 18, 16, 13,
	15, 17, 19, 21, 24, 30,
	28, 26, 24, 21, 19, 17,
	19, 22, 25, 28, 31, 34, 36,
}

// bullishStructureBars reads bullish with the default pivot lookback.
func bullishStructureBars() []marketdata.OHLCBar {
	return midBars(structureMids)
}

// bearishStructureBars mirrors the bullish series around its midpoint.
func bearishStructureBars() []marketdata.OHLCBar {
	mirrored := make([]float64, len(structureMids))
	for i, mid := range structureMids {
		mirrored[i] = 46 - mid
	}
	return midBars(mirrored)
}
