// Package analysis runs the per-symbol pipeline: acquire bars, detect
// pivot structure, compute Fibonacci level sets from the confirmed swing,
// and test the latest bar for an entry signal at a retracement.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/pivots"
)

// DataSource is the slice of the market-data service the pipeline needs.
type DataSource interface {
	GetOHLC(ctx context.Context, symbol string, tf marketdata.Timeframe, periods int, forceRefresh bool) (*marketdata.MarketDataResult, error)
}

// DefaultPeriods is the bar count fetched when the request leaves it unset.
const DefaultPeriods = 100

// Request configures one pipeline run.
type Request struct {
	Symbol        string               `json:"symbol"`
	Timeframe     marketdata.Timeframe `json:"timeframe"`
	Periods       int                  `json:"periods,omitempty"`
	PivotLookback int                  `json:"pivot_lookback,omitempty"`
	PivotCount    int                  `json:"pivot_count,omitempty"`
	FibDirection  fibonacci.Direction  `json:"fib_direction,omitempty"`
	DetectSignals *bool                `json:"detect_signals,omitempty"`
}

func (r *Request) normalize() {
	if r.Periods <= 0 {
		r.Periods = DefaultPeriods
	}
	if r.PivotLookback <= 0 {
		r.PivotLookback = pivots.DefaultLookback
	}
	if r.PivotCount <= 0 {
		r.PivotCount = pivots.DefaultCount
	}
	if !r.FibDirection.Valid() {
		r.FibDirection = fibonacci.DirectionBuy
	}
}

func (r Request) wantSignals() bool {
	return r.DetectSignals == nil || *r.DetectSignals
}

// SignalType says which side of the market a signal bar argues for.
type SignalType string

const (
	SignalBullish SignalType = "bullish"
	SignalBearish SignalType = "bearish"
)

// Signal is a single-bar rejection of a retracement level.
type Signal struct {
	Type       SignalType         `json:"type"`
	LevelKey   string             `json:"level"`
	LevelPrice float64            `json:"level_price"`
	Ratio      float64            `json:"ratio"`
	BarTime    marketdata.BarTime `json:"bar_time"`
	Close      float64            `json:"close"`
}

// Response is the pipeline output. Failures are reported in-band with
// Success false; the error return of Analyze is reserved for cancellation.
type Response struct {
	Success      bool                         `json:"success"`
	Symbol       string                       `json:"symbol"`
	Timeframe    marketdata.Timeframe         `json:"timeframe"`
	Error        string                       `json:"error,omitempty"`
	Market       *marketdata.MarketDataResult `json:"market,omitempty"`
	Structure    *pivots.Result               `json:"structure,omitempty"`
	SwingMarkers []pivots.SwingMarker         `json:"swing_markers,omitempty"`
	FibDirection fibonacci.Direction          `json:"fib_direction,omitempty"`
	Retracements map[string]float64           `json:"retracements,omitempty"`
	Extensions   map[string]float64           `json:"extensions,omitempty"`
	Signals      []Signal                     `json:"signals,omitempty"`
	ElapsedMS    int64                        `json:"elapsed_ms"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	source DataSource
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewOrchestrator builds an orchestrator. bus may be nil.
func NewOrchestrator(source DataSource, bus *events.Bus, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source: source,
		bus:    bus,
		logger: logger.With().Str("component", "analysis").Logger(),
		now:    time.Now,
	}
}

// Analyze runs acquisition, pivot detection, level computation and signal
// detection for one symbol and timeframe. The returned error is non-nil
// only when ctx is cancelled; all other failures come back as a response
// with Success false.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*Response, error) {
	started := o.now()
	req.normalize()

	resp := &Response{
		Symbol:       req.Symbol,
		Timeframe:    req.Timeframe,
		FibDirection: req.FibDirection,
	}
	fail := func(msg string) (*Response, error) {
		resp.Error = msg
		resp.ElapsedMS = o.now().Sub(started).Milliseconds()
		metrics.RecordAnalysis("error")
		return resp, nil
	}

	if req.Symbol == "" {
		return fail("symbol is required")
	}
	if !req.Timeframe.Valid() {
		return fail(fmt.Sprintf("invalid timeframe %q", req.Timeframe))
	}

	market, err := o.source.GetOHLC(ctx, req.Symbol, req.Timeframe, req.Periods, false)
	if err != nil {
		return nil, err
	}
	resp.Market = market
	if !market.Success {
		o.logger.Warn().Str("symbol", req.Symbol).Str("timeframe", string(req.Timeframe)).
			Str("error", market.Error).Msg("acquisition failed")
		return fail(market.Error)
	}

	structure := pivots.DetectPivots(market.Data, req.PivotLookback, req.PivotCount)
	resp.Structure = structure
	resp.SwingMarkers = pivots.ClassifySwings(structure.Pivots)

	if structure.SwingHigh != nil && structure.SwingLow != nil {
		high, low := structure.SwingHigh.Price, structure.SwingLow.Price
		if retr, err := fibonacci.RetracementLevels(high, low, req.FibDirection); err == nil {
			resp.Retracements = fibonacci.LevelMap(retr)
		}
		if ext, err := fibonacci.ExtensionLevels(high, low, req.FibDirection); err == nil {
			resp.Extensions = fibonacci.LevelMap(ext)
		}
	}

	if req.wantSignals() && len(market.Data) > 0 && len(resp.Retracements) > 0 {
		last := market.Data[len(market.Data)-1]
		resp.Signals = detectBarSignals(last, req.FibDirection, resp.Retracements)
		for _, sig := range resp.Signals {
			metrics.RecordSignal(string(sig.Type))
			if o.bus != nil {
				o.bus.PublishSignalDetected(req.Symbol, string(req.Timeframe), string(sig.Type), sig.LevelPrice)
			}
		}
	}

	resp.Success = true
	resp.ElapsedMS = o.now().Sub(started).Milliseconds()
	metrics.RecordAnalysis("ok")
	o.logger.Debug().Str("symbol", req.Symbol).Str("timeframe", string(req.Timeframe)).
		Int("pivots", len(structure.Pivots)).Int("signals", len(resp.Signals)).
		Int64("elapsed_ms", resp.ElapsedMS).Msg("analysis complete")
	return resp, nil
}

// detectBarSignals tests one bar against each retracement price. In the
// buy direction a level counts when the bar traded down to it and closed
// bullish back above; sell is the mirror image.
func detectBarSignals(bar marketdata.OHLCBar, dir fibonacci.Direction, levels map[string]float64) []Signal {
	var signals []Signal
	for _, ratio := range fibonacci.RetracementRatios {
		key := fibonacci.RatioKey(ratio)
		price, ok := levels[key]
		if !ok {
			continue
		}
		switch dir {
		case fibonacci.DirectionBuy:
			if bar.Low <= price && bar.Close > bar.Open && bar.Close > price {
				signals = append(signals, Signal{
					Type: SignalBullish, LevelKey: key, LevelPrice: price,
					Ratio: ratio, BarTime: bar.Time, Close: bar.Close,
				})
			}
		case fibonacci.DirectionSell:
			if bar.High >= price && bar.Close < bar.Open && bar.Close < price {
				signals = append(signals, Signal{
					Type: SignalBearish, LevelKey: key, LevelPrice: price,
					Ratio: ratio, BarTime: bar.Time, Close: bar.Close,
				})
			}
		}
	}
	return signals
}
