package workflow

import (
	"context"
	"fmt"
	"math"

	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/pivots"
)

// TrendDirection is the read of one timeframe's structure.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// MarketPhase locates price inside the trend cycle.
type MarketPhase string

const (
	PhaseImpulse      MarketPhase = "impulse"
	PhaseContinuation MarketPhase = "continuation"
	PhaseCorrection   MarketPhase = "correction"
)

// Trend scoring constants. A directional read starts at 75, an undecided
// one at 50, and a ranging market costs 20 points.
const (
	trendConfidence      = 75
	neutralConfidence    = 50
	rangingPenalty       = 20
	swingWindow          = 4
	RangingWidthPct      = 2.0
	rangingPivotTolerant = 0.01
)

// TrendAssessment is the structural read of one symbol and timeframe.
type TrendAssessment struct {
	Success     bool                 `json:"success"`
	Symbol      string               `json:"symbol,omitempty"`
	Timeframe   marketdata.Timeframe `json:"timeframe,omitempty"`
	Trend       TrendDirection       `json:"trend"`
	Phase       MarketPhase          `json:"phase"`
	SwingType   pivots.SwingType     `json:"swing_type"`
	Confidence  int                  `json:"confidence"`
	IsRanging   bool                 `json:"is_ranging"`
	RangingNote string               `json:"ranging_note,omitempty"`
	LastPrice   float64              `json:"last_price"`
	PivotCount  int                  `json:"pivot_count"`
	Error       string               `json:"error,omitempty"`
}

// AssessTrend fetches bars and reads trend, phase and confidence for one
// symbol and timeframe.
func (w *Workflow) AssessTrend(ctx context.Context, symbol string, tf marketdata.Timeframe) (*TrendAssessment, error) {
	assessment := &TrendAssessment{Symbol: symbol, Timeframe: tf, Trend: TrendNeutral, Phase: PhaseCorrection}
	if symbol == "" {
		assessment.Error = "symbol is required"
		return assessment, nil
	}
	if !tf.Valid() {
		assessment.Error = fmt.Sprintf("invalid timeframe %q", tf)
		return assessment, nil
	}

	bars, failure, err := w.fetchBars(ctx, symbol, tf, DefaultPeriods)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		assessment.Error = failure
		return assessment, nil
	}

	result := AssessBars(bars, pivots.DefaultLookback, pivots.DefaultCount)
	result.Symbol = symbol
	result.Timeframe = tf
	return &result, nil
}

// AssessBars is the pure trend read over a bar series. The backtester runs
// it directly against historical windows.
func AssessBars(bars []marketdata.OHLCBar, lookback, pivotCount int) TrendAssessment {
	assessment := TrendAssessment{
		Success:   true,
		Trend:     TrendNeutral,
		Phase:     PhaseCorrection,
		SwingType: pivots.SwingHigherLow,
	}
	if len(bars) == 0 {
		assessment.Success = false
		assessment.Error = "no bars to assess"
		return assessment
	}
	assessment.LastPrice = bars[len(bars)-1].Close

	structure := pivots.DetectPivots(bars, lookback, pivotCount)
	assessment.PivotCount = len(structure.Pivots)
	markers := pivots.ClassifySwings(structure.Pivots)

	assessment.Trend, assessment.SwingType = readTrend(markers)
	assessment.IsRanging, assessment.RangingNote = detectRanging(structure.RecentPivots)
	assessment.Phase = detectPhase(assessment.Trend, structure.RecentPivots, assessment.LastPrice)

	confidence := neutralConfidence
	if assessment.Trend != TrendNeutral {
		confidence = trendConfidence
	}
	if assessment.IsRanging {
		confidence -= rangingPenalty
	}
	if confidence < 0 {
		confidence = 0
	}
	assessment.Confidence = confidence
	return assessment
}

// readTrend votes the last few swing markers: higher highs and higher lows
// argue bullish, lower highs and lower lows bearish. The reported swing
// type is the most recent marker.
func readTrend(markers []pivots.SwingMarker) (TrendDirection, pivots.SwingType) {
	swingType := pivots.SwingHigherLow
	if len(markers) == 0 {
		return TrendNeutral, swingType
	}
	recent := markers
	if len(recent) > swingWindow {
		recent = recent[len(recent)-swingWindow:]
	}
	swingType = recent[len(recent)-1].Type

	bullish, bearish := 0, 0
	for _, m := range recent {
		switch m.Type {
		case pivots.SwingHigherHigh, pivots.SwingHigherLow:
			bullish++
		case pivots.SwingLowerHigh, pivots.SwingLowerLow:
			bearish++
		}
	}
	switch {
	case bullish > bearish:
		return TrendBullish, swingType
	case bearish > bullish:
		return TrendBearish, swingType
	default:
		return TrendNeutral, swingType
	}
}

// detectRanging flags a compressed market: the recent pivot band is under
// RangingWidthPct of price, or the last two highs and last two lows are
// each within 1% of the average pivot price.
func detectRanging(recent []pivots.Pivot) (bool, string) {
	if len(recent) < 4 {
		return false, ""
	}

	minPrice, maxPrice, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, p := range recent {
		sum += p.Price
		if p.Price < minPrice {
			minPrice = p.Price
		}
		if p.Price > maxPrice {
			maxPrice = p.Price
		}
	}
	avg := sum / float64(len(recent))
	if avg <= 0 {
		return false, ""
	}

	widthPct := (maxPrice - minPrice) / avg * 100
	if widthPct < RangingWidthPct {
		return true, fmt.Sprintf("ranging market: pivot band %.2f%% of price; wait for a breakout", widthPct)
	}

	var highs, lows []float64
	for _, p := range recent {
		if p.Kind == pivots.KindHigh {
			highs = append(highs, p.Price)
		} else {
			lows = append(lows, p.Price)
		}
	}
	if len(highs) >= 2 && len(lows) >= 2 {
		tolerance := avg * rangingPivotTolerant
		flatHighs := math.Abs(highs[len(highs)-1]-highs[len(highs)-2]) < tolerance
		flatLows := math.Abs(lows[len(lows)-1]-lows[len(lows)-2]) < tolerance
		if flatHighs && flatLows {
			return true, "ranging market: flat highs and lows; wait for a breakout"
		}
	}
	return false, ""
}

// detectPhase reads where price sits relative to the latest pivot. In a
// bullish trend, holding above the latest low is an impulse leg and holding
// above the latest high is continuation; anything else is correction.
func detectPhase(trend TrendDirection, recent []pivots.Pivot, lastPrice float64) MarketPhase {
	if trend == TrendNeutral || len(recent) == 0 {
		return PhaseCorrection
	}
	latest := recent[len(recent)-1]

	switch trend {
	case TrendBullish:
		if latest.Kind == pivots.KindLow && lastPrice > latest.Price {
			return PhaseImpulse
		}
		if latest.Kind == pivots.KindHigh && lastPrice > latest.Price {
			return PhaseContinuation
		}
	case TrendBearish:
		if latest.Kind == pivots.KindHigh && lastPrice < latest.Price {
			return PhaseImpulse
		}
		if latest.Kind == pivots.KindLow && lastPrice < latest.Price {
			return PhaseContinuation
		}
	}
	return PhaseCorrection
}
