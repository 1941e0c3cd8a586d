// Package indicators provides the pure numeric primitives used by the
// analysis pipeline and the backtester. All functions operate on plain
// float64 series and never block.
package indicators

import (
	"errors"
	"fmt"
	"math"
)

// Indicator errors
var (
	ErrInvalidPeriod    = errors.New("period must be positive")
	ErrInsufficientData = errors.New("not enough data points")
	ErrInvalidPeriods   = errors.New("fast period must be less than slow period")
	ErrLengthMismatch   = errors.New("input series must have equal lengths")
)

// Undefined marks series positions where an indicator has no value yet.
// Callers test positions with IsDefined.
func Undefined() float64 {
	return math.NaN()
}

// IsDefined reports whether a series position holds a computed value.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA returns the simple moving average of the last period values.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if len(prices) < period {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(prices), period)
	}

	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// CalculateEMA returns an exponential moving average series of the same
// length as prices. Positions before period-1 hold the expanding mean over
// the prefix, position period-1 holds the seed SMA, and later positions
// follow the standard recurrence with multiplier 2/(period+1).
func CalculateEMA(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if len(prices) < period {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(prices), period)
	}

	out := make([]float64, len(prices))

	// Expanding mean over the warm-up prefix, seed SMA at period-1.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
		out[i] = sum / float64(i+1)
	}

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(prices); i++ {
		out[i] = prices[i]*multiplier + out[i-1]*(1-multiplier)
	}
	return out, nil
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDSeries holds the three MACD output series. Positions before the slow
// period warm-up are Undefined in all three.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD computes the MACD line, signal line and histogram over
// prices. All three series have the same length as prices; positions before
// index slow-1 are Undefined. The signal line is an EMA over the defined
// portion of the MACD line, written back into the original positions.
func CalculateMACD(prices []float64, fast, slow, signalPeriod int) (*MACDSeries, error) {
	if fast <= 0 || slow <= 0 || signalPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast=%d slow=%d", ErrInvalidPeriods, fast, slow)
	}
	if len(prices) < slow {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(prices), slow)
	}

	fastEMA, err := CalculateEMA(prices, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := CalculateEMA(prices, slow)
	if err != nil {
		return nil, err
	}

	n := len(prices)
	result := &MACDSeries{
		MACD:      make([]float64, n),
		Signal:    make([]float64, n),
		Histogram: make([]float64, n),
	}
	for i := 0; i < slow-1; i++ {
		result.MACD[i] = Undefined()
		result.Signal[i] = Undefined()
		result.Histogram[i] = Undefined()
	}
	for i := slow - 1; i < n; i++ {
		result.MACD[i] = fastEMA[i] - slowEMA[i]
	}

	// Signal over the defined tail of the MACD line. When the tail is
	// shorter than the signal period the signal and histogram stay
	// Undefined and only the MACD line is reported.
	defined := result.MACD[slow-1:]
	if len(defined) >= signalPeriod {
		signalEMA, err := CalculateEMA(defined, signalPeriod)
		if err != nil {
			return nil, err
		}
		for j, v := range signalEMA {
			i := slow - 1 + j
			result.Signal[i] = v
			result.Histogram[i] = result.MACD[i] - v
		}
	} else {
		for i := slow - 1; i < n; i++ {
			result.Signal[i] = Undefined()
			result.Histogram[i] = Undefined()
		}
	}
	return result, nil
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI computes a Wilder-smoothed RSI series of the same length as
// prices. The first period positions are Undefined. When the smoothed loss
// is zero the value is 100 if there was any gain, otherwise 50.
func CalculateRSI(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if len(prices) < period+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(prices), period+1)
	}

	out := make([]float64, len(prices))
	for i := 0; i < period; i++ {
		out[i] = Undefined()
	}

	// Seed averages over the first period changes.
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100.0
		}
		return 50.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// RSIState classifies an RSI reading into the bands used by the workflow
// checks: overbought above 70, oversold below 30, bullish above the
// midline, bearish below it.
func RSIState(rsi float64) string {
	switch {
	case rsi > 70:
		return "overbought"
	case rsi < 30:
		return "oversold"
	case rsi > 50:
		return "bullish"
	case rsi < 50:
		return "bearish"
	default:
		return "neutral"
	}
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR computes a Wilder-smoothed ATR series over the per-bar true
// range. The first bar's true range is high-low; later bars include the
// gap from the previous close. Positions before period-1 are Undefined.
func CalculateATR(highs, lows, closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if len(highs) != len(lows) || len(highs) != len(closes) {
		return nil, fmt.Errorf("%w: highs=%d lows=%d closes=%d",
			ErrLengthMismatch, len(highs), len(lows), len(closes))
	}
	if len(highs) < period {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(highs), period)
	}

	n := len(highs)
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	out := make([]float64, n)
	for i := 0; i < period-1; i++ {
		out[i] = Undefined()
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += tr[i]
	}
	out[period-1] = seed / float64(period)

	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out, nil
}

// ClassifyVolatility buckets an ATR reading as a percentage of price.
func ClassifyVolatility(atr, price float64) string {
	if price <= 0 {
		return "unknown"
	}
	pct := atr / price * 100
	switch {
	case pct < 0.5:
		return "low"
	case pct < 1.5:
		return "normal"
	case pct < 3.0:
		return "high"
	default:
		return "extreme"
	}
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeProfile summarizes the latest bar's volume against its moving
// average.
type VolumeProfile struct {
	CurrentVolume  float64 `json:"current_volume"`
	AverageVolume  float64 `json:"average_volume"`
	RelativeVolume float64 `json:"relative_volume"`
	IsHighVolume   bool    `json:"is_high_volume"`
	IsAboveAverage bool    `json:"is_above_average"`
}

// AnalyzeVolume computes relative volume of the last entry against the
// simple average of the trailing maPeriod entries. High volume means 1.5x
// the average or better.
func AnalyzeVolume(volumes []float64, maPeriod int) (*VolumeProfile, error) {
	if maPeriod <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, maPeriod)
	}
	if len(volumes) < maPeriod {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(volumes), maPeriod)
	}

	avg, err := CalculateSMA(volumes, maPeriod)
	if err != nil {
		return nil, err
	}
	current := volumes[len(volumes)-1]

	profile := &VolumeProfile{
		CurrentVolume: current,
		AverageVolume: avg,
	}
	if avg > 0 {
		profile.RelativeVolume = current / avg
	}
	profile.IsHighVolume = profile.RelativeVolume >= 1.5
	profile.IsAboveAverage = profile.RelativeVolume >= 1.0
	return profile, nil
}
