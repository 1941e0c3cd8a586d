package workflow

import (
	"context"
	"fmt"

	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/pivots"
)

// Indicator defaults shared by the checklist and confirmation surface.
const (
	RSIPeriod      = 14
	MACDFast       = 12
	MACDSlow       = 26
	MACDSignal     = 9
	VolumeMAPeriod = 20
	ATRPeriod      = 14
)

// LevelsResult carries the Fibonacci level sets for one swing.
type LevelsResult struct {
	Success      bool                 `json:"success"`
	Symbol       string               `json:"symbol"`
	Timeframe    marketdata.Timeframe `json:"timeframe"`
	Direction    fibonacci.Direction  `json:"direction"`
	SwingHigh    float64              `json:"swing_high"`
	SwingLow     float64              `json:"swing_low"`
	Retracements map[string]float64   `json:"retracements,omitempty"`
	Extensions   map[string]float64   `json:"extensions,omitempty"`
	LastPrice    float64              `json:"last_price"`
	Error        string               `json:"error,omitempty"`
}

// IdentifyFibonacciLevels fetches bars, finds the confirmed swing and
// returns the retracement and extension sets in the requested direction.
func (w *Workflow) IdentifyFibonacciLevels(ctx context.Context, symbol string, tf marketdata.Timeframe, dir fibonacci.Direction) (*LevelsResult, error) {
	result := &LevelsResult{Symbol: symbol, Timeframe: tf, Direction: dir}
	if symbol == "" {
		result.Error = "symbol is required"
		return result, nil
	}
	if !tf.Valid() {
		result.Error = fmt.Sprintf("invalid timeframe %q", tf)
		return result, nil
	}
	if !dir.Valid() {
		result.Error = fmt.Sprintf("invalid direction %q", dir)
		return result, nil
	}

	bars, failure, err := w.fetchBars(ctx, symbol, tf, DefaultPeriods)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		result.Error = failure
		return result, nil
	}
	result.LastPrice = bars[len(bars)-1].Close

	structure := pivots.DetectPivots(bars, pivots.DefaultLookback, pivots.DefaultCount)
	if structure.SwingHigh == nil || structure.SwingLow == nil {
		result.Error = "no confirmed swing to anchor levels"
		return result, nil
	}
	result.SwingHigh = structure.SwingHigh.Price
	result.SwingLow = structure.SwingLow.Price

	retr, rErr := fibonacci.RetracementLevels(result.SwingHigh, result.SwingLow, dir)
	ext, eErr := fibonacci.ExtensionLevels(result.SwingHigh, result.SwingLow, dir)
	if rErr != nil || eErr != nil {
		result.Error = "degenerate swing range"
		return result, nil
	}
	result.Retracements = fibonacci.LevelMap(retr)
	result.Extensions = fibonacci.LevelMap(ext)
	result.Success = true
	return result, nil
}

// IndicatorConfirmation is the oscillator and volume read for one
// timeframe.
type IndicatorConfirmation struct {
	Success       bool                      `json:"success"`
	Symbol        string                    `json:"symbol"`
	Timeframe     marketdata.Timeframe      `json:"timeframe"`
	RSI           float64                   `json:"rsi"`
	RSIState      string                    `json:"rsi_state"`
	MACD          float64                   `json:"macd"`
	MACDSignal    float64                   `json:"macd_signal"`
	MACDHistogram float64                   `json:"macd_histogram"`
	MACDTrend     string                    `json:"macd_trend"`
	Volume        *indicators.VolumeProfile `json:"volume,omitempty"`
	ATR           float64                   `json:"atr"`
	Volatility    string                    `json:"volatility"`
	LastClose     float64                   `json:"last_close"`
	Error         string                    `json:"error,omitempty"`
}

// ConfirmWithIndicators computes RSI, MACD, volume and volatility context
// for one symbol and timeframe.
func (w *Workflow) ConfirmWithIndicators(ctx context.Context, symbol string, tf marketdata.Timeframe) (*IndicatorConfirmation, error) {
	result := &IndicatorConfirmation{Symbol: symbol, Timeframe: tf}
	if symbol == "" {
		result.Error = "symbol is required"
		return result, nil
	}
	if !tf.Valid() {
		result.Error = fmt.Sprintf("invalid timeframe %q", tf)
		return result, nil
	}

	bars, failure, err := w.fetchBars(ctx, symbol, tf, DefaultPeriods)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		result.Error = failure
		return result, nil
	}

	closes := marketdata.Closes(bars)
	result.LastClose = closes[len(closes)-1]

	if rsi, err := indicators.CalculateRSI(closes, RSIPeriod); err == nil {
		result.RSI = lastDefined(rsi)
	} else {
		result.RSI = indicators.Undefined()
	}
	result.RSIState = indicators.RSIState(result.RSI)

	if macd, err := indicators.CalculateMACD(closes, MACDFast, MACDSlow, MACDSignal); err == nil {
		result.MACD = lastDefined(macd.MACD)
		result.MACDSignal = lastDefined(macd.Signal)
		result.MACDHistogram = lastDefined(macd.Histogram)
	} else {
		result.MACD = indicators.Undefined()
		result.MACDSignal = indicators.Undefined()
		result.MACDHistogram = indicators.Undefined()
	}
	switch {
	case indicators.IsDefined(result.MACDHistogram) && result.MACDHistogram > 0:
		result.MACDTrend = "bullish"
	case indicators.IsDefined(result.MACDHistogram) && result.MACDHistogram < 0:
		result.MACDTrend = "bearish"
	default:
		result.MACDTrend = "flat"
	}

	if profile, err := indicators.AnalyzeVolume(marketdata.Volumes(bars), VolumeMAPeriod); err == nil {
		result.Volume = profile
	}

	if atr, err := indicators.CalculateATR(marketdata.Highs(bars), marketdata.Lows(bars), closes, ATRPeriod); err == nil {
		result.ATR = lastDefined(atr)
	} else {
		result.ATR = indicators.Undefined()
	}
	if indicators.IsDefined(result.ATR) {
		result.Volatility = indicators.ClassifyVolatility(result.ATR, result.LastClose)
	} else {
		result.Volatility = "unknown"
	}

	result.Success = true
	return result, nil
}

// lastDefined walks a series backwards to its most recent defined value.
func lastDefined(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if indicators.IsDefined(series[i]) {
			return series[i]
		}
	}
	return indicators.Undefined()
}

// tradeDirectionToFib maps a trade action onto the Fibonacci direction
// whose retracements mark its entry zone.
func tradeDirectionToFib(action Action) fibonacci.Direction {
	if action == ActionShort {
		return fibonacci.DirectionSell
	}
	return fibonacci.DirectionBuy
}

// levelSources tags computed levels with their tool and timeframe for
// confluence matching.
func levelSources(tf marketdata.Timeframe, retracements, extensions []fibonacci.Level) []LevelSource {
	sources := make([]LevelSource, 0, len(retracements)+len(extensions))
	for _, l := range retracements {
		sources = append(sources, LevelSource{Tool: fibonacci.ToolRetracement, Timeframe: tf, Ratio: l.Ratio, Price: l.Price})
	}
	for _, l := range extensions {
		sources = append(sources, LevelSource{Tool: fibonacci.ToolExtension, Timeframe: tf, Ratio: l.Ratio, Price: l.Price})
	}
	return sources
}
