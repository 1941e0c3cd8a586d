package backtest

import (
	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

// Retracement ratios eligible as entry levels, and the extension ratios
// used for profit targets.
var (
	entryRetracementRatios = []float64{0.382, 0.5, 0.618}
	targetExtensionRatios  = []float64{1.0, 1.272, 1.618}
)

// signalValidationChecks is the internal checklist size applied to every
// candidate entry before it is emitted.
const signalValidationChecks = 5

// SignalsConfig parameterizes entry detection.
type SignalsConfig struct {
	// LookbackPeriods is the trailing lower-timeframe window used for the
	// local trend read, the swing range and the ATR.
	LookbackPeriods int
	// ConfluenceThreshold is the minimum confluence total for a level to
	// qualify as an entry.
	ConfluenceThreshold int
	// ValidationThreshold is the minimum internal checklist pass
	// percentage.
	ValidationThreshold float64
	ATRPeriod           int
	ATRStopMultiplier   float64
	// Timeframe tags confluence candidates and sources; scoring only
	// compares it for same-timeframe matches.
	Timeframe marketdata.Timeframe
}

func (c SignalsConfig) withDefaults() SignalsConfig {
	if c.LookbackPeriods <= 0 {
		c.LookbackPeriods = DefaultLookbackPeriods
	}
	if c.ConfluenceThreshold <= 0 {
		c.ConfluenceThreshold = DefaultConfluenceThreshold
	}
	if c.ValidationThreshold <= 0 {
		c.ValidationThreshold = DefaultValidationThreshold
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = DefaultATRPeriod
	}
	if c.ATRStopMultiplier <= 0 {
		c.ATRStopMultiplier = DefaultATRStopMultiplier
	}
	return c
}

// EntrySignal is an admitted entry at one bar: where to get in, where the
// initial stop sits, and the targets in travel order.
type EntrySignal struct {
	Direction  workflow.Action        `json:"direction"`
	Category   workflow.TradeCategory `json:"category"`
	EntryPrice float64                `json:"entry_price"`
	StopLoss   float64                `json:"stop_loss"`
	Targets    []float64              `json:"targets"`
	LevelRatio float64                `json:"level_ratio"`
	LevelPrice float64                `json:"level_price"`
	Confluence int                    `json:"confluence"`
	Validation float64                `json:"validation"`
	ATR        float64                `json:"atr"`
	IsPullback bool                   `json:"is_pullback"`
}

// SignalsProcessor runs the live entry logic against historical windows.
// It is pure: the same bars and index always yield the same signal.
type SignalsProcessor struct {
	cfg SignalsConfig
}

// NewSignalsProcessor builds a processor, filling zero config fields with
// package defaults.
func NewSignalsProcessor(cfg SignalsConfig) *SignalsProcessor {
	return &SignalsProcessor{cfg: cfg.withDefaults()}
}

// DetectEntrySignal decides whether the lower-timeframe bar at barIndex
// is a tradeable entry. The higher-timeframe series sets the trend
// context; the trailing lower-timeframe window supplies structure, swing
// range and ATR. Returns nil when any gate fails.
func (p *SignalsProcessor) DetectEntrySignal(higherBars, lowerBars []marketdata.OHLCBar, barIndex int) *EntrySignal {
	if barIndex < p.cfg.LookbackPeriods || barIndex >= len(lowerBars) {
		return nil
	}
	window := lowerBars[barIndex-p.cfg.LookbackPeriods : barIndex+1]
	bar := lowerBars[barIndex]

	higher := workflow.AssessBars(higherBars, 0, 0)
	lower := workflow.AssessBars(window, 0, 0)
	if !higher.Success || !lower.Success {
		return nil
	}
	if higher.Trend == workflow.TrendNeutral || lower.Trend == workflow.TrendNeutral {
		return nil
	}

	decision := workflow.DecideAlignment(higher.Trend, lower.Trend)
	if !decision.ShouldTrade {
		return nil
	}
	direction := decision.Action

	swingHigh, swingLow := windowSwing(window)
	if swingHigh <= swingLow {
		return nil
	}

	fibDir := tradeDirectionToFib(direction)
	levelPrice, levelRatio, ok := signalBarAtKeyLevel(bar, direction, fibDir, swingHigh, swingLow)
	if !ok {
		return nil
	}

	atrSeries, err := indicators.CalculateATR(
		marketdata.Highs(window), marketdata.Lows(window), marketdata.Closes(window), p.cfg.ATRPeriod)
	if err != nil {
		return nil
	}
	atr := atrSeries[len(atrSeries)-1]
	if !indicators.IsDefined(atr) {
		return nil
	}

	score := p.scoreLevel(levelPrice, levelRatio, fibDir, swingHigh, swingLow)
	if score.Total < p.cfg.ConfluenceThreshold {
		return nil
	}

	validation := p.validateSignal(decision, score.Total)
	if validation < p.cfg.ValidationThreshold {
		return nil
	}

	entry := bar.Close
	stop := entry - atr*p.cfg.ATRStopMultiplier
	if direction == workflow.ActionShort {
		stop = entry + atr*p.cfg.ATRStopMultiplier
	}

	return &EntrySignal{
		Direction:  direction,
		Category:   workflow.CategorizeTrade(higher.Trend, direction, score.Total),
		EntryPrice: entry,
		StopLoss:   stop,
		Targets:    targetLevels(direction, entry, swingHigh, swingLow),
		LevelRatio: levelRatio,
		LevelPrice: levelPrice,
		Confluence: score.Total,
		Validation: validation,
		ATR:        atr,
		IsPullback: decision.IsPullback,
	}
}

// windowSwing returns the extremes of the trailing window, the swing
// substitute for structural pivots at backtest granularity.
func windowSwing(window []marketdata.OHLCBar) (high, low float64) {
	high = window[0].High
	low = window[0].Low
	for _, bar := range window[1:] {
		if bar.High > high {
			high = bar.High
		}
		if bar.Low < low {
			low = bar.Low
		}
	}
	return high, low
}

// signalBarAtKeyLevel looks for a rejection bar at one of the key
// retracements. Longs must dip to the level and close bullish above it;
// shorts must probe it and close bearish below it. The first matching
// ratio wins.
func signalBarAtKeyLevel(bar marketdata.OHLCBar, direction workflow.Action, fibDir fibonacci.Direction, swingHigh, swingLow float64) (price, ratio float64, ok bool) {
	for _, r := range entryRetracementRatios {
		level := fibonacci.Retracement(swingHigh, swingLow, r, fibDir)
		touched := bar.Low <= level
		if direction == workflow.ActionShort {
			touched = bar.High >= level
		}
		if touched && workflow.SignalBarConfirms(bar, direction, level) {
			return level, r, true
		}
	}
	return 0, 0, false
}

// scoreLevel runs the confluence scorer against the full level set drawn
// from the window swing. All levels share the processor timeframe, so
// only same-timeframe, cross-tool and psychological components can fire.
func (p *SignalsProcessor) scoreLevel(levelPrice, levelRatio float64, fibDir fibonacci.Direction, swingHigh, swingLow float64) workflow.ConfluenceScore {
	sources := make([]workflow.LevelSource, 0, len(fibonacci.RetracementRatios)+len(fibonacci.ExtensionRatios))
	for _, r := range fibonacci.RetracementRatios {
		sources = append(sources, workflow.LevelSource{
			Tool:      fibonacci.ToolRetracement,
			Timeframe: p.cfg.Timeframe,
			Ratio:     r,
			Price:     fibonacci.Retracement(swingHigh, swingLow, r, fibDir),
		})
	}
	for _, r := range fibonacci.ExtensionRatios {
		sources = append(sources, workflow.LevelSource{
			Tool:      fibonacci.ToolExtension,
			Timeframe: p.cfg.Timeframe,
			Ratio:     r,
			Price:     fibonacci.Extension(swingHigh, swingLow, r, fibDir),
		})
	}
	candidate := workflow.Candidate{
		Price:     levelPrice,
		Tool:      fibonacci.ToolRetracement,
		Timeframe: p.cfg.Timeframe,
		Ratio:     levelRatio,
	}
	return workflow.ScoreConfluence(candidate, sources, nil)
}

// validateSignal scores the internal checklist. Alignment and the signal
// bar already held to get this far, so those two always pass; the
// remaining checks grade pullback context and confluence depth.
func (p *SignalsProcessor) validateSignal(decision workflow.AlignmentDecision, confluence int) float64 {
	passed := 0
	checks := []bool{
		decision.ShouldTrade,
		decision.IsPullback,
		confluence >= p.cfg.ConfluenceThreshold,
		confluence >= 2,
		true, // signal bar confirmed upstream
	}
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(signalValidationChecks) * 100
}

// targetLevels projects profit targets past the swing in the travel
// direction: the swing boundary itself, then the 1.272 and 1.618
// measured moves beyond it. Longs draw sell-side extensions above the
// swing high, shorts buy-side extensions below the swing low. Targets
// not beyond the entry are dropped.
func targetLevels(direction workflow.Action, entry, swingHigh, swingLow float64) []float64 {
	extDir := fibonacci.DirectionSell
	if direction == workflow.ActionShort {
		extDir = fibonacci.DirectionBuy
	}
	targets := make([]float64, 0, len(targetExtensionRatios))
	for _, r := range targetExtensionRatios {
		target := fibonacci.Extension(swingHigh, swingLow, r, extDir)
		if direction == workflow.ActionLong && target <= entry {
			continue
		}
		if direction == workflow.ActionShort && target >= entry {
			continue
		}
		targets = append(targets, target)
	}
	return targets
}

// tradeDirectionToFib maps a trade direction onto the Fibonacci drawing
// direction used for its entry retracements.
func tradeDirectionToFib(direction workflow.Action) fibonacci.Direction {
	if direction == workflow.ActionShort {
		return fibonacci.DirectionSell
	}
	return fibonacci.DirectionBuy
}
