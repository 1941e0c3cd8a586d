package workflow

import (
	"context"
	"fmt"
	"math"

	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/pivots"
)

// ValidationPassThreshold is the percentage of checks a setup must pass.
const ValidationPassThreshold = 60.0

// Confluence floors by category for the checklist's confluence check.
const (
	withTrendMinConfluence = 3
	alignmentMinConfidence = 60
)

// ValidationRequest describes the setup under review. SignalBar and
// EntryLevel are optional; without them the signal-bar check fails with an
// explanatory detail rather than erroring.
type ValidationRequest struct {
	Symbol          string               `json:"symbol"`
	HigherTimeframe marketdata.Timeframe `json:"higher_timeframe"`
	LowerTimeframe  marketdata.Timeframe `json:"lower_timeframe"`
	Direction       Action               `json:"direction"`
	EntryLevel      float64              `json:"entry_level,omitempty"`
	SignalBar       *marketdata.OHLCBar  `json:"signal_bar,omitempty"`
}

// ValidationCheck is one checklist line.
type ValidationCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// ValidationResult is the checklist outcome.
type ValidationResult struct {
	Success     bool              `json:"success"`
	Symbol      string            `json:"symbol"`
	Direction   Action            `json:"direction"`
	Checks      []ValidationCheck `json:"checks,omitempty"`
	Passed      int               `json:"passed"`
	Total       int               `json:"total"`
	PassPercent float64           `json:"pass_percent"`
	IsValid     bool              `json:"is_valid"`
	Category    TradeCategory     `json:"category,omitempty"`
	Confluence  int               `json:"confluence"`
	Error       string            `json:"error,omitempty"`
}

// ValidateTrade runs the eight-point pre-trade checklist for a setup. The
// setup is valid when at least ValidationPassThreshold percent of checks
// pass; reversal attempts can never reach that bar through the confluence
// check alone.
func (w *Workflow) ValidateTrade(ctx context.Context, req ValidationRequest) (*ValidationResult, error) {
	result := &ValidationResult{Symbol: req.Symbol, Direction: req.Direction}

	if req.Symbol == "" {
		result.Error = "symbol is required"
		return result, nil
	}
	if !req.HigherTimeframe.Valid() || !req.LowerTimeframe.Valid() {
		result.Error = fmt.Sprintf("invalid timeframe pair (%q, %q)", req.HigherTimeframe, req.LowerTimeframe)
		return result, nil
	}
	if req.HigherTimeframe == req.LowerTimeframe {
		result.Error = "higher and lower timeframes must differ"
		return result, nil
	}
	if req.Direction != ActionLong && req.Direction != ActionShort {
		result.Error = fmt.Sprintf("direction must be LONG or SHORT, got %q", req.Direction)
		return result, nil
	}

	higherBars, failure, err := w.fetchBars(ctx, req.Symbol, req.HigherTimeframe, DefaultPeriods)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		result.Error = fmt.Sprintf("%s %s: %s", req.Symbol, req.HigherTimeframe, failure)
		return result, nil
	}
	lowerBars, failure, err := w.fetchBars(ctx, req.Symbol, req.LowerTimeframe, DefaultPeriods)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		result.Error = fmt.Sprintf("%s %s: %s", req.Symbol, req.LowerTimeframe, failure)
		return result, nil
	}

	higher := AssessBars(higherBars, pivots.DefaultLookback, pivots.DefaultCount)
	lower := AssessBars(lowerBars, pivots.DefaultLookback, pivots.DefaultCount)
	decision := DecideAlignment(higher.Trend, lower.Trend)

	fibDir := tradeDirectionToFib(req.Direction)
	lowerStructure := pivots.DetectPivots(lowerBars, pivots.DefaultLookback, pivots.DefaultCount)
	higherStructure := pivots.DetectPivots(higherBars, pivots.DefaultLookback, pivots.DefaultCount)

	var lowerRetr, lowerExt, higherRetr, higherExt []fibonacci.Level
	if lowerStructure.SwingHigh != nil && lowerStructure.SwingLow != nil {
		lowerRetr, _ = fibonacci.RetracementLevels(lowerStructure.SwingHigh.Price, lowerStructure.SwingLow.Price, fibDir)
		lowerExt, _ = fibonacci.ExtensionLevels(lowerStructure.SwingHigh.Price, lowerStructure.SwingLow.Price, fibDir)
	}
	if higherStructure.SwingHigh != nil && higherStructure.SwingLow != nil {
		higherRetr, _ = fibonacci.RetracementLevels(higherStructure.SwingHigh.Price, higherStructure.SwingLow.Price, fibDir)
		higherExt, _ = fibonacci.ExtensionLevels(higherStructure.SwingHigh.Price, higherStructure.SwingLow.Price, fibDir)
	}

	lastClose := lowerBars[len(lowerBars)-1].Close
	candidate := Candidate{
		Price:     req.EntryLevel,
		Tool:      fibonacci.ToolRetracement,
		Timeframe: req.LowerTimeframe,
	}
	if candidate.Price <= 0 {
		candidate.Price, candidate.Ratio = closestLevel(lowerRetr, lastClose)
	}

	sources := append(levelSources(req.LowerTimeframe, lowerRetr, lowerExt),
		levelSources(req.HigherTimeframe, higherRetr, higherExt)...)
	var pivotPrices []float64
	for _, p := range lowerStructure.RecentPivots {
		pivotPrices = append(pivotPrices, p.Price)
	}

	confluence := ConfluenceScore{}
	if candidate.Price > 0 {
		confluence = ScoreConfluence(candidate, sources, pivotPrices)
	}
	result.Confluence = confluence.Total
	result.Category = CategorizeTrade(higher.Trend, req.Direction, confluence.Total)

	checks := make([]ValidationCheck, 0, 8)
	checks = append(checks, checkTrendAlignment(req.Direction, higher, lower, decision))
	checks = append(checks, checkEntryZone(req.LowerTimeframe, lowerRetr))
	checks = append(checks, checkTargetZones(req.LowerTimeframe, lowerExt))
	checks = append(checks, checkRSI(req.Direction, decision.IsPullback, lowerBars))
	checks = append(checks, checkMACD(req.Direction, higherBars))
	checks = append(checks, checkVolume(lowerBars))
	checks = append(checks, checkConfluence(result.Category, confluence))
	checks = append(checks, checkSignalBar(req.Direction, req.SignalBar, req.EntryLevel))

	for _, c := range checks {
		if c.Passed {
			result.Passed++
		}
	}
	result.Checks = checks
	result.Total = len(checks)
	result.PassPercent = float64(result.Passed) / float64(result.Total) * 100
	result.IsValid = result.PassPercent >= ValidationPassThreshold
	result.Success = true

	w.logger.Debug().Str("symbol", req.Symbol).Str("direction", string(req.Direction)).
		Int("passed", result.Passed).Int("total", result.Total).Bool("valid", result.IsValid).
		Msg("trade validated")
	return result, nil
}

func checkTrendAlignment(direction Action, higher, lower TrendAssessment, decision AlignmentDecision) ValidationCheck {
	check := ValidationCheck{Name: "Trend Alignment"}
	if decision.Action != direction {
		check.Detail = fmt.Sprintf("alignment admits %s, setup wants %s (higher %s, lower %s)",
			decision.Action, direction, higher.Trend, lower.Trend)
		return check
	}
	if higher.Confidence < alignmentMinConfidence {
		check.Detail = fmt.Sprintf("higher-timeframe confidence %d%% below %d%%", higher.Confidence, alignmentMinConfidence)
		return check
	}
	check.Passed = true
	check.Detail = fmt.Sprintf("higher %s (%d%%), lower %s: %s", higher.Trend, higher.Confidence, lower.Trend, decision.Reason)
	return check
}

func checkEntryZone(tf marketdata.Timeframe, retracements []fibonacci.Level) ValidationCheck {
	check := ValidationCheck{Name: "Entry Zone"}
	if len(retracements) == 0 {
		check.Detail = fmt.Sprintf("no %s retracement levels; swing structure incomplete", tf)
		return check
	}
	check.Passed = true
	check.Detail = fmt.Sprintf("%d retracement levels on %s", len(retracements), tf)
	return check
}

func checkTargetZones(tf marketdata.Timeframe, extensions []fibonacci.Level) ValidationCheck {
	check := ValidationCheck{Name: "Target Zones"}
	if len(extensions) == 0 {
		check.Detail = fmt.Sprintf("no %s extension levels; swing structure incomplete", tf)
		return check
	}
	check.Passed = true
	check.Detail = fmt.Sprintf("%d extension targets on %s", len(extensions), tf)
	return check
}

func checkRSI(direction Action, pullback bool, bars []marketdata.OHLCBar) ValidationCheck {
	check := ValidationCheck{Name: "RSI Confirmation"}
	series, err := indicators.CalculateRSI(marketdata.Closes(bars), RSIPeriod)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	value := lastDefined(series)
	if !indicators.IsDefined(value) {
		check.Detail = fmt.Sprintf("insufficient bars for RSI(%d)", RSIPeriod)
		return check
	}
	state := indicators.RSIState(value)
	check.Passed = rsiFitsSetup(state, direction, pullback)
	mode := "with-trend"
	if pullback {
		mode = "pullback"
	}
	check.Detail = fmt.Sprintf("RSI %.1f (%s) for a %s %s setup", value, state, mode, direction)
	return check
}

// rsiFitsSetup encodes the oscillator expectation: a pullback entry wants
// RSI stretched against the trade direction, a with-trend entry wants it
// supportive or neutral.
func rsiFitsSetup(state string, direction Action, pullback bool) bool {
	if pullback {
		if direction == ActionLong {
			return state == "bearish" || state == "oversold"
		}
		return state == "bullish" || state == "overbought"
	}
	if direction == ActionLong {
		return state == "bullish" || state == "overbought" || state == "neutral"
	}
	return state == "bearish" || state == "oversold" || state == "neutral"
}

func checkMACD(direction Action, bars []marketdata.OHLCBar) ValidationCheck {
	check := ValidationCheck{Name: "MACD Momentum"}
	series, err := indicators.CalculateMACD(marketdata.Closes(bars), MACDFast, MACDSlow, MACDSignal)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	hist := lastDefined(series.Histogram)
	if !indicators.IsDefined(hist) {
		check.Detail = "insufficient bars for MACD"
		return check
	}
	if direction == ActionLong {
		check.Passed = hist > 0
	} else {
		check.Passed = hist < 0
	}
	check.Detail = fmt.Sprintf("higher-timeframe MACD histogram %.4f", hist)
	return check
}

func checkVolume(bars []marketdata.OHLCBar) ValidationCheck {
	check := ValidationCheck{Name: "Volume Support"}
	profile, err := indicators.AnalyzeVolume(marketdata.Volumes(bars), VolumeMAPeriod)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.Passed = profile.IsAboveAverage
	check.Detail = fmt.Sprintf("relative volume %.2f", profile.RelativeVolume)
	return check
}

func checkConfluence(category TradeCategory, score ConfluenceScore) ValidationCheck {
	check := ValidationCheck{Name: "Confluence Strength"}
	switch category {
	case CategoryWithTrend:
		check.Passed = score.Total >= withTrendMinConfluence
		check.Detail = fmt.Sprintf("with-trend setup scores %d (needs %d)", score.Total, withTrendMinConfluence)
	case CategoryCounterTrend:
		check.Passed = score.Total >= CounterTrendMinConfluence
		check.Detail = fmt.Sprintf("counter-trend setup scores %d (needs %d)", score.Total, CounterTrendMinConfluence)
	default:
		check.Detail = fmt.Sprintf("reversal attempt scores %d; reversal attempts never pass", score.Total)
	}
	return check
}

func checkSignalBar(direction Action, bar *marketdata.OHLCBar, entryLevel float64) ValidationCheck {
	check := ValidationCheck{Name: "Signal Bar"}
	if bar == nil || entryLevel <= 0 {
		check.Detail = "signal bar and entry level required"
		return check
	}
	check.Passed = SignalBarConfirms(*bar, direction, entryLevel)
	check.Detail = fmt.Sprintf("close %.2f vs open %.2f and entry %.2f", bar.Close, bar.Open, entryLevel)
	return check
}

// SignalBarConfirms applies the entry-trigger bar rule: a long needs a
// bullish close back above the entry level, a short a bearish close back
// below it.
func SignalBarConfirms(bar marketdata.OHLCBar, direction Action, entryLevel float64) bool {
	if direction == ActionLong {
		return bar.Close > bar.Open && bar.Close > entryLevel
	}
	return bar.Close < bar.Open && bar.Close < entryLevel
}

// closestLevel picks the level nearest to price. Returns zeros for an
// empty set.
func closestLevel(levels []fibonacci.Level, price float64) (float64, float64) {
	best, bestRatio, bestDist := 0.0, 0.0, math.Inf(1)
	for _, l := range levels {
		if d := math.Abs(l.Price - price); d < bestDist {
			best, bestRatio, bestDist = l.Price, l.Ratio, d
		}
	}
	return best, bestRatio
}
