package workflow

import (
	"context"
	"fmt"
	"sort"

	"market-analysis-engine/internal/marketdata"
)

// Action is the trade direction an alignment admits.
type Action string

const (
	ActionLong       Action = "LONG"
	ActionShort      Action = "SHORT"
	ActionStandAside Action = "STAND_ASIDE"
)

// AlignmentDecision is the outcome of reading a higher and a lower
// timeframe together.
type AlignmentDecision struct {
	Action      Action `json:"action"`
	ShouldTrade bool   `json:"should_trade"`
	IsPullback  bool   `json:"is_pullback"`
	Reason      string `json:"reason"`
}

// DecideAlignment applies the two-timeframe rule table. A lower timeframe
// counter to the higher trend is a pullback entry; agreement is a
// with-trend setup that still needs a signal bar; any neutral read stands
// aside.
func DecideAlignment(higher, lower TrendDirection) AlignmentDecision {
	switch {
	case higher == TrendBullish && lower == TrendBearish:
		return AlignmentDecision{
			Action: ActionLong, ShouldTrade: true, IsPullback: true,
			Reason: "higher-timeframe uptrend with a lower-timeframe pullback; look to buy the dip",
		}
	case higher == TrendBearish && lower == TrendBullish:
		return AlignmentDecision{
			Action: ActionShort, ShouldTrade: true, IsPullback: true,
			Reason: "higher-timeframe downtrend with a lower-timeframe rally; look to sell the bounce",
		}
	case higher == TrendBullish && lower == TrendBullish:
		return AlignmentDecision{
			Action: ActionLong, ShouldTrade: true,
			Reason: "both timeframes trending up; wait for a signal bar at support",
		}
	case higher == TrendBearish && lower == TrendBearish:
		return AlignmentDecision{
			Action: ActionShort, ShouldTrade: true,
			Reason: "both timeframes trending down; wait for a signal bar at resistance",
		}
	default:
		return AlignmentDecision{
			Action: ActionStandAside,
			Reason: "at least one timeframe is undecided; stand aside",
		}
	}
}

// AlignmentResult carries the per-timeframe assessments and the decision
// read from the coarsest against the finest.
type AlignmentResult struct {
	Success     bool                   `json:"success"`
	Symbol      string                 `json:"symbol"`
	Timeframes  []marketdata.Timeframe `json:"timeframes"`
	Assessments []TrendAssessment      `json:"assessments,omitempty"`
	Aligned     bool                   `json:"aligned"`
	Decision    AlignmentDecision      `json:"decision"`
	Error       string                 `json:"error,omitempty"`
}

// CheckTimeframeAlignment assesses each requested timeframe, coarsest
// first, and decides from the outermost pair. Aligned is true only when
// every timeframe agrees on a non-neutral trend.
func (w *Workflow) CheckTimeframeAlignment(ctx context.Context, symbol string, tfs []marketdata.Timeframe) (*AlignmentResult, error) {
	result := &AlignmentResult{Symbol: symbol, Timeframes: tfs, Decision: DecideAlignment(TrendNeutral, TrendNeutral)}
	if symbol == "" {
		result.Error = "symbol is required"
		return result, nil
	}
	if len(tfs) < 2 {
		result.Error = "at least two timeframes are required"
		return result, nil
	}
	for _, tf := range tfs {
		if !tf.Valid() {
			result.Error = fmt.Sprintf("invalid timeframe %q", tf)
			return result, nil
		}
	}

	ordered := make([]marketdata.Timeframe, len(tfs))
	copy(ordered, tfs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return marketdata.HierarchyIndex(ordered[i]) < marketdata.HierarchyIndex(ordered[j])
	})
	result.Timeframes = ordered

	for _, tf := range ordered {
		assessment, err := w.AssessTrend(ctx, symbol, tf)
		if err != nil {
			return nil, err
		}
		if !assessment.Success {
			result.Error = fmt.Sprintf("%s %s: %s", symbol, tf, assessment.Error)
			return result, nil
		}
		result.Assessments = append(result.Assessments, *assessment)
	}

	first := result.Assessments[0]
	last := result.Assessments[len(result.Assessments)-1]
	result.Decision = DecideAlignment(first.Trend, last.Trend)

	result.Aligned = first.Trend != TrendNeutral
	for _, a := range result.Assessments {
		if a.Trend != first.Trend {
			result.Aligned = false
			break
		}
	}

	result.Success = true
	return result, nil
}
