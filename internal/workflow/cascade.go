package workflow

import (
	"context"
	"fmt"
	"sort"

	"market-analysis-engine/internal/marketdata"
)

// Reversal-cascade stages. A reversal propagates from the finest
// timeframes toward the coarsest; the deeper the divergence reaches, the
// likelier the dominant trend is turning.
const (
	StageAligned      = 1
	StageIntradayTurn = 2
	StageHourlyTurn   = 3
	StageFourHourTurn = 4
	StageDailyTurn    = 5
	StageFullReversal = 6
)

// stageProbability maps a cascade stage to its reversal probability.
var stageProbability = map[int]int{
	StageAligned:      5,
	StageIntradayTurn: 15,
	StageHourlyTurn:   30,
	StageFourHourTurn: 50,
	StageDailyTurn:    75,
	StageFullReversal: 95,
}

var stageInsight = map[int]string{
	StageAligned:      "all timeframes agree with the dominant trend; trade pullbacks with the trend",
	StageIntradayTurn: "intraday timeframes have turned; early warning only, the trend is intact",
	StageHourlyTurn:   "the hourly has joined the turn; tighten stops on with-trend positions",
	StageFourHourTurn: "the four-hour has joined the turn; reduce with-trend exposure",
	StageDailyTurn:    "the daily has turned against the dominant trend; reversal is likely underway",
	StageFullReversal: "all non-dominant timeframes have reversed; treat the old trend as finished",
}

// TimeframeTrend is one timeframe's read inside a cascade analysis.
type TimeframeTrend struct {
	Timeframe  marketdata.Timeframe `json:"timeframe"`
	Trend      TrendDirection       `json:"trend"`
	Confidence int                  `json:"confidence"`
	Diverging  bool                 `json:"diverging"`
}

// CascadeAnalysis is the multi-timeframe reversal read for one symbol.
type CascadeAnalysis struct {
	Success          bool                 `json:"success"`
	Symbol           string               `json:"symbol"`
	DominantTrend    TrendDirection       `json:"dominant_trend"`
	Stage            int                  `json:"stage"`
	Probability      int                  `json:"probability"`
	Timeframes       []TimeframeTrend     `json:"timeframes,omitempty"`
	DeepestDiverging marketdata.Timeframe `json:"deepest_diverging,omitempty"`
	Insight          string               `json:"insight,omitempty"`
	Error            string               `json:"error,omitempty"`
}

// DetectCascade assesses each timeframe, derives the dominant trend from
// the coarser half, and maps the deepest diverging timeframe to a reversal
// stage. A neutral dominant read cannot stage a reversal and reports
// stage 1.
func (w *Workflow) DetectCascade(ctx context.Context, symbol string, tfs []marketdata.Timeframe) (*CascadeAnalysis, error) {
	analysis := &CascadeAnalysis{Symbol: symbol, DominantTrend: TrendNeutral, Stage: StageAligned}
	if symbol == "" {
		analysis.Error = "symbol is required"
		return analysis, nil
	}
	if len(tfs) < 2 {
		analysis.Error = "at least two timeframes are required"
		return analysis, nil
	}
	for _, tf := range tfs {
		if !tf.Valid() {
			analysis.Error = fmt.Sprintf("invalid timeframe %q", tf)
			return analysis, nil
		}
	}

	ordered := make([]marketdata.Timeframe, len(tfs))
	copy(ordered, tfs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return marketdata.HierarchyIndex(ordered[i]) < marketdata.HierarchyIndex(ordered[j])
	})

	reads := make([]TimeframeTrend, 0, len(ordered))
	for _, tf := range ordered {
		assessment, err := w.AssessTrend(ctx, symbol, tf)
		if err != nil {
			return nil, err
		}
		if !assessment.Success {
			analysis.Error = fmt.Sprintf("%s %s: %s", symbol, tf, assessment.Error)
			return analysis, nil
		}
		reads = append(reads, TimeframeTrend{
			Timeframe:  tf,
			Trend:      assessment.Trend,
			Confidence: assessment.Confidence,
		})
	}

	analysis.DominantTrend = dominantTrend(reads)
	analysis.Timeframes = reads
	analysis.Success = true

	if analysis.DominantTrend == TrendNeutral {
		analysis.Stage = StageAligned
		analysis.Probability = stageProbability[StageAligned]
		analysis.Insight = "no dominant trend on the coarser timeframes; cascade staging is not meaningful"
		return analysis, nil
	}

	deepest := -1
	for i := range reads {
		if reads[i].Trend != analysis.DominantTrend && reads[i].Trend != TrendNeutral {
			reads[i].Diverging = true
			if deepest == -1 {
				deepest = i
			}
		}
	}

	analysis.Stage = cascadeStage(deepest, reads)
	analysis.Probability = stageProbability[analysis.Stage]
	analysis.Insight = stageInsight[analysis.Stage]
	if deepest >= 0 {
		analysis.DeepestDiverging = reads[deepest].Timeframe
	}
	return analysis, nil
}

// dominantTrend votes the coarser half of the reads. Ties stay neutral.
func dominantTrend(reads []TimeframeTrend) TrendDirection {
	half := (len(reads) + 1) / 2
	bullish, bearish := 0, 0
	for _, r := range reads[:half] {
		switch r.Trend {
		case TrendBullish:
			bullish++
		case TrendBearish:
			bearish++
		}
	}
	switch {
	case bullish > bearish:
		return TrendBullish
	case bearish > bullish:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// cascadeStage maps the deepest diverging timeframe (reads are ordered
// coarsest first) to a stage. Divergence reaching past the daily means
// every timeframe off the dominant trend has reversed.
func cascadeStage(deepest int, reads []TimeframeTrend) int {
	if deepest < 0 {
		return StageAligned
	}
	rank := marketdata.HierarchyIndex(reads[deepest].Timeframe)
	daily := marketdata.HierarchyIndex(marketdata.Timeframe1D)
	fourHour := marketdata.HierarchyIndex(marketdata.Timeframe4H)
	hourly := marketdata.HierarchyIndex(marketdata.Timeframe1H)

	switch {
	case rank < daily:
		return StageFullReversal
	case rank == daily:
		return StageDailyTurn
	case rank == fourHour:
		return StageFourHourTurn
	case rank == hourly:
		return StageHourlyTurn
	default:
		return StageIntradayTurn
	}
}
