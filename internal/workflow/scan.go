package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/pivots"
)

// AwaitingSignalNote marks a potential setup that still needs its trigger.
const AwaitingSignalNote = "Awaiting signal bar at Fib support/resistance"

// TimeframePair is one higher/lower combination to scan.
type TimeframePair struct {
	Higher marketdata.Timeframe `json:"higher"`
	Lower  marketdata.Timeframe `json:"lower"`
}

// ScanRequest fans a symbol list across timeframe pairs.
type ScanRequest struct {
	Symbols          []string        `json:"symbols"`
	Pairs            []TimeframePair `json:"timeframe_pairs"`
	IncludePotential bool            `json:"include_potential"`
	Workers          int             `json:"workers,omitempty"`
}

// TradeOpportunity is one actionable setup found by a scan.
type TradeOpportunity struct {
	Symbol               string               `json:"symbol"`
	HigherTimeframe      marketdata.Timeframe `json:"higher_timeframe"`
	LowerTimeframe       marketdata.Timeframe `json:"lower_timeframe"`
	Direction            Action               `json:"direction"`
	HigherTrend          TrendDirection       `json:"higher_trend"`
	LowerTrend           TrendDirection       `json:"lower_trend"`
	IsPullback           bool                 `json:"is_pullback"`
	IsConfirmed          bool                 `json:"is_confirmed"`
	AwaitingConfirmation string               `json:"awaiting_confirmation,omitempty"`
	Confidence           int                  `json:"confidence"`
	EntryLevel           float64              `json:"entry_level,omitempty"`
	LevelKey             string               `json:"level_key,omitempty"`
	LastPrice            float64              `json:"last_price"`
	Reason               string               `json:"reason"`
}

// ScanResult is the aggregate outcome of one scan.
type ScanResult struct {
	Success        bool               `json:"success"`
	ScanID         string             `json:"scan_id"`
	Opportunities  []TradeOpportunity `json:"opportunities"`
	SymbolsScanned int                `json:"symbols_scanned"`
	PairsEvaluated int                `json:"pairs_evaluated"`
	Failures       []string           `json:"failures,omitempty"`
	ElapsedMS      int64              `json:"elapsed_ms"`
	Error          string             `json:"error,omitempty"`
}

type scanJob struct {
	symbol string
	pair   TimeframePair
}

type scanOutcome struct {
	opportunity *TradeOpportunity
	failure     string
}

// ScanOpportunities evaluates every symbol against every timeframe pair
// using a bounded worker pool. Per-combination failures are collected, not
// fatal; cancellation aborts the whole scan.
func (w *Workflow) ScanOpportunities(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	started := w.now()
	result := &ScanResult{
		ScanID:        uuid.New().String(),
		Opportunities: []TradeOpportunity{},
	}

	if len(req.Symbols) == 0 {
		result.Error = "at least one symbol is required"
		return result, nil
	}
	if len(req.Pairs) == 0 {
		result.Error = "at least one timeframe pair is required"
		return result, nil
	}
	for _, pair := range req.Pairs {
		if !pair.Higher.Valid() || !pair.Lower.Valid() {
			result.Error = fmt.Sprintf("invalid timeframe pair (%q, %q)", pair.Higher, pair.Lower)
			return result, nil
		}
		if marketdata.HierarchyIndex(pair.Higher) >= marketdata.HierarchyIndex(pair.Lower) {
			result.Error = fmt.Sprintf("pair (%s, %s): higher timeframe must be coarser", pair.Higher, pair.Lower)
			return result, nil
		}
	}

	workers := req.Workers
	if workers <= 0 {
		workers = w.workers
	}

	if w.bus != nil {
		w.bus.PublishScanStarted(result.ScanID, len(req.Symbols), len(req.Pairs))
	}

	jobs := make(chan scanJob, len(req.Symbols)*len(req.Pairs))
	outcomes := make(chan scanOutcome, len(req.Symbols)*len(req.Pairs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				opportunity, failure := w.evaluateCombination(ctx, job.symbol, job.pair, req.IncludePotential)
				outcomes <- scanOutcome{opportunity: opportunity, failure: failure}
			}
		}()
	}

	for _, symbol := range req.Symbols {
		for _, pair := range req.Pairs {
			jobs <- scanJob{symbol: symbol, pair: pair}
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for outcome := range outcomes {
		if outcome.failure != "" {
			result.Failures = append(result.Failures, outcome.failure)
		}
		if outcome.opportunity != nil {
			result.Opportunities = append(result.Opportunities, *outcome.opportunity)
		}
	}
	sort.SliceStable(result.Opportunities, func(i, j int) bool {
		if result.Opportunities[i].Confidence != result.Opportunities[j].Confidence {
			return result.Opportunities[i].Confidence > result.Opportunities[j].Confidence
		}
		return result.Opportunities[i].Symbol < result.Opportunities[j].Symbol
	})

	result.SymbolsScanned = len(req.Symbols)
	result.PairsEvaluated = len(req.Symbols) * len(req.Pairs)
	result.ElapsedMS = w.now().Sub(started).Milliseconds()
	result.Success = true

	elapsed := w.now().Sub(started)
	metrics.ObserveScanDuration(elapsed.Seconds())
	if w.bus != nil {
		w.bus.PublishScanCompleted(result.ScanID, len(req.Symbols), len(result.Opportunities), elapsed)
	}
	w.logger.Info().Str("scan_id", result.ScanID).Int("symbols", len(req.Symbols)).
		Int("opportunities", len(result.Opportunities)).Int("failures", len(result.Failures)).
		Int64("elapsed_ms", result.ElapsedMS).Msg("scan complete")
	return result, nil
}

// evaluateCombination reads one symbol on one timeframe pair. It returns a
// nil opportunity when the combination offers nothing tradeable.
func (w *Workflow) evaluateCombination(ctx context.Context, symbol string, pair TimeframePair, includePotential bool) (*TradeOpportunity, string) {
	higherBars, failure, err := w.fetchBars(ctx, symbol, pair.Higher, DefaultPeriods)
	if err != nil || failure != "" {
		return nil, combinationFailure(symbol, pair.Higher, failure, err)
	}
	lowerBars, failure, err := w.fetchBars(ctx, symbol, pair.Lower, DefaultPeriods)
	if err != nil || failure != "" {
		return nil, combinationFailure(symbol, pair.Lower, failure, err)
	}

	higher := AssessBars(higherBars, pivots.DefaultLookback, pivots.DefaultCount)
	lower := AssessBars(lowerBars, pivots.DefaultLookback, pivots.DefaultCount)
	decision := DecideAlignment(higher.Trend, lower.Trend)
	if !decision.ShouldTrade {
		return nil, ""
	}
	if higher.Confidence < alignmentMinConfidence {
		return nil, ""
	}

	confidence := (higher.Confidence + lower.Confidence) / 2
	if confidence > 100 {
		confidence = 100
	}

	opportunity := &TradeOpportunity{
		Symbol:          symbol,
		HigherTimeframe: pair.Higher,
		LowerTimeframe:  pair.Lower,
		Direction:       decision.Action,
		HigherTrend:     higher.Trend,
		LowerTrend:      lower.Trend,
		IsPullback:      decision.IsPullback,
		Confidence:      confidence,
		LastPrice:       lower.LastPrice,
		Reason:          decision.Reason,
	}

	fibDir := tradeDirectionToFib(decision.Action)
	structure := pivots.DetectPivots(lowerBars, pivots.DefaultLookback, pivots.DefaultCount)
	var retracements []fibonacci.Level
	if structure.SwingHigh != nil && structure.SwingLow != nil {
		retracements, _ = fibonacci.RetracementLevels(structure.SwingHigh.Price, structure.SwingLow.Price, fibDir)
	}

	if decision.IsPullback {
		opportunity.IsConfirmed = true
		if level, ratio := closestLevel(retracements, lower.LastPrice); level > 0 {
			opportunity.EntryLevel = level
			opportunity.LevelKey = fibonacci.RatioKey(ratio)
		}
		return opportunity, ""
	}

	// With-trend setups trigger on a signal bar at a retracement.
	lastBar := lowerBars[len(lowerBars)-1]
	for _, level := range retracements {
		touched := lastBar.Low <= level.Price
		if decision.Action == ActionShort {
			touched = lastBar.High >= level.Price
		}
		if touched && SignalBarConfirms(lastBar, decision.Action, level.Price) {
			opportunity.IsConfirmed = true
			opportunity.EntryLevel = level.Price
			opportunity.LevelKey = fibonacci.RatioKey(level.Ratio)
			return opportunity, ""
		}
	}
	if includePotential {
		opportunity.AwaitingConfirmation = AwaitingSignalNote
		return opportunity, ""
	}
	return nil, ""
}

func combinationFailure(symbol string, tf marketdata.Timeframe, failure string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s %s: %v", symbol, tf, err)
	}
	return fmt.Sprintf("%s %s: %s", symbol, tf, failure)
}
