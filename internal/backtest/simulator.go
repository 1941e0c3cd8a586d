package backtest

import (
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

// SimulatorConfig parameterizes trade management in R-multiples of the
// initial risk.
type SimulatorConfig struct {
	BreakevenAtR    float64
	TrailingStopAtR float64
	TrailingStopATR float64
}

func (c SimulatorConfig) withDefaults() SimulatorConfig {
	if c.BreakevenAtR <= 0 {
		c.BreakevenAtR = DefaultBreakevenAtR
	}
	if c.TrailingStopAtR <= 0 {
		c.TrailingStopAtR = DefaultTrailingStopAtR
	}
	if c.TrailingStopATR <= 0 {
		c.TrailingStopATR = DefaultTrailingStopATR
	}
	return c
}

// TradeSimulator owns the bar-by-bar lifecycle of simulated trades.
type TradeSimulator struct {
	cfg SimulatorConfig
}

// NewTradeSimulator builds a simulator, filling zero config fields with
// package defaults.
func NewTradeSimulator(cfg SimulatorConfig) *TradeSimulator {
	return &TradeSimulator{cfg: cfg.withDefaults()}
}

// OpenTrade creates a live trade from a signal at the given bar. The
// favorable extremum starts at the entry bar's own extreme.
func (s *TradeSimulator) OpenTrade(bar marketdata.OHLCBar, idx int, sig *EntrySignal, size float64) *OpenTrade {
	t := &OpenTrade{
		EntryTime:   bar.Time,
		EntryPrice:  sig.EntryPrice,
		Direction:   sig.Direction,
		Size:        size,
		InitialStop: sig.StopLoss,
		CurrentStop: sig.StopLoss,
		Targets:     sig.Targets,
		Category:    sig.Category,
		Confluence:  sig.Confluence,
		EntryBarIdx: idx,
		ATRAtEntry:  sig.ATR,
	}
	if sig.Direction == workflow.ActionShort {
		t.LowestPrice = bar.Low
	} else {
		t.HighestPrice = bar.High
	}
	return t
}

// UpdateTrade advances an open trade one bar. Checks run in a fixed
// order: the stop, then targets in travel order, then excursion tracking
// with breakeven and trailing-stop management. Returns the closed trade
// when the bar takes the position out, nil while it stays open.
func (s *TradeSimulator) UpdateTrade(t *OpenTrade, bar marketdata.OHLCBar, idx int) *ClosedTrade {
	if stopHit(t, bar) {
		reason := ExitStopLoss
		if t.AtBreakeven {
			reason = ExitTrailingStop
		}
		return t.close(bar.Time, idx, t.CurrentStop, reason)
	}

	for i, target := range t.Targets {
		hit := bar.High >= target
		if t.Direction == workflow.ActionShort {
			hit = bar.Low <= target
		}
		if hit {
			return t.close(bar.Time, idx, target, targetReason(i))
		}
	}

	s.track(t, bar)
	return nil
}

// CloseAllTrades force-closes every remaining open trade at the final
// bar's close.
func (s *TradeSimulator) CloseAllTrades(open []*OpenTrade, finalBar marketdata.OHLCBar, finalIdx int) []*ClosedTrade {
	closed := make([]*ClosedTrade, 0, len(open))
	for _, t := range open {
		closed = append(closed, t.close(finalBar.Time, finalIdx, finalBar.Close, ExitEndOfData))
	}
	return closed
}

func stopHit(t *OpenTrade, bar marketdata.OHLCBar) bool {
	if t.Direction == workflow.ActionShort {
		return bar.High >= t.CurrentStop
	}
	return bar.Low <= t.CurrentStop
}

func targetReason(i int) ExitReason {
	switch {
	case i <= 0:
		return ExitTarget1
	case i == 1:
		return ExitTarget2
	default:
		return ExitTarget3
	}
}

// track updates the favorable extremum and manages the stop: move it to
// entry once the trade has run BreakevenAtR multiples of initial risk,
// then trail it an ATR distance behind the extremum once past
// TrailingStopAtR. The trailing stop only ratchets in the trade's favor.
func (s *TradeSimulator) track(t *OpenTrade, bar marketdata.OHLCBar) {
	var excursion float64
	if t.Direction == workflow.ActionShort {
		if bar.Low < t.LowestPrice {
			t.LowestPrice = bar.Low
		}
		excursion = t.EntryPrice - t.LowestPrice
	} else {
		if bar.High > t.HighestPrice {
			t.HighestPrice = bar.High
		}
		excursion = t.HighestPrice - t.EntryPrice
	}

	risk := absFloat(t.EntryPrice - t.InitialStop)
	if risk <= 0 {
		return
	}
	r := excursion / risk

	if r >= s.cfg.BreakevenAtR && !t.AtBreakeven {
		t.CurrentStop = t.EntryPrice
		t.AtBreakeven = true
	}
	if r >= s.cfg.TrailingStopAtR {
		if t.Direction == workflow.ActionShort {
			if newStop := t.LowestPrice + t.ATRAtEntry*s.cfg.TrailingStopATR; newStop < t.CurrentStop {
				t.CurrentStop = newStop
			}
		} else {
			if newStop := t.HighestPrice - t.ATRAtEntry*s.cfg.TrailingStopATR; newStop > t.CurrentStop {
				t.CurrentStop = newStop
			}
		}
	}
}
