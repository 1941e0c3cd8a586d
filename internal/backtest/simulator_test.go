package backtest

import (
	"testing"

	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

func longSignal() *EntrySignal {
	return &EntrySignal{
		Direction:  workflow.ActionLong,
		Category:   workflow.CategoryWithTrend,
		EntryPrice: 100,
		StopLoss:   95,
		Targets:    []float64{115},
		Confluence: 3,
		ATR:        2,
	}
}

func shortSignal() *EntrySignal {
	return &EntrySignal{
		Direction:  workflow.ActionShort,
		Category:   workflow.CategoryWithTrend,
		EntryPrice: 100,
		StopLoss:   105,
		Targets:    []float64{85},
		Confluence: 3,
		ATR:        2,
	}
}

func entryBar() marketdata.OHLCBar {
	return ohlcBars([][4]float64{{100, 101, 99, 100}})[0]
}

func TestOpenTradeInitialState(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{})

	long := sim.OpenTrade(entryBar(), 3, longSignal(), 2.5)
	if long.CurrentStop != 95 || long.InitialStop != 95 {
		t.Errorf("long stops = (%f, %f), want (95, 95)", long.InitialStop, long.CurrentStop)
	}
	if long.HighestPrice != 101 {
		t.Errorf("long extremum = %f, want entry bar high 101", long.HighestPrice)
	}
	if long.LowestPrice != 0 || long.AtBreakeven {
		t.Error("long trade should start without short tracking or breakeven")
	}
	if long.Size != 2.5 || long.EntryBarIdx != 3 {
		t.Errorf("size/idx = (%f, %d), want (2.5, 3)", long.Size, long.EntryBarIdx)
	}

	short := sim.OpenTrade(entryBar(), 0, shortSignal(), 1)
	if short.LowestPrice != 99 {
		t.Errorf("short extremum = %f, want entry bar low 99", short.LowestPrice)
	}
	if short.HighestPrice != 0 {
		t.Errorf("short trade tracks HighestPrice = %f, want 0", short.HighestPrice)
	}
}

func TestUpdateTradeStopBeforeTarget(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{})
	trade := sim.OpenTrade(entryBar(), 0, longSignal(), 2)
	trade.Targets = []float64{104}

	// One bar sweeps both the stop and the target; the stop wins.
	bar := ohlcBars([][4]float64{{100, 105, 94, 97}})[0]
	closed := sim.UpdateTrade(trade, bar, 1)
	if closed == nil {
		t.Fatal("expected the bar to close the trade")
	}
	if closed.ExitReason != ExitStopLoss || closed.Status != StatusStoppedOut {
		t.Errorf("exit = (%s, %s), want (STOP_LOSS, STOPPED_OUT)", closed.ExitReason, closed.Status)
	}
	if closed.ExitPrice != 95 {
		t.Errorf("exit price = %f, want the stop 95", closed.ExitPrice)
	}
	if closed.PnL != -10 {
		t.Errorf("pnl = %f, want -10", closed.PnL)
	}
	if closed.RMultiple != -1 {
		t.Errorf("r-multiple = %f, want -1", closed.RMultiple)
	}
}

func TestUpdateTradeFirstTargetWins(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{})
	trade := sim.OpenTrade(entryBar(), 0, longSignal(), 1)
	trade.Targets = []float64{104, 108}

	bar := ohlcBars([][4]float64{{100, 109, 96, 107}})[0]
	closed := sim.UpdateTrade(trade, bar, 1)
	if closed == nil {
		t.Fatal("expected a target exit")
	}
	if closed.ExitReason != ExitTarget1 || closed.ExitPrice != 104 {
		t.Errorf("exit = (%s, %f), want (TARGET_1, 104)", closed.ExitReason, closed.ExitPrice)
	}
	if closed.Status != StatusTargetHit {
		t.Errorf("status = %s, want TARGET_HIT", closed.Status)
	}
}

func TestTargetReason(t *testing.T) {
	cases := []struct {
		index int
		want  ExitReason
	}{
		{0, ExitTarget1},
		{1, ExitTarget2},
		{2, ExitTarget3},
		{7, ExitTarget3},
	}
	for _, tc := range cases {
		if got := targetReason(tc.index); got != tc.want {
			t.Errorf("targetReason(%d) = %s, want %s", tc.index, got, tc.want)
		}
	}
}

// TestTrailingLifecycleLong drives a long through the whole management
// arc: no action below 1R, breakeven at 1R, an ATR trail from 1.5R that
// only ratchets up, and finally the trailing exit. Entry 100, stop 95
// (risk 5), ATR 2, trail distance 2*2=4.
func TestTrailingLifecycleLong(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{BreakevenAtR: 1.0, TrailingStopAtR: 1.5, TrailingStopATR: 2.0})
	trade := sim.OpenTrade(entryBar(), 0, longSignal(), 1)

	steps := []struct {
		bar      [4]float64
		wantStop float64
		wantBE   bool
	}{
		// High 104: excursion 4 = 0.8R, nothing moves.
		{[4]float64{100, 104, 98, 103}, 95, false},
		// High 105.5: 1.1R, stop jumps to entry.
		{[4]float64{103, 105.5, 99, 105}, 100, true},
		// High 108: 1.6R, trail at 108-4=104.
		{[4]float64{105, 108, 101, 107}, 104, true},
		// Lower high 107.9: trail candidate 103.9 would loosen; held.
		{[4]float64{107, 107.9, 104.1, 107}, 104, true},
		// High 110: trail ratchets to 106.
		{[4]float64{107, 110, 105, 109}, 106, true},
	}
	for i, step := range steps {
		bar := ohlcBars([][4]float64{step.bar})[0]
		if closed := sim.UpdateTrade(trade, bar, i+1); closed != nil {
			t.Fatalf("step %d: trade closed early (%s at %f)", i, closed.ExitReason, closed.ExitPrice)
		}
		if trade.CurrentStop != step.wantStop {
			t.Errorf("step %d: stop = %f, want %f", i, trade.CurrentStop, step.wantStop)
		}
		if trade.AtBreakeven != step.wantBE {
			t.Errorf("step %d: at_breakeven = %v, want %v", i, trade.AtBreakeven, step.wantBE)
		}
	}

	// Low 105.9 tags the 106 trail.
	exitBar := ohlcBars([][4]float64{{109, 109, 105.9, 106.5}})[0]
	closed := sim.UpdateTrade(trade, exitBar, 6)
	if closed == nil {
		t.Fatal("expected the trailing stop to close the trade")
	}
	if closed.ExitReason != ExitTrailingStop || closed.Status != StatusClosed {
		t.Errorf("exit = (%s, %s), want (TRAILING_STOP, CLOSED)", closed.ExitReason, closed.Status)
	}
	if closed.ExitPrice != 106 {
		t.Errorf("exit price = %f, want 106", closed.ExitPrice)
	}
	if closed.PnL != 6 {
		t.Errorf("pnl = %f, want 6", closed.PnL)
	}
	if !almostEqual(closed.RMultiple, 1.2, 1e-9) {
		t.Errorf("r-multiple = %f, want 1.2", closed.RMultiple)
	}
}

// TestTrailingLifecycleShort mirrors the long arc below the entry.
func TestTrailingLifecycleShort(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{BreakevenAtR: 1.0, TrailingStopAtR: 1.5, TrailingStopATR: 2.0})
	trade := sim.OpenTrade(entryBar(), 0, shortSignal(), 1)

	steps := []struct {
		bar      [4]float64
		wantStop float64
		wantBE   bool
	}{
		// Low 96: 0.8R.
		{[4]float64{100, 102, 96, 97}, 105, false},
		// Low 94.5: 1.1R, breakeven.
		{[4]float64{97, 98, 94.5, 95}, 100, true},
		// Low 92: 1.6R, trail at 92+4=96.
		{[4]float64{95, 96, 92, 93}, 96, true},
	}
	for i, step := range steps {
		bar := ohlcBars([][4]float64{step.bar})[0]
		if closed := sim.UpdateTrade(trade, bar, i+1); closed != nil {
			t.Fatalf("step %d: trade closed early (%s)", i, closed.ExitReason)
		}
		if trade.CurrentStop != step.wantStop || trade.AtBreakeven != step.wantBE {
			t.Errorf("step %d: (stop, be) = (%f, %v), want (%f, %v)",
				i, trade.CurrentStop, trade.AtBreakeven, step.wantStop, step.wantBE)
		}
	}

	exitBar := ohlcBars([][4]float64{{93, 96.2, 93.5, 95}})[0]
	closed := sim.UpdateTrade(trade, exitBar, 4)
	if closed == nil {
		t.Fatal("expected the trailing stop to close the trade")
	}
	if closed.ExitReason != ExitTrailingStop || closed.ExitPrice != 96 {
		t.Errorf("exit = (%s, %f), want (TRAILING_STOP, 96)", closed.ExitReason, closed.ExitPrice)
	}
	if closed.PnL != 4 {
		t.Errorf("pnl = %f, want 4", closed.PnL)
	}
}

func TestStopLossBeforeBreakevenKeepsReason(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{})
	trade := sim.OpenTrade(entryBar(), 0, longSignal(), 1)

	// Straight down without ever reaching 1R.
	bar := ohlcBars([][4]float64{{100, 100.5, 94.8, 95.2}})[0]
	closed := sim.UpdateTrade(trade, bar, 1)
	if closed == nil {
		t.Fatal("expected a stop exit")
	}
	if closed.ExitReason != ExitStopLoss {
		t.Errorf("exit reason = %s, want STOP_LOSS before breakeven", closed.ExitReason)
	}
}

func TestCloseAllTrades(t *testing.T) {
	sim := NewTradeSimulator(SimulatorConfig{})
	long := sim.OpenTrade(entryBar(), 0, longSignal(), 1)
	short := sim.OpenTrade(entryBar(), 0, shortSignal(), 1)
	short.EntryPrice = 90

	finalBar := ohlcBars([][4]float64{{98, 99, 96, 97}})[0]
	closed := sim.CloseAllTrades([]*OpenTrade{long, short}, finalBar, 9)
	if len(closed) != 2 {
		t.Fatalf("closed %d trades, want 2", len(closed))
	}
	for _, c := range closed {
		if c.ExitReason != ExitEndOfData || c.Status != StatusClosed {
			t.Errorf("exit = (%s, %s), want (END_OF_DATA, CLOSED)", c.ExitReason, c.Status)
		}
		if c.ExitPrice != 97 || c.ExitBarIdx != 9 {
			t.Errorf("exit at (%f, %d), want (97, 9)", c.ExitPrice, c.ExitBarIdx)
		}
	}
	if closed[0].PnL != -3 {
		t.Errorf("long pnl = %f, want -3", closed[0].PnL)
	}
	if closed[1].PnL != -7 {
		t.Errorf("short pnl = %f, want -7", closed[1].PnL)
	}
}
