package backtest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

func testEngineConfig() Config {
	return Config{
		Symbol:          "AAPL",
		HigherTimeframe: marketdata.Timeframe1D,
		LowerTimeframe:  marketdata.Timeframe1H,
		StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// continuation extends the pullback fixture past the entry: two quiet
// bars, then a push through the 110 target.
func continuationRows() [][4]float64 {
	return [][4]float64{
		{81, 85, 80, 84},
		{84, 90, 83, 88},
		{88, 111, 87, 105},
	}
}

func preloadedEngine(higher, lower []marketdata.OHLCBar, bus *events.Bus) *Engine {
	loader := NewDataLoader(nil, nil, zerolog.Nop())
	loader.Preload("AAPL", marketdata.Timeframe1D, higher)
	loader.Preload("AAPL", marketdata.Timeframe1H, lower)
	return NewEngine(loader, bus, zerolog.Nop())
}

func TestEngineRunSingleLongTrade(t *testing.T) {
	lower := append(pullbackLowerBars(), ohlcBarsFrom(21, continuationRows())...)
	engine := preloadedEngine(bullishHigherBars(), lower, nil)

	result, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("run failed in-band: %s", result.Error)
	}
	if result.RunID == "" {
		t.Error("expected a run id")
	}
	if result.BarsProcessed != 24 {
		t.Errorf("bars processed = %d, want 24", result.BarsProcessed)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades (%+v), want 1", len(result.Trades), result.Trades)
	}

	trade := result.Trades[0]
	if trade.Direction != workflow.ActionLong {
		t.Errorf("direction = %s, want LONG", trade.Direction)
	}
	if trade.Category != workflow.CategoryWithTrend {
		t.Errorf("category = %s, want with_trend", trade.Category)
	}
	if trade.EntryBarIdx != 20 || trade.EntryPrice != 81 {
		t.Errorf("entry = (%d, %f), want (20, 81)", trade.EntryBarIdx, trade.EntryPrice)
	}
	if trade.ExitBarIdx != 23 || trade.ExitPrice != 110 {
		t.Errorf("exit = (%d, %f), want (23, 110)", trade.ExitBarIdx, trade.ExitPrice)
	}
	if trade.ExitReason != ExitTarget1 || trade.Status != StatusTargetHit {
		t.Errorf("exit = (%s, %s), want (TARGET_1, TARGET_HIT)", trade.ExitReason, trade.Status)
	}
	if trade.Size <= 0 {
		t.Fatalf("size = %f, want positive", trade.Size)
	}
	if !almostEqual(trade.PnL, (110-81)*trade.Size, 1e-9) {
		t.Errorf("pnl = %f, want 29 * size", trade.PnL)
	}
	// Default risk: 1% of 10000 at full with-trend size.
	if !almostEqual(trade.Size*(trade.EntryPrice-trade.InitialStop), 100, 1e-6) {
		t.Errorf("risked %f, want 100", trade.Size*(trade.EntryPrice-trade.InitialStop))
	}

	if len(result.EquityCurve) != 24 {
		t.Fatalf("equity curve has %d points, want 24", len(result.EquityCurve))
	}
	if result.EquityCurve[19].Equity != 10000 {
		t.Errorf("pre-entry equity = %f, want 10000", result.EquityCurve[19].Equity)
	}
	last := result.EquityCurve[23]
	if !almostEqual(last.Equity, 10000+trade.PnL, 1e-9) {
		t.Errorf("final equity = %f, want 10000 + pnl", last.Equity)
	}
	if last.OpenPnL != 0 || last.TradeCount != 1 {
		t.Errorf("final point = (open %f, trades %d), want (0, 1)", last.OpenPnL, last.TradeCount)
	}

	m := result.Metrics
	if m == nil {
		t.Fatal("expected metrics")
	}
	if m.TotalTrades != 1 || m.WinningTrades != 1 || m.WinRate != 1.0 {
		t.Errorf("metrics counts = (%d, %d, %f), want (1, 1, 1.0)", m.TotalTrades, m.WinningTrades, m.WinRate)
	}
	if !almostEqual(m.TotalPnL, trade.PnL, 1e-9) || !almostEqual(m.AverageR, trade.RMultiple, 1e-9) {
		t.Errorf("metrics pnl/r = (%f, %f), want (%f, %f)", m.TotalPnL, m.AverageR, trade.PnL, trade.RMultiple)
	}
	if m.MaxDrawdown != 0 {
		t.Errorf("max drawdown = %f, want 0 on a winning-only run", m.MaxDrawdown)
	}
	if m.ByCategory[string(workflow.CategoryWithTrend)].Trades != 1 {
		t.Error("with-trend category should hold the trade")
	}
}

func TestEngineRunSingleShortTrade(t *testing.T) {
	lower := mirrorBars(append(pullbackLowerBars(), ohlcBarsFrom(21, continuationRows())...), 160)
	engine := preloadedEngine(bearishHigherBars(), lower, nil)

	result, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}

	trade := result.Trades[0]
	if trade.Direction != workflow.ActionShort {
		t.Errorf("direction = %s, want SHORT", trade.Direction)
	}
	if trade.EntryPrice != 79 || trade.ExitPrice != 50 {
		t.Errorf("entry/exit = (%f, %f), want (79, 50)", trade.EntryPrice, trade.ExitPrice)
	}
	if trade.ExitReason != ExitTarget1 {
		t.Errorf("exit reason = %s, want TARGET_1", trade.ExitReason)
	}
	if !almostEqual(trade.PnL, (79-50)*trade.Size, 1e-9) {
		t.Errorf("pnl = %f, want 29 * size", trade.PnL)
	}
}

func TestEngineRunDeterministic(t *testing.T) {
	lower := append(pullbackLowerBars(), ohlcBarsFrom(21, continuationRows())...)
	engine := preloadedEngine(bullishHigherBars(), lower, nil)

	first, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !reflect.DeepEqual(first.Trades, second.Trades) {
		t.Error("trades differ between identical runs")
	}
	if !reflect.DeepEqual(first.EquityCurve, second.EquityCurve) {
		t.Error("equity curves differ between identical runs")
	}
	if !reflect.DeepEqual(first.Metrics, second.Metrics) {
		t.Error("metrics differ between identical runs")
	}
}

func TestEngineRunPublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	started := make(chan events.Event, 1)
	completed := make(chan events.Event, 1)
	bus.Subscribe(events.EventBacktestStarted, func(e events.Event) { started <- e })
	bus.Subscribe(events.EventBacktestCompleted, func(e events.Event) { completed <- e })

	lower := append(pullbackLowerBars(), ohlcBarsFrom(21, continuationRows())...)
	engine := preloadedEngine(bullishHigherBars(), lower, bus)

	result, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case e := <-started:
		if e.Data["run_id"] != result.RunID {
			t.Errorf("start event run_id = %v, want %s", e.Data["run_id"], result.RunID)
		}
		if e.Data["bars"] != len(lower) {
			t.Errorf("start event bars = %v, want %d", e.Data["bars"], len(lower))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no start event")
	}

	select {
	case e := <-completed:
		if e.Data["run_id"] != result.RunID {
			t.Errorf("event run_id = %v, want %s", e.Data["run_id"], result.RunID)
		}
		if e.Data["symbol"] != "AAPL" {
			t.Errorf("event symbol = %v, want AAPL", e.Data["symbol"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
	}
}

func TestEngineRunInvalidConfig(t *testing.T) {
	engine := preloadedEngine(bullishHigherBars(), pullbackLowerBars(), nil)

	cfg := testEngineConfig()
	cfg.Symbol = ""
	result, err := engine.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("validation failures are in-band, got error %v", err)
	}
	if result.Success {
		t.Fatal("expected an in-band failure")
	}
	if result.Error != "symbol is required" {
		t.Errorf("error = %q, want %q", result.Error, "symbol is required")
	}
	if result.RunID != "" {
		t.Error("rejected configs should not allocate a run id")
	}
}

func TestEngineRunMissingHigherData(t *testing.T) {
	engine := NewEngine(NewDataLoader(nil, nil, zerolog.Nop()), nil, zerolog.Nop())

	result, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("missing data is in-band, got error %v", err)
	}
	if result.Success {
		t.Fatal("expected an in-band failure")
	}
	if !strings.HasPrefix(result.Error, "higher timeframe data: ") {
		t.Errorf("error = %q, want a higher-timeframe prefix", result.Error)
	}
}

func TestEngineRunEmptyLowerData(t *testing.T) {
	loader := NewDataLoader(nil, nil, zerolog.Nop())
	loader.Preload("AAPL", marketdata.Timeframe1D, bullishHigherBars())
	engine := NewEngine(loader, nil, zerolog.Nop())

	result, err := engine.Run(context.Background(), testEngineConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("an empty replay should still succeed, got %s", result.Error)
	}
	if result.BarsProcessed != 0 || len(result.Trades) != 0 || len(result.EquityCurve) != 0 {
		t.Errorf("empty run = (%d bars, %d trades, %d points), want zeros",
			result.BarsProcessed, len(result.Trades), len(result.EquityCurve))
	}
	if result.Metrics == nil || result.Metrics.TotalTrades != 0 {
		t.Error("expected zeroed metrics")
	}
}

func TestEngineRunCancelled(t *testing.T) {
	engine := preloadedEngine(bullishHigherBars(), pullbackLowerBars(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, testEngineConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Error("cancelled runs should not return a result")
	}
}
