package analysis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/marketdata"
)

type fakeSource struct {
	result *marketdata.MarketDataResult
	err    error
	calls  int
}

func (f *fakeSource) GetOHLC(ctx context.Context, symbol string, tf marketdata.Timeframe, periods int, forceRefresh bool) (*marketdata.MarketDataResult, error) {
	f.calls++
	return f.result, f.err
}

// swingBars yields a series whose pivot structure is a 100 high and a 50
// low, with a final bullish bar rejecting the 0.618 retracement at 69.1.
func swingBars() []marketdata.OHLCBar {
	type hlocBar struct{ o, h, l, c float64 }
	raw := []hlocBar{
		{57, 60, 55, 58},
		{62, 70, 60, 68},
		{75, 100, 70, 95},
		{78, 80, 65, 70},
		{70, 75, 60, 62},
		{58, 60, 52, 54},
		{53, 55, 50, 54},
		{56, 65, 54, 63},
		{62, 68, 58, 66},
		{69.3, 71, 69.0, 70.6},
	}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.OHLCBar, len(raw))
	for i, r := range raw {
		bars[i] = marketdata.OHLCBar{
			Time:  marketdata.NewBarTime(base.AddDate(0, 0, i), marketdata.Timeframe1D),
			Open:  r.o,
			High:  r.h,
			Low:   r.l,
			Close: r.c,
		}
	}
	return bars
}

func successResult(symbol string, tf marketdata.Timeframe, bars []marketdata.OHLCBar) *marketdata.MarketDataResult {
	return &marketdata.MarketDataResult{
		Success:      true,
		Symbol:       symbol,
		Timeframe:    tf,
		Data:         bars,
		ProviderName: "test",
		MarketStatus: marketdata.MarketStatusUnknown,
	}
}

func newTestOrchestrator(source DataSource) *Orchestrator {
	return NewOrchestrator(source, nil, zerolog.Nop())
}

func TestAnalyzePipeline(t *testing.T) {
	source := &fakeSource{result: successResult("AAPL", marketdata.Timeframe1D, swingBars())}
	o := newTestOrchestrator(source)

	resp, err := o.Analyze(context.Background(), Request{
		Symbol:        "AAPL",
		Timeframe:     marketdata.Timeframe1D,
		PivotLookback: 2,
	})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.Structure == nil || resp.Structure.SwingHigh == nil || resp.Structure.SwingLow == nil {
		t.Fatal("expected swing structure")
	}
	if resp.Structure.SwingHigh.Price != 100 || resp.Structure.SwingLow.Price != 50 {
		t.Errorf("swing = (%f, %f), want (100, 50)",
			resp.Structure.SwingHigh.Price, resp.Structure.SwingLow.Price)
	}

	wantLevels := map[string]float64{"236": 88.2, "382": 80.9, "500": 75.0, "618": 69.1, "786": 60.7}
	for key, want := range wantLevels {
		got, ok := resp.Retracements[key]
		if !ok || math.Abs(got-want) > 0.01 {
			t.Errorf("retracement %s = %f (present %v), want %f", key, got, ok, want)
		}
	}
	if len(resp.Extensions) != len(fibonacci.ExtensionRatios) {
		t.Errorf("expected %d extensions, got %d", len(fibonacci.ExtensionRatios), len(resp.Extensions))
	}

	if len(resp.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d: %+v", len(resp.Signals), resp.Signals)
	}
	sig := resp.Signals[0]
	if sig.Type != SignalBullish || sig.LevelKey != "618" {
		t.Errorf("signal = %+v, want bullish at 618", sig)
	}
	if math.Abs(sig.LevelPrice-69.1) > 0.01 {
		t.Errorf("signal level price = %f, want 69.1", sig.LevelPrice)
	}
}

func TestAnalyzeSignalsDisabled(t *testing.T) {
	source := &fakeSource{result: successResult("AAPL", marketdata.Timeframe1D, swingBars())}
	o := newTestOrchestrator(source)

	off := false
	resp, err := o.Analyze(context.Background(), Request{
		Symbol:        "AAPL",
		Timeframe:     marketdata.Timeframe1D,
		PivotLookback: 2,
		DetectSignals: &off,
	})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(resp.Signals) != 0 {
		t.Errorf("signals disabled but got %d", len(resp.Signals))
	}
}

func TestAnalyzeValidatesRequest(t *testing.T) {
	source := &fakeSource{}
	o := newTestOrchestrator(source)

	resp, err := o.Analyze(context.Background(), Request{Timeframe: marketdata.Timeframe1D})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Error("missing symbol should fail in-band")
	}

	resp, err = o.Analyze(context.Background(), Request{Symbol: "AAPL", Timeframe: "2H"})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if resp.Success {
		t.Error("invalid timeframe should fail in-band")
	}
	if source.calls != 0 {
		t.Errorf("invalid requests should not hit the data source, got %d calls", source.calls)
	}
}

func TestAnalyzeAcquisitionFailure(t *testing.T) {
	source := &fakeSource{result: marketdata.ErrorResult("AAPL", marketdata.Timeframe1D, errors.New("all providers failed"))}
	o := newTestOrchestrator(source)

	resp, err := o.Analyze(context.Background(), Request{Symbol: "AAPL", Timeframe: marketdata.Timeframe1D})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure response")
	}
	if resp.Error != "all providers failed" {
		t.Errorf("error = %q, want provider failure message", resp.Error)
	}
	if resp.Market == nil {
		t.Error("failure response should still carry the market result")
	}
}

func TestAnalyzePropagatesCancellation(t *testing.T) {
	source := &fakeSource{err: context.Canceled}
	o := newTestOrchestrator(source)

	_, err := o.Analyze(context.Background(), Request{Symbol: "AAPL", Timeframe: marketdata.Timeframe1D})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDetectBarSignalsSellDirection(t *testing.T) {
	// Sell retracements from the same swing rise from the low; a bearish
	// bar poking above 80.9 (0.618) and closing back below signals short.
	levels := map[string]float64{
		"236": 61.8, "382": 69.1, "500": 75.0, "618": 80.9, "786": 89.3,
	}
	bar := marketdata.OHLCBar{
		Time:  marketdata.NewBarTime(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), marketdata.Timeframe1D),
		Open:  80.7,
		High:  81.5,
		Low:   79.0,
		Close: 79.4,
	}
	signals := detectBarSignals(bar, fibonacci.DirectionSell, levels)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d: %+v", len(signals), signals)
	}
	if signals[0].Type != SignalBearish || signals[0].LevelKey != "618" {
		t.Errorf("signal = %+v, want bearish at 618", signals[0])
	}
}
