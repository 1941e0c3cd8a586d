package workflow

import (
	"context"
	"errors"
	"testing"

	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/pivots"
)

func TestAssessBarsBullish(t *testing.T) {
	assessment := AssessBars(bullishBars(), 1, 10)

	if !assessment.Success {
		t.Fatalf("assessment failed: %s", assessment.Error)
	}
	if assessment.Trend != TrendBullish {
		t.Errorf("trend = %s, want bullish", assessment.Trend)
	}
	if assessment.Confidence != 75 {
		t.Errorf("confidence = %d, want 75", assessment.Confidence)
	}
	if assessment.Phase != PhaseImpulse {
		t.Errorf("phase = %s, want impulse", assessment.Phase)
	}
	if assessment.SwingType != pivots.SwingHigherLow {
		t.Errorf("swing type = %s, want HL", assessment.SwingType)
	}
	if assessment.IsRanging {
		t.Error("trending series flagged as ranging")
	}
}

func TestAssessBarsBearish(t *testing.T) {
	assessment := AssessBars(bearishBars(), 1, 10)

	if assessment.Trend != TrendBearish {
		t.Errorf("trend = %s, want bearish", assessment.Trend)
	}
	if assessment.Phase != PhaseImpulse {
		t.Errorf("phase = %s, want impulse", assessment.Phase)
	}
	if assessment.Confidence != 75 {
		t.Errorf("confidence = %d, want 75", assessment.Confidence)
	}
}

func TestAssessBarsNeutralRanging(t *testing.T) {
	// Alternating equal-ish swings: two HH/HL against two LH/LL, with the
	// last two highs and lows each inside 1% of the pivot average.
	bars := midBars([]float64{100, 102, 100, 102.2, 100.1, 101.9, 100, 102.1, 100})
	assessment := AssessBars(bars, 1, 10)

	if assessment.Trend != TrendNeutral {
		t.Errorf("trend = %s, want neutral", assessment.Trend)
	}
	if !assessment.IsRanging {
		t.Fatal("expected ranging market")
	}
	if assessment.Confidence != 30 {
		t.Errorf("confidence = %d, want 50-20=30", assessment.Confidence)
	}
	if assessment.RangingNote == "" {
		t.Error("ranging assessment should carry a note")
	}
}

func TestAssessBarsEmpty(t *testing.T) {
	assessment := AssessBars(nil, 5, 10)
	if assessment.Success {
		t.Error("empty series should not assess")
	}
}

func TestDetectRangingWidthRule(t *testing.T) {
	tight := []pivots.Pivot{
		{Price: 101.0, Kind: pivots.KindHigh},
		{Price: 99.8, Kind: pivots.KindLow},
		{Price: 101.1, Kind: pivots.KindHigh},
		{Price: 99.9, Kind: pivots.KindLow},
	}
	ranging, note := detectRanging(tight)
	if !ranging {
		t.Fatal("1.3% band should count as ranging")
	}
	if note == "" {
		t.Error("expected a ranging note")
	}

	wide := []pivots.Pivot{
		{Price: 110, Kind: pivots.KindHigh},
		{Price: 90, Kind: pivots.KindLow},
		{Price: 112, Kind: pivots.KindHigh},
		{Price: 85, Kind: pivots.KindLow},
	}
	if ranging, _ := detectRanging(wide); ranging {
		t.Error("a 27-point band should not count as ranging")
	}
}

func TestDetectRangingNeedsFourPivots(t *testing.T) {
	few := []pivots.Pivot{
		{Price: 100.1, Kind: pivots.KindHigh},
		{Price: 99.9, Kind: pivots.KindLow},
		{Price: 100.2, Kind: pivots.KindHigh},
	}
	if ranging, _ := detectRanging(few); ranging {
		t.Error("fewer than four pivots cannot establish a range")
	}
}

func TestDetectPhase(t *testing.T) {
	lowPivot := []pivots.Pivot{{Price: 50, Kind: pivots.KindLow}}
	highPivot := []pivots.Pivot{{Price: 100, Kind: pivots.KindHigh}}

	cases := []struct {
		name   string
		trend  TrendDirection
		recent []pivots.Pivot
		price  float64
		want   MarketPhase
	}{
		{"bullish above last low", TrendBullish, lowPivot, 60, PhaseImpulse},
		{"bullish above last high", TrendBullish, highPivot, 110, PhaseContinuation},
		{"bullish below last high", TrendBullish, highPivot, 90, PhaseCorrection},
		{"bearish below last high", TrendBearish, highPivot, 90, PhaseImpulse},
		{"bearish below last low", TrendBearish, lowPivot, 40, PhaseContinuation},
		{"bearish above last low", TrendBearish, lowPivot, 60, PhaseCorrection},
		{"neutral", TrendNeutral, lowPivot, 60, PhaseCorrection},
		{"no pivots", TrendBullish, nil, 60, PhaseCorrection},
	}
	for _, tc := range cases {
		if got := detectPhase(tc.trend, tc.recent, tc.price); got != tc.want {
			t.Errorf("%s: phase = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAssessTrendService(t *testing.T) {
	source := newStubSource()
	source.put("AAPL", marketdata.Timeframe1D, bullishStructureBars())
	w := newTestWorkflow(source)

	assessment, err := w.AssessTrend(context.Background(), "AAPL", marketdata.Timeframe1D)
	if err != nil {
		t.Fatalf("AssessTrend returned error: %v", err)
	}
	if !assessment.Success || assessment.Trend != TrendBullish {
		t.Errorf("assessment = %+v, want successful bullish read", assessment)
	}
	if assessment.Symbol != "AAPL" || assessment.Timeframe != marketdata.Timeframe1D {
		t.Error("assessment should carry symbol and timeframe")
	}
}

func TestAssessTrendFailsInBand(t *testing.T) {
	source := newStubSource()
	source.fail("AAPL", marketdata.Timeframe1D, "all providers failed")
	w := newTestWorkflow(source)

	assessment, err := w.AssessTrend(context.Background(), "AAPL", marketdata.Timeframe1D)
	if err != nil {
		t.Fatalf("AssessTrend returned error: %v", err)
	}
	if assessment.Success || assessment.Error != "all providers failed" {
		t.Errorf("assessment = %+v, want in-band failure", assessment)
	}

	if _, err := w.AssessTrend(context.Background(), "", marketdata.Timeframe1D); err != nil {
		t.Errorf("missing symbol should fail in-band, got error %v", err)
	}
}

func TestAssessTrendPropagatesCancellation(t *testing.T) {
	source := newStubSource()
	source.err = context.Canceled
	w := newTestWorkflow(source)

	_, err := w.AssessTrend(context.Background(), "AAPL", marketdata.Timeframe1D)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
