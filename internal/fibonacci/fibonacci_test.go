package fibonacci

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestRetracementLevelsBuyDirection(t *testing.T) {
	levels, err := RetracementLevels(100, 50, DirectionBuy)
	if err != nil {
		t.Fatalf("RetracementLevels returned error: %v", err)
	}
	if len(levels) != 5 {
		t.Fatalf("expected 5 levels, got %d", len(levels))
	}

	expected := map[string]float64{
		"236": 88.2,
		"382": 80.9,
		"500": 75.0,
		"618": 69.1,
		"786": 60.7,
	}
	got := LevelMap(levels)
	for key, want := range expected {
		price, ok := got[key]
		if !ok {
			t.Errorf("missing level %s", key)
			continue
		}
		if !almostEqual(price, want, 0.01) {
			t.Errorf("level %s = %f, want %f", key, price, want)
		}
	}
}

func TestRetracementSellMirrorsBuy(t *testing.T) {
	high, low := 200.0, 150.0
	for _, ratio := range RetracementRatios {
		buy := Retracement(high, low, ratio, DirectionBuy)
		sell := Retracement(high, low, ratio, DirectionSell)
		// Buy measures down from the high, sell up from the low, so the
		// two prices are reflections around the swing midpoint.
		if !almostEqual(buy-low, high-sell, 1e-9) {
			t.Errorf("ratio %f: buy %f and sell %f are not mirrored", ratio, buy, sell)
		}
	}
}

func TestRetracementBoundaryRatios(t *testing.T) {
	high, low := 120.0, 80.0
	if got := Retracement(high, low, 0, DirectionBuy); got != high {
		t.Errorf("buy retracement at 0 = %f, want swing high %f", got, high)
	}
	if got := Retracement(high, low, 1, DirectionBuy); got != low {
		t.Errorf("buy retracement at 1 = %f, want swing low %f", got, low)
	}
	if got := Retracement(high, low, 0, DirectionSell); got != low {
		t.Errorf("sell retracement at 0 = %f, want swing low %f", got, low)
	}
	if got := Retracement(high, low, 1, DirectionSell); got != high {
		t.Errorf("sell retracement at 1 = %f, want swing high %f", got, high)
	}
}

func TestExtensionDirections(t *testing.T) {
	high, low := 100.0, 50.0

	// Ratio 1 anchors the extension at the swing boundary.
	if got := Extension(high, low, 1, DirectionBuy); got != low {
		t.Errorf("buy extension at 1 = %f, want %f", got, low)
	}
	if got := Extension(high, low, 1, DirectionSell); got != high {
		t.Errorf("sell extension at 1 = %f, want %f", got, high)
	}

	// Buy extensions project below the low, sell extensions above the high.
	for _, ratio := range ExtensionRatios {
		if got := Extension(high, low, ratio, DirectionBuy); got >= low {
			t.Errorf("buy extension %f = %f, expected below %f", ratio, got, low)
		}
		if got := Extension(high, low, ratio, DirectionSell); got <= high {
			t.Errorf("sell extension %f = %f, expected above %f", ratio, got, high)
		}
	}

	if got := Extension(high, low, 1.272, DirectionSell); !almostEqual(got, 113.6, 0.01) {
		t.Errorf("sell extension 1.272 = %f, want 113.6", got)
	}
	if got := Extension(high, low, 1.272, DirectionBuy); !almostEqual(got, 36.4, 0.01) {
		t.Errorf("buy extension 1.272 = %f, want 36.4", got)
	}
}

func TestProjectionAppliesLegAtAnchor(t *testing.T) {
	// A 50-point leg projected at 1.0 from C reproduces the leg length.
	if got := Projection(100, 150, 130, 1.0, DirectionBuy); !almostEqual(got, 180, 1e-9) {
		t.Errorf("buy projection = %f, want 180", got)
	}
	if got := Projection(150, 100, 120, 1.0, DirectionSell); !almostEqual(got, 70, 1e-9) {
		t.Errorf("sell projection = %f, want 70", got)
	}
	// Leg length uses magnitude only, so swapped anchors agree.
	if Projection(100, 150, 130, 1.618, DirectionBuy) != Projection(150, 100, 130, 1.618, DirectionBuy) {
		t.Error("projection should depend on |B-A|, not on point order")
	}
}

func TestExpansion(t *testing.T) {
	if got := Expansion(100, 150, 1.272, DirectionBuy); !almostEqual(got, 213.6, 1e-9) {
		t.Errorf("buy expansion = %f, want 213.6", got)
	}
	if got := Expansion(150, 100, 1.272, DirectionSell); !almostEqual(got, 36.4, 1e-9) {
		t.Errorf("sell expansion = %f, want 36.4", got)
	}
}

func TestLevelSetRejectsDegenerateSwing(t *testing.T) {
	if _, err := RetracementLevels(100, 100, DirectionBuy); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("equal swing: got %v, want ErrInvalidRange", err)
	}
	if _, err := ExtensionLevels(50, 100, DirectionSell); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("inverted swing: got %v, want ErrInvalidRange", err)
	}
}

func TestRatioKey(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{0.236, "236"},
		{0.382, "382"},
		{0.5, "500"},
		{0.618, "618"},
		{0.786, "786"},
		{1.0, "1000"},
		{1.272, "1272"},
		{2.618, "2618"},
	}
	for _, tc := range cases {
		if got := RatioKey(tc.ratio); got != tc.want {
			t.Errorf("RatioKey(%f) = %s, want %s", tc.ratio, got, tc.want)
		}
	}
}

func TestDirectionValid(t *testing.T) {
	if !DirectionBuy.Valid() || !DirectionSell.Valid() {
		t.Error("standard directions should be valid")
	}
	if Direction("long").Valid() {
		t.Error("unknown direction should be invalid")
	}
}
