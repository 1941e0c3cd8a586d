// Package pivots finds swing highs and lows in OHLC series and labels
// the resulting structure (HH/HL/LH/LL) for trend reading.
package pivots

import (
	"market-analysis-engine/internal/marketdata"
)

// Defaults used when the caller passes non-positive parameters.
const (
	DefaultLookback = 5
	DefaultCount    = 10
)

// Kind tells whether a pivot marks a swing high or a swing low.
type Kind string

const (
	KindHigh Kind = "high"
	KindLow  Kind = "low"
)

// SwingType labels a pivot relative to the previous pivot of its kind.
type SwingType string

const (
	SwingHigherHigh SwingType = "HH"
	SwingHigherLow  SwingType = "HL"
	SwingLowerHigh  SwingType = "LH"
	SwingLowerLow   SwingType = "LL"
)

// Pivot is one confirmed swing point.
type Pivot struct {
	Index int                `json:"index"`
	Price float64            `json:"price"`
	Kind  Kind               `json:"kind"`
	Time  marketdata.BarTime `json:"time"`
}

// SwingMarker is a pivot classified against the prior pivot of its kind.
type SwingMarker struct {
	Index int                `json:"index"`
	Price float64            `json:"price"`
	Type  SwingType          `json:"type"`
	Time  marketdata.BarTime `json:"time"`
}

// Result bundles everything DetectPivots derives from one series.
type Result struct {
	Pivots       []Pivot `json:"pivots"`
	RecentPivots []Pivot `json:"recent_pivots"`
	PivotHigh    float64 `json:"pivot_high"`
	PivotLow     float64 `json:"pivot_low"`
	SwingHigh    *Pivot  `json:"swing_high,omitempty"`
	SwingLow     *Pivot  `json:"swing_low,omitempty"`
}

// DetectPivots scans bars for swing points. A bar is a swing high when its
// high strictly exceeds every high within lookback bars on both sides;
// ties disqualify. Consecutive same-kind pivots are collapsed to the most
// extreme one so highs and lows alternate. Series shorter than
// 2*lookback+1 bars produce an empty result.
func DetectPivots(bars []marketdata.OHLCBar, lookback, count int) *Result {
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	result := &Result{
		Pivots:       []Pivot{},
		RecentPivots: []Pivot{},
	}
	if len(bars) < 2*lookback+1 {
		return result
	}

	var candidates []Pivot
	for i := lookback; i <= len(bars)-lookback-1; i++ {
		isHigh := true
		isLow := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			candidates = append(candidates, Pivot{Index: i, Price: bars[i].High, Kind: KindHigh, Time: bars[i].Time})
		}
		if isLow {
			candidates = append(candidates, Pivot{Index: i, Price: bars[i].Low, Kind: KindLow, Time: bars[i].Time})
		}
	}

	// Alternation pass: same-kind runs keep only their most extreme pivot.
	for _, candidate := range candidates {
		if len(result.Pivots) == 0 || result.Pivots[len(result.Pivots)-1].Kind != candidate.Kind {
			result.Pivots = append(result.Pivots, candidate)
			continue
		}
		last := &result.Pivots[len(result.Pivots)-1]
		if candidate.Kind == KindHigh && candidate.Price > last.Price {
			*last = candidate
		} else if candidate.Kind == KindLow && candidate.Price < last.Price {
			*last = candidate
		}
	}

	for i := range result.Pivots {
		p := result.Pivots[i]
		switch p.Kind {
		case KindHigh:
			if p.Price > result.PivotHigh {
				result.PivotHigh = p.Price
			}
			high := p
			result.SwingHigh = &high
		case KindLow:
			if result.PivotLow == 0 || p.Price < result.PivotLow {
				result.PivotLow = p.Price
			}
			low := p
			result.SwingLow = &low
		}
	}

	if count <= 0 || count >= len(result.Pivots) {
		result.RecentPivots = append(result.RecentPivots, result.Pivots...)
	} else {
		result.RecentPivots = append(result.RecentPivots, result.Pivots[len(result.Pivots)-count:]...)
	}
	return result
}

// ClassifySwings labels each pivot against the previous pivot of the same
// kind. The first pivot of each kind has nothing to compare against and is
// omitted, as are exact price ties.
func ClassifySwings(pivots []Pivot) []SwingMarker {
	markers := []SwingMarker{}
	var lastHigh, lastLow *Pivot

	for i := range pivots {
		p := pivots[i]
		switch p.Kind {
		case KindHigh:
			if lastHigh != nil && p.Price != lastHigh.Price {
				swingType := SwingLowerHigh
				if p.Price > lastHigh.Price {
					swingType = SwingHigherHigh
				}
				markers = append(markers, SwingMarker{Index: p.Index, Price: p.Price, Type: swingType, Time: p.Time})
			}
			lastHigh = &pivots[i]
		case KindLow:
			if lastLow != nil && p.Price != lastLow.Price {
				swingType := SwingLowerLow
				if p.Price > lastLow.Price {
					swingType = SwingHigherLow
				}
				markers = append(markers, SwingMarker{Index: p.Index, Price: p.Price, Type: swingType, Time: p.Time})
			}
			lastLow = &pivots[i]
		}
	}
	return markers
}
