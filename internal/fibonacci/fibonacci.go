// Package fibonacci computes retracement, extension, projection and
// expansion price levels from swing points. Level keys on the wire are
// string integers equal to round(ratio*1000); core code works with the
// numeric ratios and converts at the boundary.
package fibonacci

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Direction selects which side of the swing the levels are drawn from.
// Buy draws retracements down from the swing high; sell draws them up
// from the swing low.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Tool identifies which Fibonacci construction produced a level. Distinct
// tools agreeing on a price are scored as cross-tool confluence.
type Tool string

const (
	ToolRetracement Tool = "retracement"
	ToolExtension   Tool = "extension"
	ToolProjection  Tool = "projection"
	ToolExpansion   Tool = "expansion"
)

// Standard ratio sets.
var (
	RetracementRatios = []float64{0.236, 0.382, 0.5, 0.618, 0.786}
	ExtensionRatios   = []float64{1.272, 1.414, 1.618, 2.0, 2.618}
)

// ErrInvalidRange signals a degenerate swing (high not above low).
var ErrInvalidRange = errors.New("swing high must exceed swing low")

// RatioKey encodes a ratio for responses: 0.382 -> "382", 1.272 -> "1272".
func RatioKey(ratio float64) string {
	return strconv.Itoa(int(math.Round(ratio * 1000)))
}

// Level is one computed price with the ratio that produced it.
type Level struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

// Retracement returns the retracement price at ratio for the given swing.
// Buy direction measures down from the high; sell measures up from the low.
func Retracement(high, low, ratio float64, dir Direction) float64 {
	span := high - low
	if dir == DirectionSell {
		return low + span*ratio
	}
	return high - span*ratio
}

// Extension returns the extension price at ratio (> 1) for the given
// swing. Buy direction projects below the low by (ratio-1) of the span;
// sell projects above the high by the same amount.
func Extension(high, low, ratio float64, dir Direction) float64 {
	span := high - low
	if dir == DirectionSell {
		return high + span*(ratio-1)
	}
	return low - span*(ratio-1)
}

// Projection scales the A-to-B leg by ratio and applies it at C. Buy
// projects upward from C, sell downward.
func Projection(a, b, c, ratio float64, dir Direction) float64 {
	leg := math.Abs(b - a)
	if dir == DirectionSell {
		return c - leg*ratio
	}
	return c + leg*ratio
}

// Expansion scales the A-to-B leg by ratio and applies it at B in the
// direction of travel.
func Expansion(a, b, ratio float64, dir Direction) float64 {
	leg := math.Abs(b - a)
	if dir == DirectionSell {
		return b - leg*ratio
	}
	return b + leg*ratio
}

// RetracementLevels computes the standard retracement set for a swing.
func RetracementLevels(high, low float64, dir Direction) ([]Level, error) {
	if high <= low {
		return nil, fmt.Errorf("%w: high=%f low=%f", ErrInvalidRange, high, low)
	}
	levels := make([]Level, 0, len(RetracementRatios))
	for _, ratio := range RetracementRatios {
		levels = append(levels, Level{Ratio: ratio, Price: Retracement(high, low, ratio, dir)})
	}
	return levels, nil
}

// ExtensionLevels computes the standard extension set for a swing.
func ExtensionLevels(high, low float64, dir Direction) ([]Level, error) {
	if high <= low {
		return nil, fmt.Errorf("%w: high=%f low=%f", ErrInvalidRange, high, low)
	}
	levels := make([]Level, 0, len(ExtensionRatios))
	for _, ratio := range ExtensionRatios {
		levels = append(levels, Level{Ratio: ratio, Price: Extension(high, low, ratio, dir)})
	}
	return levels, nil
}

// LevelMap encodes levels for responses, keyed by RatioKey.
func LevelMap(levels []Level) map[string]float64 {
	out := make(map[string]float64, len(levels))
	for _, level := range levels {
		out[RatioKey(level.Ratio)] = level.Price
	}
	return out
}
