package workflow

import "fmt"

// TradeCategory grades a setup by how it sits against the higher-timeframe
// trend.
type TradeCategory string

const (
	CategoryWithTrend       TradeCategory = "with_trend"
	CategoryCounterTrend    TradeCategory = "counter_trend"
	CategoryReversalAttempt TradeCategory = "reversal_attempt"
)

// CounterTrendMinConfluence is the confluence a counter-trend setup needs
// before it is treated as tradeable rather than a reversal attempt.
const CounterTrendMinConfluence = 5

// CategorizeTrade grades a direction against the higher-timeframe trend.
// Aligned trades are with_trend; misaligned trades need strong confluence
// to count as counter_trend, otherwise they are reversal attempts.
func CategorizeTrade(higherTrend TrendDirection, direction Action, confluence int) TradeCategory {
	aligned := (higherTrend == TrendBullish && direction == ActionLong) ||
		(higherTrend == TrendBearish && direction == ActionShort)
	if aligned {
		return CategoryWithTrend
	}
	if confluence >= CounterTrendMinConfluence {
		return CategoryCounterTrend
	}
	return CategoryReversalAttempt
}

// RiskMultiplier scales risk capital by category: full size with the
// trend, half against it, a quarter for reversal attempts.
func (c TradeCategory) RiskMultiplier() float64 {
	switch c {
	case CategoryCounterTrend:
		return 0.5
	case CategoryReversalAttempt:
		return 0.25
	default:
		return 1.0
	}
}

// PositionSizeRequest carries the sizing inputs.
type PositionSizeRequest struct {
	EntryPrice     float64       `json:"entry_price"`
	StopPrice      float64       `json:"stop_price"`
	RiskCapital    float64       `json:"risk_capital"`
	AccountBalance float64       `json:"account_balance"`
	Category       TradeCategory `json:"category"`
}

// PositionSize is the sizing output. Invalid inputs produce IsValid false
// with a reason instead of an error.
type PositionSize struct {
	IsValid               bool    `json:"is_valid"`
	Size                  float64 `json:"position_size"`
	RiskAmount            float64 `json:"risk_amount"`
	RiskMultiplier        float64 `json:"risk_multiplier"`
	RiskPerUnit           float64 `json:"risk_per_unit"`
	AccountRiskPercentage float64 `json:"account_risk_percentage"`
	Reason                string  `json:"reason,omitempty"`
}

// CalculatePositionSize sizes a position from risk capital scaled by the
// category multiplier, divided by the per-unit risk between entry and stop.
func CalculatePositionSize(req PositionSizeRequest) PositionSize {
	size := PositionSize{RiskMultiplier: req.Category.RiskMultiplier()}

	if req.EntryPrice <= 0 {
		size.Reason = fmt.Sprintf("entry price must be positive, got %f", req.EntryPrice)
		return size
	}
	if req.StopPrice <= 0 {
		size.Reason = fmt.Sprintf("stop price must be positive, got %f", req.StopPrice)
		return size
	}
	if req.EntryPrice == req.StopPrice {
		size.Reason = "stop price equals entry price; per-unit risk is zero"
		return size
	}
	if req.RiskCapital <= 0 {
		size.Reason = fmt.Sprintf("risk capital must be positive, got %f", req.RiskCapital)
		return size
	}
	if req.AccountBalance <= 0 {
		size.Reason = fmt.Sprintf("account balance must be positive, got %f", req.AccountBalance)
		return size
	}

	size.RiskPerUnit = req.EntryPrice - req.StopPrice
	if size.RiskPerUnit < 0 {
		size.RiskPerUnit = -size.RiskPerUnit
	}
	size.RiskAmount = req.RiskCapital * size.RiskMultiplier
	size.Size = size.RiskAmount / size.RiskPerUnit
	size.AccountRiskPercentage = size.RiskAmount / req.AccountBalance * 100
	size.IsValid = true
	return size
}
