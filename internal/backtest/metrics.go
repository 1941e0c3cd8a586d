package backtest

import "math"

// annualizationFactor converts per-bar ratio metrics to annual terms:
// trading days per year.
const annualizationFactor = 252

// ratioSentinel stands in for an unbounded ratio: profit factor with no
// losses, Sortino with positive mean and no downside bars.
const ratioSentinel = 999.99

// CategoryMetrics is the per-trade-category slice of a run outcome.
type CategoryMetrics struct {
	Trades   int     `json:"trades"`
	Winning  int     `json:"winning"`
	Losing   int     `json:"losing"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	AverageR float64 `json:"average_r"`
}

// Metrics scores a finished run. Win rate, drawdown and total return are
// fractions; Sharpe, Sortino and Calmar are annualized.
type Metrics struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	BreakevenTrades int     `json:"breakeven_trades"`
	WinRate         float64 `json:"win_rate"`

	TotalPnL      float64 `json:"total_pnl"`
	GrossProfit   float64 `json:"gross_profit"`
	GrossLoss     float64 `json:"gross_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	AverageR      float64 `json:"average_r"`
	LargestWinner float64 `json:"largest_winner"`
	LargestLoser  float64 `json:"largest_loser"`

	TotalReturn         float64 `json:"total_return"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`

	ByCategory map[string]CategoryMetrics `json:"by_category,omitempty"`
}

// CalculateMetrics scores closed trades against the equity curve. Empty
// inputs produce a zeroed result rather than an error.
func CalculateMetrics(trades []ClosedTrade, curve []EquityPoint, initialCapital float64) *Metrics {
	m := &Metrics{}

	var rSum float64
	for _, trade := range trades {
		m.TotalPnL += trade.PnL
		rSum += trade.RMultiple
		switch {
		case trade.PnL > 0:
			m.WinningTrades++
			m.GrossProfit += trade.PnL
		case trade.PnL < 0:
			m.LosingTrades++
			m.GrossLoss += -trade.PnL
		default:
			m.BreakevenTrades++
		}
		if trade.PnL > m.LargestWinner {
			m.LargestWinner = trade.PnL
		}
		if trade.PnL < m.LargestLoser {
			m.LargestLoser = trade.PnL
		}
	}
	m.TotalTrades = len(trades)
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AverageR = rSum / float64(m.TotalTrades)
	}
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = ratioSentinel
	}

	m.MaxDrawdown, m.MaxDrawdownDuration = maxDrawdown(curve)

	if initialCapital > 0 && len(curve) > 0 {
		m.TotalReturn = (curve[len(curve)-1].Equity - initialCapital) / initialCapital
	}

	returns := equityReturns(curve)
	m.SharpeRatio = sharpeRatio(returns)
	m.SortinoRatio = sortinoRatio(returns)
	m.CalmarRatio = calmarRatio(m.TotalReturn, m.MaxDrawdown, len(curve))

	m.ByCategory = categoryBreakdown(trades)
	return m
}

// maxDrawdown walks the curve tracking the running peak. Depth is the
// worst (peak−equity)/peak; duration the longest run of consecutive bars
// spent below the running peak.
func maxDrawdown(curve []EquityPoint) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	var worst float64
	var duration, run int
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if point.Equity < peak {
			run++
			if run > duration {
				duration = run
			}
			if peak > 0 {
				if dd := (peak - point.Equity) / peak; dd > worst {
					worst = dd
				}
			}
		} else {
			run = 0
		}
	}
	return worst, duration
}

// equityReturns builds per-bar fractional returns, skipping transitions
// from non-positive equity.
func equityReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	return returns
}

// sharpeRatio annualizes mean over population standard deviation of
// per-bar returns, risk-free rate zero.
func sharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	stdev := math.Sqrt(variance / float64(len(returns)))
	if stdev < 1e-10 {
		return 0
	}
	return mean / stdev * math.Sqrt(annualizationFactor)
}

// sortinoRatio divides by the downside deviation instead. With no
// negative bars it returns 0 for a flat-or-losing mean and the sentinel
// otherwise.
func sortinoRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	var downside float64
	var count int
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			count++
		}
	}
	if count == 0 {
		if mean <= 0 {
			return 0
		}
		return ratioSentinel
	}
	dev := math.Sqrt(downside / float64(count))
	return mean / dev * math.Sqrt(annualizationFactor)
}

// calmarRatio relates the annualized total return to the max drawdown.
func calmarRatio(totalReturn, maxDD float64, numBars int) float64 {
	if maxDD == 0 || numBars == 0 {
		return 0
	}
	annualized := -1.0
	if 1+totalReturn > 0 {
		annualized = math.Pow(1+totalReturn, annualizationFactor/float64(numBars)) - 1
	}
	return annualized / maxDD
}

func categoryBreakdown(trades []ClosedTrade) map[string]CategoryMetrics {
	if len(trades) == 0 {
		return nil
	}
	byCat := map[string]CategoryMetrics{}
	rSums := map[string]float64{}
	for _, trade := range trades {
		key := string(trade.Category)
		cm := byCat[key]
		cm.Trades++
		cm.TotalPnL += trade.PnL
		switch {
		case trade.PnL > 0:
			cm.Winning++
		case trade.PnL < 0:
			cm.Losing++
		}
		rSums[key] += trade.RMultiple
		byCat[key] = cm
	}
	for key, cm := range byCat {
		cm.WinRate = float64(cm.Winning) / float64(cm.Trades)
		cm.AverageR = rSums[key] / float64(cm.Trades)
		byCat[key] = cm
	}
	return byCat
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
