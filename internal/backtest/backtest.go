// Package backtest replays the analysis pipeline bar by bar over
// historical data. A run loads two timeframes through a caching data
// loader, asks the signal processor for entries while flat, hands open
// trades to the simulator on every bar, and scores the finished run with
// a metrics calculator. A walk-forward optimizer wraps the engine to
// grid-search processor and simulator parameters across rolling
// in-sample/out-of-sample windows.
package backtest

import (
	"context"
	"math"
	"time"

	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

// DataSource is the acquisition surface the data loader falls back to
// when neither its cache nor persistence has the requested range.
type DataSource interface {
	GetOHLC(ctx context.Context, symbol string, tf marketdata.Timeframe, periods int, forceRefresh bool) (*marketdata.MarketDataResult, error)
}

// Default run parameters. A zero value in Config picks these up.
const (
	DefaultInitialCapital      = 10000.0
	DefaultRiskPerTrade        = 0.01
	DefaultLookbackPeriods     = 20
	DefaultConfluenceThreshold = 2
	DefaultValidationThreshold = 60.0
	DefaultATRPeriod           = 14
	DefaultATRStopMultiplier   = 1.5
	DefaultBreakevenAtR        = 1.0
	DefaultTrailingStopAtR     = 1.5
	DefaultTrailingStopATR     = 2.0
)

// Config describes one backtest run: the market slice to replay, the
// account model, and the signal and simulator parameters.
type Config struct {
	Symbol          string               `json:"symbol"`
	HigherTimeframe marketdata.Timeframe `json:"higher_timeframe"`
	LowerTimeframe  marketdata.Timeframe `json:"lower_timeframe"`
	StartDate       time.Time            `json:"start_date"`
	EndDate         time.Time            `json:"end_date"`
	InitialCapital  float64              `json:"initial_capital"`
	RiskPerTrade    float64              `json:"risk_per_trade"`

	LookbackPeriods     int     `json:"lookback_periods"`
	ConfluenceThreshold int     `json:"confluence_threshold"`
	ValidationThreshold float64 `json:"validation_threshold"`
	ATRPeriod           int     `json:"atr_period"`
	ATRStopMultiplier   float64 `json:"atr_stop_multiplier"`

	BreakevenAtR    float64 `json:"breakeven_at_r"`
	TrailingStopAtR float64 `json:"trailing_stop_at_r"`
	TrailingStopATR float64 `json:"trailing_stop_atr"`
}

func (c Config) withDefaults() Config {
	if c.InitialCapital <= 0 {
		c.InitialCapital = DefaultInitialCapital
	}
	if c.RiskPerTrade <= 0 {
		c.RiskPerTrade = DefaultRiskPerTrade
	}
	if c.LookbackPeriods <= 0 {
		c.LookbackPeriods = DefaultLookbackPeriods
	}
	if c.ConfluenceThreshold <= 0 {
		c.ConfluenceThreshold = DefaultConfluenceThreshold
	}
	if c.ValidationThreshold <= 0 {
		c.ValidationThreshold = DefaultValidationThreshold
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = DefaultATRPeriod
	}
	if c.ATRStopMultiplier <= 0 {
		c.ATRStopMultiplier = DefaultATRStopMultiplier
	}
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

func (c Config) validate() string {
	switch {
	case c.Symbol == "":
		return "symbol is required"
	case !c.HigherTimeframe.Valid():
		return "invalid higher timeframe " + string(c.HigherTimeframe)
	case !c.LowerTimeframe.Valid():
		return "invalid lower timeframe " + string(c.LowerTimeframe)
	case marketdata.HierarchyIndex(c.HigherTimeframe) >= marketdata.HierarchyIndex(c.LowerTimeframe):
		return "higher timeframe must be coarser than lower timeframe"
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return "start and end dates are required"
	case !c.StartDate.Before(c.EndDate):
		return "start date must precede end date"
	case c.RiskPerTrade > 1:
		return "risk per trade must be a fraction of capital"
	}
	return ""
}

// ExitReason records what closed a simulated trade.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTarget1      ExitReason = "TARGET_1"
	ExitTarget2      ExitReason = "TARGET_2"
	ExitTarget3      ExitReason = "TARGET_3"
	ExitEndOfData    ExitReason = "END_OF_DATA"
	ExitManual       ExitReason = "MANUAL"
)

// TradeStatus summarizes the outcome class of a closed trade.
type TradeStatus string

const (
	StatusStoppedOut TradeStatus = "STOPPED_OUT"
	StatusTargetHit  TradeStatus = "TARGET_HIT"
	StatusClosed     TradeStatus = "CLOSED"
)

// Status maps an exit reason to its outcome class. A trailing-stop exit
// counts as CLOSED rather than STOPPED_OUT: the trade was already past
// breakeven when the ratchet took it out.
func (r ExitReason) Status() TradeStatus {
	switch r {
	case ExitStopLoss:
		return StatusStoppedOut
	case ExitTarget1, ExitTarget2, ExitTarget3:
		return StatusTargetHit
	default:
		return StatusClosed
	}
}

// OpenTrade is a live position inside a run. The simulator mutates its
// tracking fields once per bar; closing it produces a ClosedTrade and the
// OpenTrade is discarded, so exit fields never exist half-set.
type OpenTrade struct {
	EntryTime   marketdata.BarTime     `json:"entry_time"`
	EntryPrice  float64                `json:"entry_price"`
	Direction   workflow.Action        `json:"direction"`
	Size        float64                `json:"size"`
	InitialStop float64                `json:"initial_stop"`
	CurrentStop float64                `json:"current_stop"`
	Targets     []float64              `json:"targets"`
	Category    workflow.TradeCategory `json:"category"`
	Confluence  int                    `json:"confluence"`
	EntryBarIdx int                    `json:"entry_bar_idx"`
	ATRAtEntry  float64                `json:"atr_at_entry"`

	// Favorable extremum since entry; HighestPrice tracks longs,
	// LowestPrice shorts.
	HighestPrice float64 `json:"highest_price,omitempty"`
	LowestPrice  float64 `json:"lowest_price,omitempty"`
	AtBreakeven  bool    `json:"at_breakeven"`
}

// ClosedTrade is the immutable record of a finished trade.
type ClosedTrade struct {
	EntryTime   marketdata.BarTime     `json:"entry_time"`
	EntryPrice  float64                `json:"entry_price"`
	Direction   workflow.Action        `json:"direction"`
	Size        float64                `json:"size"`
	InitialStop float64                `json:"initial_stop"`
	Targets     []float64              `json:"targets"`
	Category    workflow.TradeCategory `json:"category"`
	Confluence  int                    `json:"confluence"`
	EntryBarIdx int                    `json:"entry_bar_idx"`
	ATRAtEntry  float64                `json:"atr_at_entry"`

	ExitTime   marketdata.BarTime `json:"exit_time"`
	ExitPrice  float64            `json:"exit_price"`
	ExitBarIdx int                `json:"exit_bar_idx"`
	ExitReason ExitReason         `json:"exit_reason"`
	Status     TradeStatus        `json:"status"`
	PnL        float64            `json:"pnl"`
	RMultiple  float64            `json:"r_multiple"`
}

// close turns the open trade into its immutable closed form, deriving
// PnL and R-multiple once at the transition.
func (t *OpenTrade) close(exitTime marketdata.BarTime, idx int, price float64, reason ExitReason) *ClosedTrade {
	move := directionalMove(t.Direction, t.EntryPrice, price)
	closed := &ClosedTrade{
		EntryTime:   t.EntryTime,
		EntryPrice:  t.EntryPrice,
		Direction:   t.Direction,
		Size:        t.Size,
		InitialStop: t.InitialStop,
		Targets:     t.Targets,
		Category:    t.Category,
		Confluence:  t.Confluence,
		EntryBarIdx: t.EntryBarIdx,
		ATRAtEntry:  t.ATRAtEntry,
		ExitTime:    exitTime,
		ExitPrice:   price,
		ExitBarIdx:  idx,
		ExitReason:  reason,
		Status:      reason.Status(),
		PnL:         move * t.Size,
	}
	if risk := absFloat(t.EntryPrice - t.InitialStop); risk > 0 {
		closed.RMultiple = move / risk
	} else if closed.PnL > 0 {
		// Zero initial risk with a profit has no finite R.
		closed.RMultiple = math.Inf(1)
	}
	return closed
}

// directionalMove is the per-unit price move in the trade's favor:
// positive when the exit improves on the entry.
func directionalMove(direction workflow.Action, entry, exit float64) float64 {
	if direction == workflow.ActionShort {
		return entry - exit
	}
	return exit - entry
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// EquityPoint is one sample of the account state, appended after every
// processed bar.
type EquityPoint struct {
	Timestamp  marketdata.BarTime `json:"timestamp"`
	BarIndex   int                `json:"bar_index"`
	Equity     float64            `json:"equity"`
	OpenPnL    float64            `json:"open_pnl"`
	ClosedPnL  float64            `json:"closed_pnl"`
	TradeCount int                `json:"trade_count"`
}

// Result is the full outcome of one backtest run.
type Result struct {
	Success         bool                 `json:"success"`
	RunID           string               `json:"run_id,omitempty"`
	Symbol          string               `json:"symbol"`
	HigherTimeframe marketdata.Timeframe `json:"higher_timeframe,omitempty"`
	LowerTimeframe  marketdata.Timeframe `json:"lower_timeframe,omitempty"`
	Config          Config               `json:"config"`
	Trades          []ClosedTrade        `json:"trades"`
	EquityCurve     []EquityPoint        `json:"equity_curve"`
	Metrics         *Metrics             `json:"metrics,omitempty"`
	BarsProcessed   int                  `json:"bars_processed"`
	ElapsedMS       int64                `json:"elapsed_ms"`
	Error           string               `json:"error,omitempty"`
}
