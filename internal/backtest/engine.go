package backtest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/workflow"
)

// Engine replays one symbol's history bar by bar: open trades are
// updated first, then the signal processor is consulted while flat, and
// every bar appends an equity sample. One position at a time.
type Engine struct {
	loader *DataLoader
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine wires the engine over a data loader. The bus may be nil.
func NewEngine(loader *DataLoader, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		loader: loader,
		bus:    bus,
		logger: logger.With().Str("component", "backtest").Logger(),
		now:    time.Now,
	}
}

// Run executes one backtest. Invalid configuration and missing data come
// back in-band on the result; the returned error is reserved for context
// cancellation, checked at every bar boundary.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	started := e.now()
	cfg = cfg.withDefaults()
	result := &Result{
		Symbol:          cfg.Symbol,
		HigherTimeframe: cfg.HigherTimeframe,
		LowerTimeframe:  cfg.LowerTimeframe,
		Config:          cfg,
	}
	if msg := cfg.validate(); msg != "" {
		result.Error = msg
		return result, nil
	}
	result.RunID = uuid.New().String()

	higherBars, err := e.loader.LoadData(ctx, cfg.Symbol, cfg.HigherTimeframe, cfg.StartDate, cfg.EndDate)
	if err != nil {
		if loadFailed(err) {
			result.Error = "higher timeframe data: " + err.Error()
			return result, nil
		}
		return nil, err
	}
	lowerBars, err := e.loader.LoadData(ctx, cfg.Symbol, cfg.LowerTimeframe, cfg.StartDate, cfg.EndDate)
	if err != nil && !loadFailed(err) {
		return nil, err
	}
	if len(lowerBars) == 0 {
		// Nothing to replay is a valid, empty run.
		return e.finish(result, cfg, nil, nil, started)
	}
	if e.bus != nil {
		e.bus.PublishBacktestStarted(result.RunID, cfg.Symbol, len(lowerBars))
	}

	processor := NewSignalsProcessor(SignalsConfig{
		LookbackPeriods:     cfg.LookbackPeriods,
		ConfluenceThreshold: cfg.ConfluenceThreshold,
		ValidationThreshold: cfg.ValidationThreshold,
		ATRPeriod:           cfg.ATRPeriod,
		ATRStopMultiplier:   cfg.ATRStopMultiplier,
		Timeframe:           cfg.LowerTimeframe,
	})
	simulator := NewTradeSimulator(SimulatorConfig{
		BreakevenAtR:    cfg.BreakevenAtR,
		TrailingStopAtR: cfg.TrailingStopAtR,
		TrailingStopATR: cfg.TrailingStopATR,
	})

	capital := cfg.InitialCapital
	closedPnL := 0.0
	trades := make([]ClosedTrade, 0)
	curve := make([]EquityPoint, 0, len(lowerBars))
	var open []*OpenTrade

	for i, bar := range lowerBars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(open) > 0 {
			still := open[:0]
			for _, t := range open {
				if closed := simulator.UpdateTrade(t, bar, i); closed != nil {
					trades = append(trades, *closed)
					closedPnL += closed.PnL
				} else {
					still = append(still, t)
				}
			}
			open = still
		}

		if len(open) == 0 {
			if sig := processor.DetectEntrySignal(higherBars, lowerBars, i); sig != nil {
				sizing := workflow.CalculatePositionSize(workflow.PositionSizeRequest{
					EntryPrice:     sig.EntryPrice,
					StopPrice:      sig.StopLoss,
					RiskCapital:    capital * cfg.RiskPerTrade,
					AccountBalance: capital,
					Category:       sig.Category,
				})
				if sizing.IsValid && sizing.Size > 0 {
					open = append(open, simulator.OpenTrade(bar, i, sig, sizing.Size))
				}
			}
		}

		openPnL := 0.0
		for _, t := range open {
			openPnL += directionalMove(t.Direction, t.EntryPrice, bar.Close) * t.Size
		}
		curve = append(curve, EquityPoint{
			Timestamp:  bar.Time,
			BarIndex:   i,
			Equity:     cfg.InitialCapital + closedPnL + openPnL,
			OpenPnL:    openPnL,
			ClosedPnL:  closedPnL,
			TradeCount: len(trades),
		})
		capital = cfg.InitialCapital + closedPnL
	}

	if len(open) > 0 {
		final := lowerBars[len(lowerBars)-1]
		for _, closed := range simulator.CloseAllTrades(open, final, len(lowerBars)-1) {
			trades = append(trades, *closed)
		}
	}
	result.BarsProcessed = len(lowerBars)
	return e.finish(result, cfg, trades, curve, started)
}

func (e *Engine) finish(result *Result, cfg Config, trades []ClosedTrade, curve []EquityPoint, started time.Time) (*Result, error) {
	if trades == nil {
		trades = []ClosedTrade{}
	}
	if curve == nil {
		curve = []EquityPoint{}
	}
	result.Trades = trades
	result.EquityCurve = curve
	result.Metrics = CalculateMetrics(trades, curve, cfg.InitialCapital)
	result.Success = true

	elapsed := e.now().Sub(started)
	result.ElapsedMS = elapsed.Milliseconds()
	metrics.ObserveBacktestDuration(elapsed.Seconds())
	if e.bus != nil {
		e.bus.PublishBacktestCompleted(result.RunID, cfg.Symbol, len(trades), elapsed)
	}
	e.logger.Info().Str("run_id", result.RunID).Str("symbol", cfg.Symbol).
		Int("bars", result.BarsProcessed).Int("trades", len(trades)).
		Int64("elapsed_ms", result.ElapsedMS).Msg("backtest complete")
	return result, nil
}

// loadFailed reports whether a loader error is an in-band data problem
// rather than cancellation bubbling up from the acquisition source.
func loadFailed(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, ErrNoSource)
}
