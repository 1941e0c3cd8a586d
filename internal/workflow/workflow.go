// Package workflow implements the trading decision layer on top of the
// analysis primitives: trend assessment, timeframe alignment, confluence
// scoring, trade categorization and sizing, the pre-trade checklist,
// multi-symbol opportunity scanning and reversal-cascade staging.
package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/marketdata"
)

// DataSource is the slice of the market-data service the workflow needs.
type DataSource interface {
	GetOHLC(ctx context.Context, symbol string, tf marketdata.Timeframe, periods int, forceRefresh bool) (*marketdata.MarketDataResult, error)
}

// DefaultPeriods is the bar count fetched for assessments.
const DefaultPeriods = 100

// DefaultScanWorkers bounds scan concurrency when the caller leaves it unset.
const DefaultScanWorkers = 4

// Workflow exposes the decision-support operations. All methods report
// domain failures in-band through result structs; returned errors are
// reserved for context cancellation.
type Workflow struct {
	source  DataSource
	bus     *events.Bus
	logger  zerolog.Logger
	workers int
	now     func() time.Time
}

// New builds a workflow service. bus may be nil; workers <= 0 selects
// DefaultScanWorkers.
func New(source DataSource, bus *events.Bus, workers int, logger zerolog.Logger) *Workflow {
	if workers <= 0 {
		workers = DefaultScanWorkers
	}
	return &Workflow{
		source:  source,
		bus:     bus,
		logger:  logger.With().Str("component", "workflow").Logger(),
		workers: workers,
		now:     time.Now,
	}
}

// fetchBars acquires bars for one symbol and timeframe. The failure string
// is non-empty when acquisition failed in-band; err is non-nil only on
// cancellation.
func (w *Workflow) fetchBars(ctx context.Context, symbol string, tf marketdata.Timeframe, periods int) ([]marketdata.OHLCBar, string, error) {
	if periods <= 0 {
		periods = DefaultPeriods
	}
	result, err := w.source.GetOHLC(ctx, symbol, tf, periods, false)
	if err != nil {
		return nil, "", err
	}
	if !result.Success {
		return nil, result.Error, nil
	}
	if len(result.Data) == 0 {
		return nil, "no bars returned", nil
	}
	return result.Data, "", nil
}
