package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/backtest"
)

// BacktestRunRecord is the persisted summary of one backtest run. The
// full trade list and equity curve stay in the API response; the table
// keeps what a run listing needs.
type BacktestRunRecord struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	HigherTimeframe string    `json:"higher_timeframe"`
	LowerTimeframe  string    `json:"lower_timeframe"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	InitialCapital  float64   `json:"initial_capital"`
	TotalTrades     int       `json:"total_trades"`
	WinningTrades   int       `json:"winning_trades"`
	LosingTrades    int       `json:"losing_trades"`
	WinRate         float64   `json:"win_rate"`
	TotalPnL        float64   `json:"total_pnl"`
	ProfitFactor    float64   `json:"profit_factor"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	SharpeRatio     float64   `json:"sharpe_ratio"`
	AverageR        float64   `json:"average_r"`
	TotalReturn     float64   `json:"total_return"`
	BarsProcessed   int       `json:"bars_processed"`
	ElapsedMS       int64     `json:"elapsed_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewBacktestRunRecord flattens a successful backtest result into its
// persisted form.
func NewBacktestRunRecord(result *backtest.Result) BacktestRunRecord {
	record := BacktestRunRecord{
		ID:              result.RunID,
		Symbol:          result.Symbol,
		HigherTimeframe: string(result.HigherTimeframe),
		LowerTimeframe:  string(result.LowerTimeframe),
		StartDate:       result.Config.StartDate,
		EndDate:         result.Config.EndDate,
		InitialCapital:  result.Config.InitialCapital,
		BarsProcessed:   result.BarsProcessed,
		ElapsedMS:       result.ElapsedMS,
	}
	if m := result.Metrics; m != nil {
		record.TotalTrades = m.TotalTrades
		record.WinningTrades = m.WinningTrades
		record.LosingTrades = m.LosingTrades
		record.WinRate = m.WinRate
		record.TotalPnL = m.TotalPnL
		record.ProfitFactor = m.ProfitFactor
		record.MaxDrawdown = m.MaxDrawdown
		record.SharpeRatio = m.SharpeRatio
		record.AverageR = m.AverageR
		record.TotalReturn = m.TotalReturn
	}
	return record
}

// RunRepository stores backtest run summaries.
type RunRepository struct {
	db     *DB
	logger zerolog.Logger
}

// NewRunRepository wires a run repository over the shared pool.
func NewRunRepository(db *DB, logger zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger.With().Str("component", "run_repository").Logger(),
	}
}

// SaveRun inserts a run summary. Replayed run ids are ignored so saving
// is idempotent.
func (r *RunRepository) SaveRun(ctx context.Context, record BacktestRunRecord) error {
	query := `
		INSERT INTO backtest_runs (
			id, symbol, higher_timeframe, lower_timeframe, start_date, end_date,
			initial_capital, total_trades, winning_trades, losing_trades,
			win_rate, total_pnl, profit_factor, max_drawdown, sharpe_ratio,
			average_r, total_return, bars_processed, elapsed_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.Pool.Exec(ctx, query,
		record.ID, record.Symbol, record.HigherTimeframe, record.LowerTimeframe,
		record.StartDate, record.EndDate, record.InitialCapital,
		record.TotalTrades, record.WinningTrades, record.LosingTrades,
		record.WinRate, record.TotalPnL, record.ProfitFactor, record.MaxDrawdown,
		record.SharpeRatio, record.AverageR, record.TotalReturn,
		record.BarsProcessed, record.ElapsedMS,
	); err != nil {
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}

	r.logger.Debug().Str("run_id", record.ID).Str("symbol", record.Symbol).Msg("Saved backtest run")
	return nil
}

// GetRun fetches one run by id. A missing run returns nil without error.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*BacktestRunRecord, error) {
	query := `
		SELECT id, symbol, higher_timeframe, lower_timeframe, start_date, end_date,
			   initial_capital, total_trades, winning_trades, losing_trades,
			   win_rate, total_pnl, profit_factor, max_drawdown, sharpe_ratio,
			   average_r, total_return, bars_processed, elapsed_ms, created_at
		FROM backtest_runs WHERE id = $1`

	var record BacktestRunRecord
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&record.ID, &record.Symbol, &record.HigherTimeframe, &record.LowerTimeframe,
		&record.StartDate, &record.EndDate, &record.InitialCapital,
		&record.TotalTrades, &record.WinningTrades, &record.LosingTrades,
		&record.WinRate, &record.TotalPnL, &record.ProfitFactor, &record.MaxDrawdown,
		&record.SharpeRatio, &record.AverageR, &record.TotalReturn,
		&record.BarsProcessed, &record.ElapsedMS, &record.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest run: %w", err)
	}
	return &record, nil
}

// ListRuns returns the most recent runs, newest first. An empty symbol
// matches all symbols; limit caps the page size.
func (r *RunRepository) ListRuns(ctx context.Context, symbol string, limit int) ([]BacktestRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, symbol, higher_timeframe, lower_timeframe, start_date, end_date,
			   initial_capital, total_trades, winning_trades, losing_trades,
			   win_rate, total_pnl, profit_factor, max_drawdown, sharpe_ratio,
			   average_r, total_return, bars_processed, elapsed_ms, created_at
		FROM backtest_runs`
	args := []interface{}{}
	if symbol != "" {
		args = append(args, symbol)
		query += fmt.Sprintf(" WHERE symbol = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var records []BacktestRunRecord
	for rows.Next() {
		var record BacktestRunRecord
		if err := rows.Scan(
			&record.ID, &record.Symbol, &record.HigherTimeframe, &record.LowerTimeframe,
			&record.StartDate, &record.EndDate, &record.InitialCapital,
			&record.TotalTrades, &record.WinningTrades, &record.LosingTrades,
			&record.WinRate, &record.TotalPnL, &record.ProfitFactor, &record.MaxDrawdown,
			&record.SharpeRatio, &record.AverageR, &record.TotalReturn,
			&record.BarsProcessed, &record.ElapsedMS, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
