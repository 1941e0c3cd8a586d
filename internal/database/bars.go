package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/marketdata"
)

// BarRepository implements marketdata.BarStore over the
// market_data_bars table.
type BarRepository struct {
	db     *DB
	logger zerolog.Logger
}

// NewBarRepository wires a bar repository over the shared pool.
func NewBarRepository(db *DB, logger zerolog.Logger) *BarRepository {
	return &BarRepository{
		db:     db,
		logger: logger.With().Str("component", "bar_repository").Logger(),
	}
}

// GetBars returns stored bars for the symbol and timeframe, ascending by
// time. Nil bounds leave that side open. A positive limit selects the
// most recent bars; zero means no limit.
func (r *BarRepository) GetBars(ctx context.Context, symbol string, tf marketdata.Timeframe, start, end *time.Time, limit int) ([]marketdata.OHLCBar, error) {
	query := `
		SELECT bar_time, daily, open, high, low, close, volume
		FROM market_data_bars
		WHERE symbol = $1 AND timeframe = $2`
	args := []interface{}{symbol, string(tf)}

	if start != nil {
		args = append(args, *start)
		query += fmt.Sprintf(" AND bar_time >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		query += fmt.Sprintf(" AND bar_time <= $%d", len(args))
	}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" ORDER BY bar_time DESC LIMIT $%d", len(args))
	} else {
		query += " ORDER BY bar_time ASC"
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []marketdata.OHLCBar
	for rows.Next() {
		var (
			barTime time.Time
			daily   bool
			bar     marketdata.OHLCBar
		)
		if err := rows.Scan(&barTime, &daily, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bar.Time = marketdata.BarTime{Time: barTime.UTC(), Daily: daily}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bars: %w", err)
	}

	if limit > 0 {
		reverseBars(bars)
	}
	return bars, nil
}

// StoreBars upserts bars in one transaction. Re-fetched bars overwrite
// the stored row, so a revised close from the provider wins.
func (r *BarRepository) StoreBars(ctx context.Context, symbol string, tf marketdata.Timeframe, bars []marketdata.OHLCBar, provider string) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO market_data_bars (
			symbol, timeframe, bar_time, daily, open, high, low, close, volume, provider
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, timeframe, bar_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			provider = EXCLUDED.provider,
			updated_at = CURRENT_TIMESTAMP`

	for _, bar := range bars {
		if _, err := tx.Exec(ctx, query,
			symbol, string(tf), bar.Time.Time, bar.Time.Daily,
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, provider,
		); err != nil {
			return fmt.Errorf("failed to upsert bar at %s: %w", bar.Time.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}

	r.logger.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).
		Int("bars", len(bars)).Str("provider", provider).Msg("Stored bars")
	return nil
}

// GetAvailableSymbols lists every symbol with stored bars.
func (r *BarRepository) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT symbol FROM market_data_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// GetAvailableTimeframes lists the stored timeframes for a symbol,
// coarsest first.
func (r *BarRepository) GetAvailableTimeframes(ctx context.Context, symbol string) ([]marketdata.Timeframe, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT DISTINCT timeframe FROM market_data_bars WHERE symbol = $1`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeframes: %w", err)
	}
	defer rows.Close()

	var timeframes []marketdata.Timeframe
	for rows.Next() {
		var tf string
		if err := rows.Scan(&tf); err != nil {
			return nil, fmt.Errorf("failed to scan timeframe: %w", err)
		}
		timeframes = append(timeframes, marketdata.Timeframe(tf))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	orderTimeframes(timeframes)
	return timeframes, nil
}

// GetTimeRange returns the first and last stored bar times.
func (r *BarRepository) GetTimeRange(ctx context.Context, symbol string, tf marketdata.Timeframe) (time.Time, time.Time, error) {
	var first, last *time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT MIN(bar_time), MAX(bar_time) FROM market_data_bars WHERE symbol = $1 AND timeframe = $2`,
		symbol, string(tf),
	).Scan(&first, &last)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to query time range: %w", err)
	}
	if first == nil || last == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("no bars stored for %s %s", symbol, tf)
	}
	return first.UTC(), last.UTC(), nil
}

// GetIngestionStatus summarizes stored coverage. An empty table is not
// an error; the status just carries a zero count.
func (r *BarRepository) GetIngestionStatus(ctx context.Context, symbol string, tf marketdata.Timeframe) (*marketdata.IngestionStatus, error) {
	status := &marketdata.IngestionStatus{Symbol: symbol, Timeframe: tf}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(bar_time), MAX(bar_time), MAX(updated_at)
		 FROM market_data_bars WHERE symbol = $1 AND timeframe = $2`,
		symbol, string(tf),
	).Scan(&status.BarCount, &status.FirstBar, &status.LastBar, &status.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion status: %w", err)
	}
	return status, nil
}

func reverseBars(bars []marketdata.OHLCBar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}

func orderTimeframes(timeframes []marketdata.Timeframe) {
	sort.Slice(timeframes, func(i, j int) bool {
		return marketdata.HierarchyIndex(timeframes[i]) < marketdata.HierarchyIndex(timeframes[j])
	})
}
