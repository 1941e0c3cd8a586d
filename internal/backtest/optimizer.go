package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/events"
)

// DefaultOptimizeWorkers bounds parallel grid evaluation per window.
const DefaultOptimizeWorkers = 4

// Default window sizes, in 30-day months.
const (
	DefaultInSampleMonths    = 6
	DefaultOutOfSampleMonths = 2
)

// optimizationMonth is the fixed month used for window scheduling.
// Thirty days, deliberately not calendar months.
const optimizationMonth = 30 * 24 * time.Hour

// Parameter names accepted by the optimizer grid.
const (
	ParamLookbackPeriods     = "lookback_periods"
	ParamConfluenceThreshold = "confluence_threshold"
	ParamValidationThreshold = "validation_threshold"
	ParamATRPeriod           = "atr_period"
	ParamATRStopMultiplier   = "atr_stop_multiplier"
	ParamBreakevenAtR        = "breakeven_at_r"
	ParamTrailingStopAtR     = "trailing_stop_at_r"
	ParamTrailingStopATR     = "trailing_stop_atr"
	ParamRiskPerTrade        = "risk_per_trade"
)

// Metrics an optimization can target. An empty target means total PnL.
const (
	TargetTotalPnL     = "total_pnl"
	TargetProfitFactor = "profit_factor"
	TargetWinRate      = "win_rate"
	TargetSharpe       = "sharpe_ratio"
	TargetSortino      = "sortino_ratio"
	TargetCalmar       = "calmar_ratio"
	TargetAverageR     = "average_r"
	TargetTotalReturn  = "total_return"
)

// OptimizationParameter is one tunable dimension of the grid.
type OptimizationParameter struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Values expands the parameter into its grid points: min, min+step and so
// on, up to and including max.
func (p OptimizationParameter) Values() []float64 {
	if p.Step <= 0 || p.Max < p.Min {
		return []float64{p.Min}
	}
	epsilon := p.Step * 1e-9
	var values []float64
	for i := 0; ; i++ {
		v := p.Min + p.Step*float64(i)
		if v > p.Max+epsilon {
			break
		}
		values = append(values, v)
	}
	return values
}

// OptimizationConfig describes a walk-forward run over a base backtest
// configuration. The base config's date range bounds the windows; its
// remaining fields are the values the grid does not override.
type OptimizationConfig struct {
	Backtest           Config                  `json:"backtest"`
	Parameters         []OptimizationParameter `json:"parameters"`
	InSampleMonths     int                     `json:"in_sample_months"`
	OutOfSampleMonths  int                     `json:"out_of_sample_months"`
	OptimizationTarget string                  `json:"optimization_target"`
	Workers            int                     `json:"workers,omitempty"`
}

// WindowResult records one rolling window: the winning in-sample
// parameters and how they fared out of sample.
type WindowResult struct {
	WindowIndex        int                `json:"window_index"`
	InSampleStart      time.Time          `json:"in_sample_start"`
	InSampleEnd        time.Time          `json:"in_sample_end"`
	OutOfSampleStart   time.Time          `json:"out_of_sample_start"`
	OutOfSampleEnd     time.Time          `json:"out_of_sample_end"`
	BestParameters     map[string]float64 `json:"best_parameters,omitempty"`
	InSampleMetrics    *Metrics           `json:"in_sample_metrics,omitempty"`
	OutOfSampleMetrics *Metrics           `json:"out_of_sample_metrics,omitempty"`
	OutOfSampleTrades  int                `json:"out_of_sample_trades"`
}

// OptimizationResult aggregates every window of a walk-forward run.
type OptimizationResult struct {
	Success          bool               `json:"success"`
	RunID            string             `json:"run_id,omitempty"`
	Symbol           string             `json:"symbol"`
	Windows          []WindowResult     `json:"windows,omitempty"`
	RobustParameters map[string]float64 `json:"robust_parameters,omitempty"`
	RobustnessScore  float64            `json:"robustness_score"`
	CombinedMetrics  *Metrics           `json:"combined_metrics,omitempty"`
	GridSize         int                `json:"grid_size"`
	WindowCount      int                `json:"window_count"`
	ElapsedMS        int64              `json:"elapsed_ms"`
	Error            string             `json:"error,omitempty"`
}

// WalkForwardOptimizer grid-searches engine parameters on rolling
// in-sample windows and validates each winner on the adjacent
// out-of-sample slice.
type WalkForwardOptimizer struct {
	engine  *Engine
	bus     *events.Bus
	logger  zerolog.Logger
	workers int
	now     func() time.Time
}

// NewWalkForwardOptimizer wires an optimizer over a backtest engine. The
// bus may be nil; workers ≤ 0 selects the default.
func NewWalkForwardOptimizer(engine *Engine, bus *events.Bus, workers int, logger zerolog.Logger) *WalkForwardOptimizer {
	if workers <= 0 {
		workers = DefaultOptimizeWorkers
	}
	return &WalkForwardOptimizer{
		engine:  engine,
		bus:     bus,
		logger:  logger.With().Str("component", "optimizer").Logger(),
		workers: workers,
		now:     time.Now,
	}
}

// Optimize runs the full walk-forward schedule. Bad configuration comes
// back in-band; the returned error is reserved for cancellation. Windows
// whose every grid point fails contribute an empty record and the run
// still completes.
func (o *WalkForwardOptimizer) Optimize(ctx context.Context, cfg OptimizationConfig) (*OptimizationResult, error) {
	started := o.now()
	base := cfg.Backtest.withDefaults()
	result := &OptimizationResult{Symbol: base.Symbol}

	if msg := base.validate(); msg != "" {
		result.Error = msg
		return result, nil
	}
	if !validTarget(cfg.OptimizationTarget) {
		result.Error = fmt.Sprintf("unknown optimization target %q", cfg.OptimizationTarget)
		return result, nil
	}
	for _, p := range cfg.Parameters {
		if !knownParameter(p.Name) {
			result.Error = fmt.Sprintf("unknown optimization parameter %q", p.Name)
			return result, nil
		}
	}

	inMonths := cfg.InSampleMonths
	if inMonths <= 0 {
		inMonths = DefaultInSampleMonths
	}
	outMonths := cfg.OutOfSampleMonths
	if outMonths <= 0 {
		outMonths = DefaultOutOfSampleMonths
	}
	windows := rollingWindows(base.StartDate, base.EndDate, inMonths, outMonths)
	if len(windows) == 0 {
		result.Error = "date range too short for one in-sample plus out-of-sample window"
		return result, nil
	}

	grid := parameterGrid(cfg.Parameters)
	result.GridSize = len(grid)
	result.WindowCount = len(windows)
	result.RunID = uuid.New().String()
	if o.bus != nil {
		o.bus.PublishOptimizeStarted(result.RunID, base.Symbol, len(windows), len(grid))
	}

	var (
		aggTrades   []ClosedTrade
		aggCurve    []EquityPoint
		bestVectors []map[string]float64
	)
	for wi, win := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		scores, err := o.evaluateGrid(ctx, base, grid, win.inStart, win.inEnd)
		if err != nil {
			return nil, err
		}
		record := WindowResult{
			WindowIndex:      wi,
			InSampleStart:    win.inStart,
			InSampleEnd:      win.inEnd,
			OutOfSampleStart: win.outStart,
			OutOfSampleEnd:   win.outEnd,
		}
		if bestIdx := bestGridPoint(scores, cfg.OptimizationTarget); bestIdx >= 0 {
			record.BestParameters = grid[bestIdx]
			record.InSampleMetrics = scores[bestIdx]

			oosCfg := configWithParams(base, grid[bestIdx])
			oosCfg.StartDate, oosCfg.EndDate = win.outStart, win.outEnd
			oosRun, err := o.engine.Run(ctx, oosCfg)
			if err != nil {
				return nil, err
			}
			if oosRun.Success {
				record.OutOfSampleMetrics = oosRun.Metrics
				record.OutOfSampleTrades = len(oosRun.Trades)
				aggTrades = append(aggTrades, oosRun.Trades...)
				aggCurve = append(aggCurve, oosRun.EquityCurve...)
			}
			bestVectors = append(bestVectors, grid[bestIdx])
		}
		result.Windows = append(result.Windows, record)
	}

	result.RobustParameters = robustParameters(bestVectors, cfg.Parameters)
	result.RobustnessScore = robustnessScore(bestVectors, cfg.Parameters)
	result.CombinedMetrics = CalculateMetrics(aggTrades, aggCurve, base.InitialCapital)
	result.Success = true

	elapsed := o.now().Sub(started)
	result.ElapsedMS = elapsed.Milliseconds()
	if o.bus != nil {
		o.bus.PublishOptimizeCompleted(result.RunID, base.Symbol, len(windows), len(grid), elapsed)
	}
	o.logger.Info().Str("run_id", result.RunID).Str("symbol", base.Symbol).
		Int("windows", len(windows)).Int("grid_size", len(grid)).
		Float64("robustness", result.RobustnessScore).
		Int64("elapsed_ms", result.ElapsedMS).Msg("walk-forward optimization complete")
	return result, nil
}

// evaluateGrid backtests every grid point over [start, end] in parallel.
// The returned slice is index-aligned with the grid; failed runs leave a
// nil entry.
func (o *WalkForwardOptimizer) evaluateGrid(ctx context.Context, base Config, grid []map[string]float64, start, end time.Time) ([]*Metrics, error) {
	scores := make([]*Metrics, len(grid))
	jobs := make(chan int, len(grid))

	workers := o.workers
	if workers > len(grid) {
		workers = len(grid)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				cfg := configWithParams(base, grid[idx])
				cfg.StartDate, cfg.EndDate = start, end
				run, err := o.engine.Run(ctx, cfg)
				if err != nil || !run.Success {
					continue
				}
				scores[idx] = run.Metrics
			}
		}()
	}
	for idx := range grid {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

type optimizationWindow struct {
	inStart, inEnd, outStart, outEnd time.Time
}

// rollingWindows schedules adjacent in-sample/out-of-sample pairs,
// stepping by the out-of-sample span. Windows that would overrun the end
// date are dropped.
func rollingWindows(start, end time.Time, inMonths, outMonths int) []optimizationWindow {
	inDur := time.Duration(inMonths) * optimizationMonth
	outDur := time.Duration(outMonths) * optimizationMonth
	var windows []optimizationWindow
	for cursor := start; ; cursor = cursor.Add(outDur) {
		inEnd := cursor.Add(inDur)
		outEnd := inEnd.Add(outDur)
		if outEnd.After(end) {
			break
		}
		windows = append(windows, optimizationWindow{
			inStart:  cursor,
			inEnd:    inEnd,
			outStart: inEnd,
			outEnd:   outEnd,
		})
	}
	return windows
}

// parameterGrid expands the Cartesian product of all parameter values.
// With no parameters the grid is a single empty point: the base config.
func parameterGrid(params []OptimizationParameter) []map[string]float64 {
	grid := []map[string]float64{{}}
	for _, p := range params {
		values := p.Values()
		next := make([]map[string]float64, 0, len(grid)*len(values))
		for _, point := range grid {
			for _, v := range values {
				expanded := make(map[string]float64, len(point)+1)
				for k, pv := range point {
					expanded[k] = pv
				}
				expanded[p.Name] = v
				next = append(next, expanded)
			}
		}
		grid = next
	}
	return grid
}

// bestGridPoint picks the index maximizing the target metric. Ties keep
// the earliest grid point so repeated runs stay deterministic.
func bestGridPoint(scores []*Metrics, target string) int {
	best := -1
	bestValue := math.Inf(-1)
	for idx, m := range scores {
		if m == nil {
			continue
		}
		if v := metricValue(m, target); v > bestValue {
			best, bestValue = idx, v
		}
	}
	return best
}

func configWithParams(base Config, params map[string]float64) Config {
	cfg := base
	for name, value := range params {
		applyParameter(&cfg, name, value)
	}
	return cfg
}

func applyParameter(cfg *Config, name string, value float64) bool {
	switch name {
	case ParamLookbackPeriods:
		cfg.LookbackPeriods = int(math.Round(value))
	case ParamConfluenceThreshold:
		cfg.ConfluenceThreshold = int(math.Round(value))
	case ParamValidationThreshold:
		cfg.ValidationThreshold = value
	case ParamATRPeriod:
		cfg.ATRPeriod = int(math.Round(value))
	case ParamATRStopMultiplier:
		cfg.ATRStopMultiplier = value
	case ParamBreakevenAtR:
		cfg.BreakevenAtR = value
	case ParamTrailingStopAtR:
		cfg.TrailingStopAtR = value
	case ParamTrailingStopATR:
		cfg.TrailingStopATR = value
	case ParamRiskPerTrade:
		cfg.RiskPerTrade = value
	default:
		return false
	}
	return true
}

func knownParameter(name string) bool {
	var scratch Config
	return applyParameter(&scratch, name, 0)
}

func metricValue(m *Metrics, target string) float64 {
	switch target {
	case TargetProfitFactor:
		return m.ProfitFactor
	case TargetWinRate:
		return m.WinRate
	case TargetSharpe:
		return m.SharpeRatio
	case TargetSortino:
		return m.SortinoRatio
	case TargetCalmar:
		return m.CalmarRatio
	case TargetAverageR:
		return m.AverageR
	case TargetTotalReturn:
		return m.TotalReturn
	default:
		return m.TotalPnL
	}
}

func validTarget(target string) bool {
	switch target {
	case "", TargetTotalPnL, TargetProfitFactor, TargetWinRate, TargetSharpe,
		TargetSortino, TargetCalmar, TargetAverageR, TargetTotalReturn:
		return true
	}
	return false
}

// robustParameters takes the per-parameter median across window winners.
func robustParameters(vectors []map[string]float64, params []OptimizationParameter) map[string]float64 {
	if len(vectors) == 0 || len(params) == 0 {
		return nil
	}
	robust := make(map[string]float64, len(params))
	for _, p := range params {
		values := parameterSeries(vectors, p.Name)
		if len(values) == 0 {
			continue
		}
		robust[p.Name] = median(values)
	}
	return robust
}

// robustnessScore turns parameter stability across windows into (0, 1]:
// exp of the negated average coefficient of variation. Parameters whose
// mean is zero are excluded; fewer than two windows scores 1.
func robustnessScore(vectors []map[string]float64, params []OptimizationParameter) float64 {
	if len(vectors) < 2 {
		return 1.0
	}
	var cvSum float64
	var counted int
	for _, p := range params {
		values := parameterSeries(vectors, p.Name)
		if len(values) < 2 {
			continue
		}
		mean := meanOf(values)
		if mean == 0 {
			continue
		}
		variance := 0.0
		for _, v := range values {
			d := v - mean
			variance += d * d
		}
		stdev := math.Sqrt(variance / float64(len(values)))
		cvSum += stdev / math.Abs(mean)
		counted++
	}
	if counted == 0 {
		return 1.0
	}
	return math.Exp(-cvSum / float64(counted))
}

func parameterSeries(vectors []map[string]float64, name string) []float64 {
	var values []float64
	for _, vec := range vectors {
		if v, ok := vec[name]; ok {
			values = append(values, v)
		}
	}
	return values
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
