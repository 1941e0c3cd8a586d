// Command backtest replays the multi-timeframe workflow over historical
// bars and prints a performance report. Strategy tunables not exposed as
// flags keep their engine defaults.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	"market-analysis-engine/config"
	"market-analysis-engine/internal/backtest"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/logging"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/report"
)

const dateLayout = "2006-01-02"

func main() {
	symbol := flag.String("symbol", "", "symbol to backtest (required)")
	higher := flag.String("higher", "1D", "higher (trend) timeframe")
	lower := flag.String("lower", "1H", "lower (entry) timeframe")
	start := flag.String("start", "", "start date, YYYY-MM-DD (required)")
	end := flag.String("end", "", "end date, YYYY-MM-DD (required)")
	capital := flag.Float64("capital", 10000, "initial capital")
	risk := flag.Float64("risk", 0.01, "risk per trade as a fraction of equity")
	confluence := flag.Int("confluence", 0, "minimum confluence score for entries (0 = engine default)")
	tradeRows := flag.Int("trades", 20, "closed trades to print (0 = all)")
	xlsxPath := flag.String("xlsx", "", "export the full run to an Excel workbook at this path")
	flag.Parse()

	godotenv.Load()
	godotenv.Load(filepath.Join("..", "..", ".env"))

	if *symbol == "" {
		fmt.Println("❌ -symbol is required")
		flag.Usage()
		os.Exit(1)
	}
	higherTF := marketdata.Timeframe(*higher)
	lowerTF := marketdata.Timeframe(*lower)
	if !higherTF.Valid() || !lowerTF.Valid() {
		fmt.Println("❌ Invalid timeframe (valid: 1m 3m 5m 15m 1H 4H 1D 1W 1M)")
		os.Exit(1)
	}
	startDate, err := parseDate(*start, "-start")
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	endDate, err := parseDate(*end, "-end")
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LoggingConfig.Level, Output: "stderr", JSONFormat: false})
	bus := events.NewBus()

	var store marketdata.BarStore
	var runs *database.RunRepository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			fmt.Printf("⚠️  Database unavailable, running without persistence: %v\n", err)
		} else {
			defer db.Close()
			migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := db.RunMigrations(migCtx)
			cancel()
			if err != nil {
				fmt.Printf("⚠️  Migrations failed, running without persistence: %v\n", err)
			} else {
				store = database.NewBarRepository(db, logger)
				runs = database.NewRunRepository(db, logger)
			}
		}
	}

	service := marketdata.NewService(marketdata.ServiceConfig{
		Providers: buildProviders(cfg),
		Store:     store,
		Bus:       bus,
	}, logger)
	loader := backtest.NewDataLoader(service, store, logger)
	engine := backtest.NewEngine(loader, bus, logger)

	fmt.Printf("🎯 Backtesting %s %s/%s from %s to %s...\n\n", *symbol, higherTF, lowerTF, *start, *end)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := engine.Run(ctx, backtest.Config{
		Symbol:              *symbol,
		HigherTimeframe:     higherTF,
		LowerTimeframe:      lowerTF,
		StartDate:           startDate,
		EndDate:             endDate,
		InitialCapital:      *capital,
		RiskPerTrade:        *risk,
		ConfluenceThreshold: *confluence,
	})
	if err != nil {
		fmt.Printf("❌ Backtest cancelled: %v\n", err)
		os.Exit(1)
	}
	if !result.Success {
		fmt.Printf("❌ Backtest failed: %s\n", result.Error)
		os.Exit(1)
	}

	printRunSummary(result)
	if result.Metrics != nil {
		printMetrics(result.Metrics)
		printCategoryBreakdown(result.Metrics)
	}
	printTrades(result.Trades, *tradeRows)

	if runs != nil {
		record := database.NewBacktestRunRecord(result)
		if err := runs.SaveRun(ctx, record); err != nil {
			fmt.Printf("⚠️  Failed to persist run: %v\n", err)
		} else {
			fmt.Printf("💾 Run %s persisted\n", result.RunID)
		}
	}

	if *xlsxPath != "" {
		if err := report.WriteBacktestXLSX(result, *xlsxPath); err != nil {
			fmt.Printf("❌ Excel export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("📄 Report exported to %s\n", *xlsxPath)
	}
}

func parseDate(raw, flagName string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required (YYYY-MM-DD)", flagName)
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD, got %q", flagName, raw)
	}
	return t, nil
}

func buildProviders(cfg *config.Config) []marketdata.Provider {
	var providers []marketdata.Provider
	if cfg.ProvidersConfig.Binance.Enabled {
		p := cfg.ProvidersConfig.Binance
		providers = append(providers, marketdata.NewBinanceProvider(p.Priority, p.RateLimitPerHour, p.SymbolAliases))
	}
	if cfg.ProvidersConfig.Yahoo.Enabled {
		p := cfg.ProvidersConfig.Yahoo
		providers = append(providers, marketdata.NewYahooProvider(p.Priority, p.RateLimitPerHour, p.SymbolAliases))
	}
	if cfg.ProvidersConfig.SimulatedFallback {
		providers = append(providers, marketdata.NewSimulatedProvider())
	}
	return providers
}

func printRunSummary(result *backtest.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("BACKTEST RUN")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"🆔 Run ID", result.RunID},
		{"📊 Symbol", result.Symbol},
		{"⏰ Timeframes", fmt.Sprintf("%s → %s", result.HigherTimeframe, result.LowerTimeframe)},
		{"📅 Window", fmt.Sprintf("%s to %s", result.Config.StartDate.Format(dateLayout), result.Config.EndDate.Format(dateLayout))},
		{"💰 Initial capital", fmt.Sprintf("$%.2f", result.Config.InitialCapital)},
		{"📈 Bars processed", result.BarsProcessed},
		{"⏱️ Elapsed", fmt.Sprintf("%dms", result.ElapsedMS)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}

func printMetrics(m *backtest.Metrics) {
	pnlEmoji := "🟢"
	if m.TotalPnL < 0 {
		pnlEmoji = "🔴"
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PERFORMANCE")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Trades", fmt.Sprintf("%d (%d W / %d L / %d BE)", m.TotalTrades, m.WinningTrades, m.LosingTrades, m.BreakevenTrades)},
		{"Win rate", fmt.Sprintf("%.1f%%", m.WinRate*100)},
		{fmt.Sprintf("%s Total PnL", pnlEmoji), fmt.Sprintf("$%+.2f", m.TotalPnL)},
		{"Total return", fmt.Sprintf("%+.2f%%", m.TotalReturn*100)},
		{"Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"Average R", fmt.Sprintf("%+.2f", m.AverageR)},
		{"Largest win / loss", fmt.Sprintf("$%+.2f / $%+.2f", m.LargestWinner, m.LargestLoser)},
		{"Max drawdown", fmt.Sprintf("%.2f%% over %d bars", m.MaxDrawdown*100, m.MaxDrawdownDuration)},
		{"Sharpe / Sortino", fmt.Sprintf("%.2f / %.2f", m.SharpeRatio, m.SortinoRatio)},
		{"Calmar", fmt.Sprintf("%.2f", m.CalmarRatio)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 28, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}

func printCategoryBreakdown(m *backtest.Metrics) {
	if len(m.ByCategory) == 0 {
		return
	}
	categories := make([]string, 0, len(m.ByCategory))
	for category := range m.ByCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("BY TRADE CATEGORY")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Category", "Trades", "Win Rate", "Total PnL", "Avg R"})
	for _, category := range categories {
		c := m.ByCategory[category]
		t.AppendRow(table.Row{
			category,
			fmt.Sprintf("%d (%dW/%dL)", c.Trades, c.Winning, c.Losing),
			fmt.Sprintf("%.1f%%", c.WinRate*100),
			fmt.Sprintf("$%+.2f", c.TotalPnL),
			fmt.Sprintf("%+.2f", c.AverageR),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}

func printTrades(trades []backtest.ClosedTrade, rows int) {
	if len(trades) == 0 {
		fmt.Println("No trades were taken in this window.")
		return
	}
	shown := trades
	if rows > 0 && len(trades) > rows {
		shown = trades[len(trades)-rows:]
		fmt.Printf("Showing last %d of %d trades:\n", rows, len(trades))
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Entry", "Exit", "Dir", "Category", "Entry Px", "Exit Px", "PnL", "R", "Reason"})
	for _, trade := range shown {
		t.AppendRow(table.Row{
			trade.EntryTime.Format("2006-01-02 15:04"),
			trade.ExitTime.Format("2006-01-02 15:04"),
			string(trade.Direction),
			string(trade.Category),
			fmt.Sprintf("%.2f", trade.EntryPrice),
			fmt.Sprintf("%.2f", trade.ExitPrice),
			fmt.Sprintf("%+.2f", trade.PnL),
			fmt.Sprintf("%+.2f", trade.RMultiple),
			string(trade.ExitReason),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}
