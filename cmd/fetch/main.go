// Command fetch pulls OHLC bars through the provider chain and prints
// them to the console. With persistence enabled in the environment the
// fetched bars are written through to PostgreSQL, which makes this the
// manual ingestion tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	"market-analysis-engine/config"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/logging"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/report"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to fetch (required)")
	timeframe := flag.String("timeframe", "1D", "bar timeframe: 1m 3m 5m 15m 1H 4H 1D 1W 1M")
	periods := flag.Int("periods", 100, "number of bars to fetch (1-1000)")
	force := flag.Bool("force", false, "bypass cache and persistence reads")
	tail := flag.Int("tail", 15, "bars to print (0 = all)")
	xlsxPath := flag.String("xlsx", "", "export fetched bars to an Excel workbook at this path")
	flag.Parse()

	// Try the working directory and the repo root when run from cmd/fetch.
	godotenv.Load()
	godotenv.Load(filepath.Join("..", "..", ".env"))

	if *symbol == "" {
		fmt.Println("❌ -symbol is required")
		flag.Usage()
		os.Exit(1)
	}
	tf := marketdata.Timeframe(*timeframe)
	if !tf.Valid() {
		fmt.Printf("❌ Invalid timeframe %q (valid: 1m 3m 5m 15m 1H 4H 1D 1W 1M)\n", *timeframe)
		os.Exit(1)
	}
	if *periods < 1 || *periods > 1000 {
		fmt.Println("❌ -periods must be between 1 and 1000")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Keep stdout for the tables; the service logs go to stderr.
	logger := logging.New(logging.Config{Level: cfg.LoggingConfig.Level, Output: "stderr", JSONFormat: false})

	var store marketdata.BarStore
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
			fmt.Printf("⚠️  Database unavailable, fetching without persistence: %v\n", err)
		} else {
			defer db.Close()
			migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := db.RunMigrations(migCtx)
			cancel()
			if err != nil {
				fmt.Printf("⚠️  Migrations failed, fetching without persistence: %v\n", err)
			} else {
				store = database.NewBarRepository(db, logger)
				fmt.Println("💾 Persistence enabled: fetched bars will be stored")
			}
		}
	}

	service := marketdata.NewService(marketdata.ServiceConfig{
		Providers: buildProviders(cfg),
		Store:     store,
		Bus:       events.NewBus(),
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := service.GetOHLC(ctx, *symbol, tf, *periods, *force)
	if err != nil {
		fmt.Printf("❌ Fetch cancelled: %v\n", err)
		os.Exit(1)
	}
	if !result.Success {
		fmt.Printf("❌ Fetch failed: %s\n", result.Error)
		os.Exit(1)
	}

	printFetchSummary(result)
	printBars(result.Data, *tail)

	if *xlsxPath != "" {
		if err := report.WriteBarsXLSX(result.Symbol, result.Timeframe, result.Data, *xlsxPath); err != nil {
			fmt.Printf("❌ Excel export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n📄 Bars exported to %s\n", *xlsxPath)
	}
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

func printFetchSummary(result *marketdata.MarketDataResult) {
	source := result.ProviderName
	if result.Cached {
		source += " (cached)"
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("MARKET DATA FETCH")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"📊 Symbol", result.Symbol},
		{"⏰ Timeframe", string(result.Timeframe)},
		{"📈 Bars", len(result.Data)},
		{"🔌 Source", source},
		{"🕐 Market", string(result.MarketStatus)},
	})
	if result.RateLimitRemaining != nil {
		t.AppendRow(table.Row{"🧮 Rate budget", fmt.Sprintf("%.0f requests left this hour", *result.RateLimitRemaining)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 14, Align: text.AlignLeft},
		{Number: 2, WidthMin: 28, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}

func printBars(bars []marketdata.OHLCBar, tail int) {
	shown := bars
	if tail > 0 && len(bars) > tail {
		shown = bars[len(bars)-tail:]
		fmt.Printf("Showing last %d of %d bars:\n", tail, len(bars))
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Open", "High", "Low", "Close", "Volume"})
	for _, b := range shown {
		t.AppendRow(table.Row{
			formatBarTime(b.Time),
			fmt.Sprintf("%.2f", b.Open),
			fmt.Sprintf("%.2f", b.High),
			fmt.Sprintf("%.2f", b.Low),
			fmt.Sprintf("%.2f", b.Close),
			fmt.Sprintf("%.0f", b.Volume),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()
}

func formatBarTime(bt marketdata.BarTime) string {
	if bt.Daily {
		return bt.Format("2006-01-02")
	}
	return bt.Format("2006-01-02 15:04")
}
