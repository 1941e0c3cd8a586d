// Command scan runs a one-shot opportunity scan across symbols and
// timeframe pairs and prints the actionable setups it finds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	"market-analysis-engine/config"
	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/logging"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols to scan (required)")
	pairs := flag.String("pairs", "1D:1H", "comma-separated HIGHER:LOWER timeframe pairs, e.g. 1D:1H,4H:15m")
	potential := flag.Bool("potential", false, "include aligned setups still awaiting a signal bar")
	workers := flag.Int("workers", 0, "concurrent evaluations (0 = configured default)")
	flag.Parse()

	godotenv.Load()
	godotenv.Load(filepath.Join("..", "..", ".env"))

	symbolList := splitList(*symbols)
	if len(symbolList) == 0 {
		fmt.Println("❌ -symbols is required, e.g. -symbols AAPL,MSFT,BTC")
		flag.Usage()
		os.Exit(1)
	}

	pairList, err := parsePairs(*pairs)
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

	service := marketdata.NewService(marketdata.ServiceConfig{
		Providers: buildProviders(cfg),
		Bus:       bus,
	}, logger)
	engine := workflow.New(service, bus, cfg.ScannerConfig.WorkerCount, logger)

	fmt.Printf("🔍 Scanning %d symbols across %d timeframe pairs...\n\n", len(symbolList), len(pairList))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := engine.ScanOpportunities(ctx, workflow.ScanRequest{
		Symbols:          symbolList,
		Pairs:            pairList,
		IncludePotential: *potential,
		Workers:          *workers,
	})
	if err != nil {
		fmt.Printf("❌ Scan cancelled: %v\n", err)
		os.Exit(1)
	}
	if !result.Success {
		fmt.Printf("❌ Scan failed: %s\n", result.Error)
		os.Exit(1)
	}

	printScanSummary(result)

	if len(result.Opportunities) == 0 {
		fmt.Println("\nNo opportunities found.")
		return
	}
	printOpportunities(result.Opportunities)

	for _, failure := range result.Failures {
		fmt.Printf("⚠️  %s\n", failure)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePairs(raw string) ([]workflow.TimeframePair, error) {
	var out []workflow.TimeframePair
	for _, part := range splitList(raw) {
		bits := strings.Split(part, ":")
		if len(bits) != 2 {
			return nil, fmt.Errorf("invalid pair %q (want HIGHER:LOWER, e.g. 1D:1H)", part)
		}
		higher := marketdata.Timeframe(strings.TrimSpace(bits[0]))
		lower := marketdata.Timeframe(strings.TrimSpace(bits[1]))
		if !higher.Valid() || !lower.Valid() {
			return nil, fmt.Errorf("invalid timeframe in pair %q (valid: 1m 3m 5m 15m 1H 4H 1D 1W 1M)", part)
		}
		out = append(out, workflow.TimeframePair{Higher: higher, Lower: lower})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no timeframe pairs given")
	}
	return out, nil
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

func printScanSummary(result *workflow.ScanResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SCAN COMPLETE")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"🆔 Scan ID", result.ScanID},
		{"📊 Symbols", result.SymbolsScanned},
		{"🔀 Pairs evaluated", result.PairsEvaluated},
		{"🎯 Opportunities", len(result.Opportunities)},
		{"⏱️ Elapsed", fmt.Sprintf("%dms", result.ElapsedMS)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, Align: text.AlignLeft},
	})
	t.Render()
}

func printOpportunities(ops []workflow.TradeOpportunity) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Pair", "Dir", "Conf", "Status", "Entry", "Last", "Reason"})

	for _, op := range ops {
		status := "✅ confirmed"
		if !op.IsConfirmed {
			status = "⏳ " + op.AwaitingConfirmation
		}
		entry := "-"
		if op.EntryLevel > 0 {
			entry = fmt.Sprintf("%.2f (%s)", op.EntryLevel, op.LevelKey)
		}
		t.AppendRow(table.Row{
			op.Symbol,
			fmt.Sprintf("%s→%s", op.HigherTimeframe, op.LowerTimeframe),
			string(op.Direction),
			fmt.Sprintf("%d%%", op.Confidence),
			status,
			entry,
			fmt.Sprintf("%.2f", op.LastPrice),
			op.Reason,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, WidthMax: 48},
	})
	t.Render()
	fmt.Println()
}
