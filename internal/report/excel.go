// Package report exports backtest results and raw market data to Excel
// workbooks for offline review.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"market-analysis-engine/internal/backtest"
	"market-analysis-engine/internal/marketdata"
)

const timestampLayout = "2006-01-02 15:04"

type excelStyles struct {
	Header   int
	Base     int
	Currency int
	Percent  int
}

func newExcelStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.Header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Base, err = fx.NewStyle(&excelize.Style{
		Border: []excelize.Border{
			{Type: "left", Color: "E0E0E0", Style: 1},
			{Type: "right", Color: "E0E0E0", Style: 1},
			{Type: "bottom", Color: "E0E0E0", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Currency, err = fx.NewStyle(&excelize.Style{
		NumFmt: 7,
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "E0E0E0", Style: 1},
			{Type: "right", Color: "E0E0E0", Style: 1},
			{Type: "bottom", Color: "E0E0E0", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Percent, err = fx.NewStyle(&excelize.Style{
		NumFmt: 10,
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "E0E0E0", Style: 1},
			{Type: "right", Color: "E0E0E0", Style: 1},
			{Type: "bottom", Color: "E0E0E0", Style: 1},
		},
	})
	return styles, err
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func writeHeaderRow(fx *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, style)
	}
}

// WriteBacktestXLSX writes a finished backtest run to an Excel workbook with
// Summary, Trades and Equity sheets. The run must have succeeded.
func WriteBacktestXLSX(result *backtest.Result, path string) error {
	if result == nil || !result.Success {
		return fmt.Errorf("cannot export a failed backtest run")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const summarySheet = "Summary"
	const tradesSheet = "Trades"
	const equitySheet = "Equity"

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	fx.NewSheet(tradesSheet)
	fx.NewSheet(equitySheet)

	styles, err := newExcelStyles(fx)
	if err != nil {
		return err
	}

	writeSummarySheet(fx, summarySheet, result, styles)
	writeTradesSheet(fx, tradesSheet, result.Trades, styles)
	writeEquitySheet(fx, equitySheet, result.EquityCurve, styles)

	return fx.SaveAs(path)
}

func writeSummarySheet(fx *excelize.File, sheet string, result *backtest.Result, styles excelStyles) {
	fx.SetColWidth(sheet, "A", "A", 26)
	fx.SetColWidth(sheet, "B", "B", 22)

	type row struct {
		Label string
		Value interface{}
		Style int
	}

	rows := []row{
		{"Run ID", result.RunID, styles.Base},
		{"Symbol", result.Symbol, styles.Base},
		{"Higher Timeframe", string(result.HigherTimeframe), styles.Base},
		{"Lower Timeframe", string(result.LowerTimeframe), styles.Base},
		{"Start Date", result.Config.StartDate.Format("2006-01-02"), styles.Base},
		{"End Date", result.Config.EndDate.Format("2006-01-02"), styles.Base},
		{"Initial Capital", result.Config.InitialCapital, styles.Currency},
		{"Bars Processed", result.BarsProcessed, styles.Base},
	}

	if m := result.Metrics; m != nil {
		rows = append(rows,
			row{"Total Trades", m.TotalTrades, styles.Base},
			row{"Winning Trades", m.WinningTrades, styles.Base},
			row{"Losing Trades", m.LosingTrades, styles.Base},
			row{"Win Rate", m.WinRate, styles.Percent},
			row{"Total PnL", m.TotalPnL, styles.Currency},
			row{"Profit Factor", m.ProfitFactor, styles.Base},
			row{"Average R", m.AverageR, styles.Base},
			row{"Total Return", m.TotalReturn, styles.Percent},
			row{"Max Drawdown", m.MaxDrawdown, styles.Percent},
			row{"Sharpe Ratio", m.SharpeRatio, styles.Base},
			row{"Sortino Ratio", m.SortinoRatio, styles.Base},
			row{"Calmar Ratio", m.CalmarRatio, styles.Base},
		)
	}

	for i, r := range rows {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		fx.SetCellValue(sheet, labelCell, r.Label)
		fx.SetCellStyle(sheet, labelCell, labelCell, styles.Header)
		fx.SetCellValue(sheet, valueCell, r.Value)
		fx.SetCellStyle(sheet, valueCell, valueCell, r.Style)
	}
}

func writeTradesSheet(fx *excelize.File, sheet string, trades []backtest.ClosedTrade, styles excelStyles) {
	fx.SetColWidth(sheet, "A", "A", 6)
	fx.SetColWidth(sheet, "B", "C", 18)
	fx.SetColWidth(sheet, "D", "D", 10)
	fx.SetColWidth(sheet, "E", "E", 16)
	fx.SetColWidth(sheet, "F", "K", 12)
	fx.SetColWidth(sheet, "L", "L", 14)

	headers := []string{
		"#", "Entry Time", "Exit Time", "Direction", "Category", "Confluence",
		"Entry", "Exit", "Stop", "PnL", "R Multiple", "Exit Reason",
	}
	writeHeaderRow(fx, sheet, headers, styles.Header)

	for i, t := range trades {
		values := []interface{}{
			i + 1,
			t.EntryTime.Format(timestampLayout),
			t.ExitTime.Format(timestampLayout),
			string(t.Direction),
			string(t.Category),
			t.Confluence,
			t.EntryPrice,
			t.ExitPrice,
			t.InitialStop,
			t.PnL,
			t.RMultiple,
			string(t.ExitReason),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			fx.SetCellValue(sheet, cell, v)
			style := styles.Base
			if col == 9 {
				style = styles.Currency
			}
			fx.SetCellStyle(sheet, cell, cell, style)
		}
	}
}

func writeEquitySheet(fx *excelize.File, sheet string, curve []backtest.EquityPoint, styles excelStyles) {
	fx.SetColWidth(sheet, "A", "A", 18)
	fx.SetColWidth(sheet, "B", "F", 12)

	headers := []string{"Timestamp", "Bar", "Equity", "Open PnL", "Closed PnL", "Trades"}
	writeHeaderRow(fx, sheet, headers, styles.Header)

	for i, p := range curve {
		values := []interface{}{
			p.Timestamp.Format(timestampLayout),
			p.BarIndex,
			p.Equity,
			p.OpenPnL,
			p.ClosedPnL,
			p.TradeCount,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			fx.SetCellValue(sheet, cell, v)
			style := styles.Base
			if col >= 2 && col <= 4 {
				style = styles.Currency
			}
			fx.SetCellStyle(sheet, cell, cell, style)
		}
	}
}

// WriteBarsXLSX writes raw OHLC bars to a single-sheet Excel workbook.
func WriteBarsXLSX(symbol string, tf marketdata.Timeframe, bars []marketdata.OHLCBar, path string) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars to export for %s %s", symbol, tf)
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	sheet := fmt.Sprintf("%s %s", symbol, tf)
	fx.SetSheetName(fx.GetSheetName(0), sheet)

	styles, err := newExcelStyles(fx)
	if err != nil {
		return err
	}

	fx.SetColWidth(sheet, "A", "A", 18)
	fx.SetColWidth(sheet, "B", "F", 12)

	headers := []string{"Time", "Open", "High", "Low", "Close", "Volume"}
	writeHeaderRow(fx, sheet, headers, styles.Header)

	for i, b := range bars {
		values := []interface{}{
			b.Time.Format(timestampLayout),
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.Volume,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			fx.SetCellValue(sheet, cell, v)
			fx.SetCellStyle(sheet, cell, cell, styles.Base)
		}
	}

	return fx.SaveAs(path)
}
