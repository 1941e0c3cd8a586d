package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// BinanceProvider fetches klines from the public Binance REST API. The
// endpoint needs no API key for market data; Priority and the hourly cap
// come from configuration.
type BinanceProvider struct {
	baseURL    string
	httpClient *http.Client
	config     ProviderConfig
	aliases    map[string]string
}

// NewBinanceProvider creates the provider. aliases maps engine symbols to
// Binance pairs (for example BTCUSD to BTCUSDT).
func NewBinanceProvider(priority int, rateLimitPerHour float64, aliases map[string]string) *BinanceProvider {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &BinanceProvider{
		baseURL:    "https://api.binance.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		config: ProviderConfig{
			Name:             "binance",
			Priority:         priority,
			RateLimitPerHour: rateLimitPerHour,
			RequiresAPIKey:   false,
		},
		aliases: aliases,
	}
}

// Config implements Provider.
func (p *BinanceProvider) Config() ProviderConfig {
	return p.config
}

// IsAvailable implements Provider.
func (p *BinanceProvider) IsAvailable() bool {
	return true
}

// binanceInterval maps a timeframe to Binance's interval token. Binance
// spells hours and months differently from the engine.
func binanceInterval(tf Timeframe) string {
	switch tf {
	case Timeframe1H:
		return "1h"
	case Timeframe4H:
		return "4h"
	case Timeframe1D:
		return "1d"
	case Timeframe1W:
		return "1w"
	case Timeframe1M:
		return "1M"
	default:
		return string(tf)
	}
}

// FetchOHLC implements Provider.
func (p *BinanceProvider) FetchOHLC(ctx context.Context, symbol string, tf Timeframe, periods int) (*MarketDataResult, error) {
	pair := symbol
	if alias, ok := p.aliases[symbol]; ok {
		pair = alias
	}

	limit := periods
	if limit > 1000 {
		limit = 1000
	}

	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("interval", binanceInterval(tf))
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewProviderError("binance", ErrCodeAPIError, "building request failed", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ProviderError{Provider: "binance", Code: ErrCodeCancelled, Message: "cancelled", Cause: ctx.Err()}
		}
		return nil, NewProviderError("binance", ErrCodeNetworkError, "klines request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError("binance", ErrCodeNetworkError, "reading response failed", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		return nil, &ProviderError{
			Provider:    "binance",
			Code:        ErrCodeRateLimit,
			Message:     "upstream rate limit",
			RateLimited: true,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError("binance", ErrCodeAPIError,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, NewProviderError("binance", ErrCodeInvalidData, "parsing klines failed", err)
	}
	if len(rawKlines) == 0 {
		return nil, &ProviderError{
			Provider: "binance",
			Code:     ErrCodeInsufficientData,
			Message:  fmt.Sprintf("no data for %s %s", symbol, tf),
		}
	}

	bars := make([]OHLCBar, 0, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 6 {
			return nil, NewProviderError("binance", ErrCodeInvalidData,
				fmt.Sprintf("kline %d too short", i), nil)
		}
		openMillis, ok := raw[0].(float64)
		if !ok {
			return nil, NewProviderError("binance", ErrCodeInvalidData,
				fmt.Sprintf("kline %d has no open time", i), nil)
		}
		bars = append(bars, OHLCBar{
			Time:   NewBarTime(time.Unix(int64(openMillis)/1000, 0).UTC(), tf),
			Open:   parseKlineFloat(raw[1]),
			High:   parseKlineFloat(raw[2]),
			Low:    parseKlineFloat(raw[3]),
			Close:  parseKlineFloat(raw[4]),
			Volume: parseKlineFloat(raw[5]),
		})
	}

	return &MarketDataResult{
		Success:      true,
		Symbol:       symbol,
		Timeframe:    tf,
		Data:         bars,
		ProviderName: "binance",
		MarketStatus: MarketStatusOpen,
	}, nil
}

// parseKlineFloat handles Binance's string-encoded numerics.
func parseKlineFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}
