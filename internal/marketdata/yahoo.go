package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// yahooChartResponse mirrors the v8 finance chart payload.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				DataGranularity string `json:"dataGranularity"`
				Range           string `json:"range"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooProvider fetches bars from the Yahoo Finance chart API. No API key
// required; Yahoo tolerates roughly 2000 requests per hour per IP, which is
// the default cap configured for it.
type YahooProvider struct {
	baseURL    string
	httpClient *http.Client
	config     ProviderConfig
	aliases    map[string]string
}

// NewYahooProvider creates the provider. aliases maps engine symbols to
// Yahoo tickers (for example DJI to ^DJI); unmapped symbols pass through.
func NewYahooProvider(priority int, rateLimitPerHour float64, aliases map[string]string) *YahooProvider {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &YahooProvider{
		baseURL:    "https://query1.finance.yahoo.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		config: ProviderConfig{
			Name:             "yahoo",
			Priority:         priority,
			RateLimitPerHour: rateLimitPerHour,
			RequiresAPIKey:   false,
		},
		aliases: aliases,
	}
}

// Config implements Provider.
func (p *YahooProvider) Config() ProviderConfig {
	return p.config
}

// IsAvailable implements Provider.
func (p *YahooProvider) IsAvailable() bool {
	return true
}

// yahooInterval maps a timeframe to Yahoo's interval token. Yahoo serves
// no 3m or 4H granularity.
func yahooInterval(tf Timeframe) (string, bool) {
	switch tf {
	case Timeframe1m:
		return "1m", true
	case Timeframe5m:
		return "5m", true
	case Timeframe15m:
		return "15m", true
	case Timeframe1H:
		return "60m", true
	case Timeframe1D:
		return "1d", true
	case Timeframe1W:
		return "1wk", true
	case Timeframe1M:
		return "1mo", true
	default:
		return "", false
	}
}

// yahooRange picks the smallest chart range covering periods bars.
func yahooRange(tf Timeframe, periods int) string {
	span := time.Duration(periods) * tf.Duration()
	days := span.Hours() / 24
	switch {
	case days <= 1 && tf.Intraday():
		return "1d"
	case days <= 5 && tf.Intraday():
		return "5d"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	case days <= 730:
		return "2y"
	case days <= 1825:
		return "5y"
	case days <= 3650:
		return "10y"
	default:
		return "max"
	}
}

// FetchOHLC implements Provider.
func (p *YahooProvider) FetchOHLC(ctx context.Context, symbol string, tf Timeframe, periods int) (*MarketDataResult, error) {
	interval, ok := yahooInterval(tf)
	if !ok {
		return nil, &ProviderError{
			Provider: "yahoo",
			Code:     ErrCodeInvalidData,
			Message:  fmt.Sprintf("timeframe %s not served", tf),
		}
	}

	ticker := symbol
	if alias, ok := p.aliases[symbol]; ok {
		ticker = alias
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		p.baseURL, url.PathEscape(ticker), yahooRange(tf, periods), interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewProviderError("yahoo", ErrCodeAPIError, "building request failed", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ProviderError{Provider: "yahoo", Code: ErrCodeCancelled, Message: "cancelled", Cause: ctx.Err()}
		}
		return nil, NewProviderError("yahoo", ErrCodeNetworkError, "chart request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError("yahoo", ErrCodeNetworkError, "reading response failed", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ProviderError{
			Provider:    "yahoo",
			Code:        ErrCodeRateLimit,
			Message:     "upstream rate limit",
			RateLimited: true,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError("yahoo", ErrCodeAPIError,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}

	var chart yahooChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, NewProviderError("yahoo", ErrCodeInvalidData, "parsing chart payload failed", err)
	}
	if chart.Chart.Error != nil {
		return nil, NewProviderError("yahoo", ErrCodeAPIError, chart.Chart.Error.Description, nil)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, &ProviderError{
			Provider: "yahoo",
			Code:     ErrCodeInsufficientData,
			Message:  fmt.Sprintf("no data for %s %s", symbol, tf),
		}
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, &ProviderError{
			Provider: "yahoo",
			Code:     ErrCodeInvalidData,
			Message:  "chart payload missing quote block",
		}
	}
	quote := result.Indicators.Quote[0]

	bars := make([]OHLCBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		// Yahoo pads unfinished or halted bars with zeros.
		if quote.Close[i] <= 0 {
			continue
		}
		volume := 0.0
		if i < len(quote.Volume) {
			volume = quote.Volume[i]
		}
		bars = append(bars, OHLCBar{
			Time:   NewBarTime(time.Unix(ts, 0).UTC(), tf),
			Open:   quote.Open[i],
			High:   quote.High[i],
			Low:    quote.Low[i],
			Close:  quote.Close[i],
			Volume: volume,
		})
	}
	if len(bars) == 0 {
		return nil, &ProviderError{
			Provider: "yahoo",
			Code:     ErrCodeInsufficientData,
			Message:  fmt.Sprintf("no usable bars for %s %s", symbol, tf),
		}
	}
	if len(bars) > periods {
		bars = bars[len(bars)-periods:]
	}

	return &MarketDataResult{
		Success:      true,
		Symbol:       symbol,
		Timeframe:    tf,
		Data:         bars,
		ProviderName: "yahoo",
		MarketStatus: MarketStatusUnknown,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
