// Package marketdata implements OHLC acquisition: a TTL cache, per-provider
// rate limiting, priority-ordered provider fallback and optional
// persistence-backed fill, behind a single GetOHLC operation.
package marketdata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Timeframe identifies one bar interval from the closed supported set.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1H  Timeframe = "1H"
	Timeframe4H  Timeframe = "4H"
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
	Timeframe1M  Timeframe = "1M"
)

// Timeframes lists the supported set ordered finest to coarsest.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m,
	Timeframe1H, Timeframe4H, Timeframe1D, Timeframe1W, Timeframe1M,
}

// Hierarchy lists timeframes coarsest first. Cascade analysis walks this
// order when it maps diverging timeframes to reversal stages.
var Hierarchy = []Timeframe{
	Timeframe1M, Timeframe1W, Timeframe1D, Timeframe4H,
	Timeframe1H, Timeframe15m, Timeframe5m, Timeframe3m, Timeframe1m,
}

// Valid reports whether tf belongs to the supported set.
func (tf Timeframe) Valid() bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Intraday reports whether bars of this timeframe carry Unix-second
// timestamps on the wire. Daily and coarser bars use ISO date strings.
func (tf Timeframe) Intraday() bool {
	switch tf {
	case Timeframe1D, Timeframe1W, Timeframe1M:
		return false
	default:
		return true
	}
}

// Duration returns the nominal span of one bar. Months count as 30 days.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe3m:
		return 3 * time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1H:
		return time.Hour
	case Timeframe4H:
		return 4 * time.Hour
	case Timeframe1D:
		return 24 * time.Hour
	case Timeframe1W:
		return 7 * 24 * time.Hour
	case Timeframe1M:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CacheTTL returns how long a fetched result stays fresh for this
// timeframe.
func (tf Timeframe) CacheTTL() time.Duration {
	switch tf {
	case Timeframe1m, Timeframe3m:
		return 30 * time.Second
	case Timeframe5m:
		return 45 * time.Second
	case Timeframe15m:
		return 60 * time.Second
	case Timeframe1H:
		return 120 * time.Second
	case Timeframe4H:
		return 300 * time.Second
	case Timeframe1D:
		return 900 * time.Second
	case Timeframe1W, Timeframe1M:
		return 3600 * time.Second
	default:
		return 300 * time.Second
	}
}

// HierarchyIndex returns tf's position in Hierarchy, coarsest first, or -1
// when tf is not supported.
func HierarchyIndex(tf Timeframe) int {
	for i, t := range Hierarchy {
		if t == tf {
			return i
		}
	}
	return -1
}

// ============================================================================
// BAR TIME
// ============================================================================

// BarTime is a bar timestamp plus its wire encoding. Daily and coarser bars
// encode as "YYYY-MM-DD"; intraday bars encode as Unix seconds.
type BarTime struct {
	time.Time
	Daily bool
}

// NewBarTime builds a BarTime for the given timeframe.
func NewBarTime(t time.Time, tf Timeframe) BarTime {
	return BarTime{Time: t.UTC(), Daily: !tf.Intraday()}
}

// MarshalJSON encodes daily bars as an ISO date string and intraday bars as
// Unix seconds.
func (bt BarTime) MarshalJSON() ([]byte, error) {
	if bt.Daily {
		return []byte(`"` + bt.Format("2006-01-02") + `"`), nil
	}
	return []byte(strconv.FormatInt(bt.Unix(), 10)), nil
}

// UnmarshalJSON accepts either wire form: a bare number is Unix seconds, a
// string is parsed as an ISO date in UTC.
func (bt *BarTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty bar time")
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("invalid bar time %q: %w", data, err)
		}
		t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid bar date %q: %w", s, err)
		}
		bt.Time = t
		bt.Daily = true
		return nil
	}
	secs, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid bar timestamp %q: %w", data, err)
	}
	bt.Time = time.Unix(secs, 0).UTC()
	bt.Daily = false
	return nil
}

// ============================================================================
// OHLC BARS
// ============================================================================

// OHLCBar is one immutable period summary. Sequences handed between
// components are always ascending in time with no duplicates.
type OHLCBar struct {
	Time   BarTime `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// Validate checks the single-bar invariants.
func (b OHLCBar) Validate() error {
	if b.Low > b.Open || b.Open > b.High {
		return fmt.Errorf("open %f outside [%f, %f]", b.Open, b.Low, b.High)
	}
	if b.Low > b.Close || b.Close > b.High {
		return fmt.Errorf("close %f outside [%f, %f]", b.Close, b.Low, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %f", b.Volume)
	}
	return nil
}

// ValidateSeries checks per-bar invariants plus ascending order without
// duplicates.
func ValidateSeries(bars []OHLCBar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bars[i-1].Time.Before(b.Time.Time) {
			return fmt.Errorf("bar %d: time %v not after previous %v",
				i, b.Time.Time, bars[i-1].Time.Time)
		}
	}
	return nil
}

// Closes extracts the close series.
func Closes(bars []OHLCBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs extracts the high series.
func Highs(bars []OHLCBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low series.
func Lows(bars []OHLCBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(bars []OHLCBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// ============================================================================
// RESULTS AND PROVIDER DESCRIPTORS
// ============================================================================

// MarketStatus reports whether the venue behind a result was trading.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusUnknown MarketStatus = "unknown"
)

// MarketDataResult is the outcome of one acquisition attempt. Error results
// carry Success=false and are never cached.
type MarketDataResult struct {
	Success            bool         `json:"success"`
	Symbol             string       `json:"symbol"`
	Timeframe          Timeframe    `json:"timeframe"`
	Data               []OHLCBar    `json:"data,omitempty"`
	ProviderName       string       `json:"provider_name,omitempty"`
	Cached             bool         `json:"cached"`
	CacheExpiresAt     *time.Time   `json:"cache_expires_at,omitempty"`
	RateLimitRemaining *float64     `json:"rate_limit_remaining,omitempty"`
	MarketStatus       MarketStatus `json:"market_status"`
	Error              string       `json:"error,omitempty"`
}

// ErrorResult builds a failure-shaped result.
func ErrorResult(symbol string, tf Timeframe, err error) *MarketDataResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &MarketDataResult{
		Success:      false,
		Symbol:       symbol,
		Timeframe:    tf,
		MarketStatus: MarketStatusUnknown,
		Error:        msg,
	}
}

// Unlimited is the rate-limit value meaning no hourly cap.
var Unlimited = math.Inf(1)

// SimulatedPriority orders the built-in simulated provider after every real
// provider.
const SimulatedPriority = 999

// ProviderConfig describes one provider to the service. Lower Priority wins.
type ProviderConfig struct {
	Name             string
	Priority         int
	RateLimitPerHour float64
	RequiresAPIKey   bool
}

// RateLimited reports whether the provider carries an hourly cap.
func (c ProviderConfig) RateLimited() bool {
	return !math.IsInf(c.RateLimitPerHour, 1)
}

// ProviderStatus is the externally visible state of one provider. Nil rate
// fields mean unlimited.
type ProviderStatus struct {
	Name               string   `json:"name"`
	Priority           int      `json:"priority"`
	Available          bool     `json:"available"`
	RequiresAPIKey     bool     `json:"requires_api_key"`
	RateLimitPerHour   *float64 `json:"rate_limit_per_hour,omitempty"`
	RateLimitRemaining *float64 `json:"rate_limit_remaining,omitempty"`
	BreakerState       string   `json:"breaker_state"`
}
