package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// SimulatedProvider is the built-in always-available fallback. It serves a
// fixed symbol set with synthetic OHLC generated by a seeded random walk,
// so repeated fetches for the same (symbol, timeframe) shape the same
// series. It never rate-limits and never fails for supported symbols.
type SimulatedProvider struct {
	prices map[string]float64
	now    func() time.Time
}

// NewSimulatedProvider creates the fallback provider with realistic base
// prices for the supported symbols.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{
		prices: map[string]float64{
			"DJI":    39500.00,
			"SPX":    5300.00,
			"NDX":    18500.00,
			"AAPL":   195.00,
			"MSFT":   420.00,
			"NVDA":   1150.00,
			"TSLA":   180.00,
			"EURUSD": 1.08,
			"GBPUSD": 1.27,
			"USDJPY": 155.00,
			"XAUUSD": 2350.00,
			"BTCUSD": 67000.00,
			"ETHUSD": 3500.00,
		},
		now: time.Now,
	}
}

// Config implements Provider. The simulated provider sorts after every
// real provider and carries no rate limit.
func (p *SimulatedProvider) Config() ProviderConfig {
	return ProviderConfig{
		Name:             "simulated",
		Priority:         SimulatedPriority,
		RateLimitPerHour: Unlimited,
		RequiresAPIKey:   false,
	}
}

// IsAvailable implements Provider.
func (p *SimulatedProvider) IsAvailable() bool {
	return true
}

// SupportedSymbols lists the symbols the provider can serve.
func (p *SimulatedProvider) SupportedSymbols() []string {
	out := make([]string, 0, len(p.prices))
	for s := range p.prices {
		out = append(out, s)
	}
	return out
}

// FetchOHLC implements Provider. Unknown symbols fail; supported symbols
// always succeed.
func (p *SimulatedProvider) FetchOHLC(ctx context.Context, symbol string, tf Timeframe, periods int) (*MarketDataResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "simulated", Code: ErrCodeCancelled, Message: "cancelled", Cause: err}
	}
	base, ok := p.prices[symbol]
	if !ok {
		return nil, &ProviderError{
			Provider: "simulated",
			Code:     ErrCodeInvalidSymbol,
			Message:  fmt.Sprintf("symbol %s not supported", symbol),
			Cause:    ErrUnknownSymbol,
		}
	}
	if !tf.Valid() {
		return nil, &ProviderError{
			Provider: "simulated",
			Code:     ErrCodeInvalidData,
			Message:  fmt.Sprintf("timeframe %s not supported", tf),
			Cause:    ErrInvalidTimeframe,
		}
	}
	if periods <= 0 {
		return nil, &ProviderError{
			Provider: "simulated",
			Code:     ErrCodeInvalidData,
			Message:  "periods must be positive",
			Cause:    ErrInvalidPeriods,
		}
	}

	bars := p.generate(symbol, tf, periods, base)
	return &MarketDataResult{
		Success:      true,
		Symbol:       symbol,
		Timeframe:    tf,
		Data:         bars,
		ProviderName: "simulated",
		MarketStatus: MarketStatusOpen,
	}, nil
}

// generate builds a random-walk series anchored to the current bar
// boundary, seeded per (symbol, timeframe) so the shape is reproducible.
func (p *SimulatedProvider) generate(symbol string, tf Timeframe, periods int, base float64) []OHLCBar {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(":"))
	h.Write([]byte(tf))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	interval := tf.Duration()
	end := p.now().UTC().Truncate(interval)

	const volatility = 0.02
	bars := make([]OHLCBar, periods)
	price := base
	for i := 0; i < periods; i++ {
		barTime := end.Add(-time.Duration(periods-i) * interval)

		open := price
		change := (rng.Float64() - 0.5) * volatility * 2
		closePrice := open * (1 + change)

		high := math.Max(open, closePrice) * (1 + rng.Float64()*volatility*0.5)
		low := math.Min(open, closePrice) * (1 - rng.Float64()*volatility*0.5)
		volume := base * (1000 + rng.Float64()*5000)

		bars[i] = OHLCBar{
			Time:   NewBarTime(barTime, tf),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		}
		price = closePrice
	}
	return bars
}
