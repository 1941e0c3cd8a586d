package marketdata

import "context"

// Provider is the contract concrete market-data sources plug into. A
// successful fetch returns non-empty ascending bars that pass series
// validation; everything else is an error, preferably a *ProviderError so
// the chain can tell rate limits and transient failures apart.
type Provider interface {
	// Config returns the static descriptor used for ordering and limits.
	Config() ProviderConfig

	// FetchOHLC fetches up to periods bars for (symbol, timeframe).
	FetchOHLC(ctx context.Context, symbol string, tf Timeframe, periods int) (*MarketDataResult, error)

	// IsAvailable reports whether the provider can be attempted at all,
	// for example whether a required API key is present.
	IsAvailable() bool
}

// Compile-time interface checks for the built-in providers.
var (
	_ Provider = (*SimulatedProvider)(nil)
	_ Provider = (*YahooProvider)(nil)
	_ Provider = (*BinanceProvider)(nil)
)
