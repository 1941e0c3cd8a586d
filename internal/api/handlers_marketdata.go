package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"market-analysis-engine/internal/marketdata"
)

const (
	defaultPeriods = 100
	maxPeriods     = 1000
)

// handleGetMarketData serves OHLC bars through the provider chain.
// GET /api/market-data?symbol=AAPL&timeframe=1H&periods=100&force_refresh=false
func (s *Server) handleGetMarketData(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	tf := marketdata.Timeframe(c.Query("timeframe"))
	if !tf.Valid() {
		errorResponse(c, http.StatusBadRequest, "invalid timeframe: "+string(tf))
		return
	}

	periods := defaultPeriods
	if raw := c.Query("periods"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPeriods {
			errorResponse(c, http.StatusBadRequest, "periods must be an integer between 1 and 1000")
			return
		}
		periods = parsed
	}

	forceRefresh := false
	if raw := c.Query("force_refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "force_refresh must be a boolean")
			return
		}
		forceRefresh = parsed
	}

	result, err := s.deps.Market.GetOHLC(c.Request.Context(), symbol, tf, periods, forceRefresh)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "market data request cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleProviderStatus reports availability and rate-limit budget for
// every configured provider.
// GET /api/market-data/providers
func (s *Server) handleProviderStatus(c *gin.Context) {
	successResponse(c, gin.H{
		"providers": s.deps.Market.ProviderStatusList(),
	})
}

// handleIngestionStatus reports what the persistence layer holds for a
// symbol. Without a timeframe it covers every timeframe stored for the
// symbol.
// GET /api/market-data/status?symbol=AAPL&timeframe=1H
func (s *Server) handleIngestionStatus(c *gin.Context) {
	store := s.deps.Market.Store()
	if store == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	symbol := c.Query("symbol")
	if symbol == "" {
		symbols, err := store.GetAvailableSymbols(c.Request.Context())
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to list stored symbols")
			return
		}
		successResponse(c, gin.H{"symbols": symbols})
		return
	}

	var timeframes []marketdata.Timeframe
	if raw := c.Query("timeframe"); raw != "" {
		tf := marketdata.Timeframe(raw)
		if !tf.Valid() {
			errorResponse(c, http.StatusBadRequest, "invalid timeframe: "+raw)
			return
		}
		timeframes = []marketdata.Timeframe{tf}
	} else {
		stored, err := store.GetAvailableTimeframes(c.Request.Context(), symbol)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to list stored timeframes")
			return
		}
		timeframes = stored
	}

	statuses := make([]*marketdata.IngestionStatus, 0, len(timeframes))
	for _, tf := range timeframes {
		status, err := store.GetIngestionStatus(c.Request.Context(), symbol, tf)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to read ingestion status")
			return
		}
		statuses = append(statuses, status)
	}

	successResponse(c, gin.H{
		"symbol":   symbol,
		"statuses": statuses,
	})
}

// handleInvalidateCache drops cached market data for a symbol, or for a
// single symbol/timeframe pair when a timeframe is given.
// DELETE /api/market-data/cache?symbol=AAPL&timeframe=1H
func (s *Server) handleInvalidateCache(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	var tf marketdata.Timeframe
	if raw := c.Query("timeframe"); raw != "" {
		tf = marketdata.Timeframe(raw)
		if !tf.Valid() {
			errorResponse(c, http.StatusBadRequest, "invalid timeframe: "+raw)
			return
		}
	}
	invalidated := s.deps.Market.InvalidateCache(symbol, tf)

	s.logger.Info().
		Str("symbol", symbol).
		Int("invalidated", invalidated).
		Msg("Cache invalidated")

	successResponse(c, gin.H{
		"symbol":      symbol,
		"invalidated": invalidated,
	})
}
