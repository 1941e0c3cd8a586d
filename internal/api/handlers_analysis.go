package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"market-analysis-engine/internal/analysis"
	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/workflow"
)

// parseTimeframes splits a comma-separated timeframe list. Validation is
// left to the workflow layer, which reports bad values in-band.
func parseTimeframes(raw string) []marketdata.Timeframe {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tfs := make([]marketdata.Timeframe, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tfs = append(tfs, marketdata.Timeframe(part))
	}
	return tfs
}

// handleAnalyze runs the full pipeline: acquisition, structure, Fibonacci
// and signal detection in one response.
// POST /api/analyze
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analysis.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	response, err := s.deps.Analysis.Analyze(c.Request.Context(), req)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "analysis cancelled")
		return
	}

	c.JSON(http.StatusOK, response)
}

// handleAssessTrend reads trend, phase and confidence for one timeframe.
// GET /api/workflow/trend?symbol=AAPL&timeframe=1D
func (s *Server) handleAssessTrend(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := marketdata.Timeframe(c.Query("timeframe"))

	assessment, err := s.deps.Workflow.AssessTrend(c.Request.Context(), symbol, tf)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "trend assessment cancelled")
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// handleCheckAlignment compares trend reads across timeframes.
// GET /api/workflow/alignment?symbol=AAPL&timeframes=1D,4H,1H
func (s *Server) handleCheckAlignment(c *gin.Context) {
	symbol := c.Query("symbol")
	tfs := parseTimeframes(c.Query("timeframes"))

	result, err := s.deps.Workflow.CheckTimeframeAlignment(c.Request.Context(), symbol, tfs)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "alignment check cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleFibonacciLevels returns the confirmed swing with its retracement
// and extension grids. Direction defaults to buy.
// GET /api/workflow/fibonacci?symbol=AAPL&timeframe=1D&direction=buy
func (s *Server) handleFibonacciLevels(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := marketdata.Timeframe(c.Query("timeframe"))

	dir := fibonacci.Direction(c.DefaultQuery("direction", string(fibonacci.DirectionBuy)))

	result, err := s.deps.Workflow.IdentifyFibonacciLevels(c.Request.Context(), symbol, tf, dir)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "level identification cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleIndicatorConfirmation computes the indicator read for one
// symbol and timeframe.
// GET /api/workflow/indicators?symbol=AAPL&timeframe=1D
func (s *Server) handleIndicatorConfirmation(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := marketdata.Timeframe(c.Query("timeframe"))

	result, err := s.deps.Workflow.ConfirmWithIndicators(c.Request.Context(), symbol, tf)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "indicator confirmation cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}

// categorizeRequest is the wire form of a categorization request. The
// lower-timeframe trend is accepted for callers that track it, but
// categorization keys off the higher-timeframe trend only.
type categorizeRequest struct {
	HigherTrend workflow.TrendDirection `json:"higher_trend"`
	LowerTrend  workflow.TrendDirection `json:"lower_trend"`
	Direction   workflow.Action         `json:"direction"`
	Confluence  int                     `json:"confluence"`
}

// handleCategorizeTrade classifies a prospective trade against the
// higher-timeframe trend and returns its risk multiplier.
// POST /api/workflow/categorize
func (s *Server) handleCategorizeTrade(c *gin.Context) {
	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch req.HigherTrend {
	case workflow.TrendBullish, workflow.TrendBearish, workflow.TrendNeutral:
	default:
		errorResponse(c, http.StatusBadRequest, "higher_trend must be bullish, bearish or neutral")
		return
	}
	if req.Direction != workflow.ActionLong && req.Direction != workflow.ActionShort {
		errorResponse(c, http.StatusBadRequest, "direction must be LONG or SHORT")
		return
	}

	category := workflow.CategorizeTrade(req.HigherTrend, req.Direction, req.Confluence)

	successResponse(c, gin.H{
		"category":        category,
		"risk_multiplier": category.RiskMultiplier(),
	})
}

// handleScanOpportunities fans symbols across timeframe pairs and
// collects actionable setups.
// POST /api/workflow/scan
func (s *Server) handleScanOpportunities(c *gin.Context) {
	var req workflow.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Workflow.ScanOpportunities(c.Request.Context(), req)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "scan cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleValidateTrade runs the pre-trade checklist.
// POST /api/workflow/validate
func (s *Server) handleValidateTrade(c *gin.Context) {
	var req workflow.ValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Workflow.ValidateTrade(c.Request.Context(), req)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "validation cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleDetectCascade stages a possible top-down reversal across the
// requested timeframes.
// GET /api/workflow/cascade?symbol=AAPL&timeframes=1W,1D,4H,1H
func (s *Server) handleDetectCascade(c *gin.Context) {
	symbol := c.Query("symbol")
	tfs := parseTimeframes(c.Query("timeframes"))

	result, err := s.deps.Workflow.DetectCascade(c.Request.Context(), symbol, tfs)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "cascade detection cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}
