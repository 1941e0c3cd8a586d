package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"market-analysis-engine/internal/backtest"
	"market-analysis-engine/internal/database"
)

// handleRunBacktest runs a full simulation and, when persistence is
// configured, records a summary row for later listing.
// POST /api/backtest
func (s *Server) handleRunBacktest(c *gin.Context) {
	var cfg backtest.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Engine.Run(c.Request.Context(), cfg)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "backtest cancelled")
		return
	}

	if result.Success && s.deps.Runs != nil {
		record := database.NewBacktestRunRecord(result)
		if err := s.deps.Runs.SaveRun(c.Request.Context(), record); err != nil {
			s.logger.Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to persist backtest run")
		}
	}

	c.JSON(http.StatusOK, result)
}

// handleListBacktestRuns lists persisted run summaries, newest first.
// GET /api/backtest/runs?symbol=AAPL&limit=50
func (s *Server) handleListBacktestRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := s.deps.Runs.ListRuns(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list backtest runs")
		return
	}

	successResponse(c, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetBacktestRun fetches one persisted run summary by ID.
// GET /api/backtest/runs/:id
func (s *Server) handleGetBacktestRun(c *gin.Context) {
	if s.deps.Runs == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	id := c.Param("id")
	run, err := s.deps.Runs.GetRun(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load backtest run")
		return
	}
	if run == nil {
		errorResponse(c, http.StatusNotFound, "backtest run not found: "+id)
		return
	}

	successResponse(c, run)
}

// handleOptimize runs walk-forward optimization over a parameter grid.
// POST /api/backtest/optimize
func (s *Server) handleOptimize(c *gin.Context) {
	var cfg backtest.OptimizationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Optimizer.Optimize(c.Request.Context(), cfg)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "optimization cancelled")
		return
	}

	c.JSON(http.StatusOK, result)
}
