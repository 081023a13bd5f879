package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fxsync/ratesync/internal/apperrors"
	portssvc "github.com/fxsync/ratesync/internal/core/ports/services"
	"github.com/fxsync/ratesync/internal/dto"
	"github.com/fxsync/ratesync/internal/middleware"
	"github.com/gin-gonic/gin"
)

// ratesHandler handles HTTP requests for exchange-rate queries.
type ratesHandler struct {
	rateService portssvc.RateQuerySvcFacade
}

func newRatesHandler(rs portssvc.RateQuerySvcFacade) *ratesHandler {
	return &ratesHandler{rateService: rs}
}

// registerRateRoutes registers the rate query routes.
func registerRateRoutes(rg *gin.RouterGroup, rateService portssvc.RateQuerySvcFacade) {
	h := newRatesHandler(rateService)

	rates := rg.Group("/rates")
	{
		rates.GET("/:code", h.getCurrentRate)
		rates.GET("/:code/history", h.getRateHistory)
		rates.GET("/:code/stats", h.getRateStatistics)
	}
}

// getCurrentRate returns the latest rate for a currency code.
func (h *ratesHandler) getCurrentRate(c *gin.Context) {
	logger := middleware.GetLoggerFromContext(c)
	code := c.Param("code")
	logger = logger.With(slog.String("currency", code))

	current, err := h.rateService.GetCurrent(c.Request.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrValidation):
			logger.Warn("Invalid currency code", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, apperrors.ErrNotFound):
			logger.Warn("Rate not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Rate not found"})
		default:
			logger.Error("Failed to get rate", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve rate"})
		}
		return
	}

	if current.Stale {
		logger.Warn("Serving stale rate", slog.Time("observed_at", current.Record.ObservedAt))
		c.Header("X-Stale-Response", "true")
	}
	c.JSON(http.StatusOK, dto.ToRateResponse(current))
}

// getRateHistory returns observations within a time window. The window
// defaults to the trailing 24 hours when from/to are omitted.
func (h *ratesHandler) getRateHistory(c *gin.Context) {
	logger := middleware.GetLoggerFromContext(c)
	code := c.Param("code")

	from, to, err := parseWindow(c)
	if err != nil {
		logger.Warn("Invalid history window", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.rateService.GetHistory(c.Request.Context(), code, from, to)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error("Failed to get history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve history"})
		return
	}

	c.JSON(http.StatusOK, dto.ToHistoryResponse(code, from, to, records))
}

// getRateStatistics aggregates a history window. A window that fails the
// data-quality gate is reported as unprocessable rather than answered with
// made-up numbers.
func (h *ratesHandler) getRateStatistics(c *gin.Context) {
	logger := middleware.GetLoggerFromContext(c)
	code := c.Param("code")

	from, to, err := parseWindow(c)
	if err != nil {
		logger.Warn("Invalid statistics window", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.rateService.GetStatistics(c.Request.Context(), code, from, to)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, apperrors.ErrDataInsufficient):
			logger.Warn("Window failed quality gate", slog.String("error", err.Error()))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			logger.Error("Failed to compute statistics", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToStatisticsResponse(stats))
}

// parseWindow binds the from/to query parameters, defaulting to the
// trailing 24 hours when omitted.
func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	var query dto.HistoryWindowQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, to := query.Window(time.Now().UTC())
	return from, to, nil
}
