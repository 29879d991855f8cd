package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"marketpulse/internal/domain"
	"marketpulse/internal/repository"
)

var periodKinds = map[string]domain.PeriodKind{
	"DAILY":    domain.PeriodDaily,
	"WEEKLY":   domain.PeriodWeekly,
	"MONTHLY":  domain.PeriodMonthly,
	"ALL_TIME": domain.PeriodAllTime,
}

// GetPerformance godoc
// @Summary      Strategy performance for one mode
// @Description  Returns the latest aggregated performance for a strategy mode and period
// @Tags         performance
// @Produce      json
// @Param        mode    path   string  true   "Strategy mode (SAFE or AGGRESSIVE)"
// @Param        period  query  string  false  "Period kind (DAILY, WEEKLY, MONTHLY, ALL_TIME; default ALL_TIME)"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/performance/{mode} [get]
func (h *Handler) GetPerformance(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-performance")
	defer span.End()

	mode := domain.StrategyMode(strings.ToUpper(c.Param("mode")))
	if !mode.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be SAFE or AGGRESSIVE"})
		return
	}

	kind, ok := periodKinds[strings.ToUpper(c.DefaultQuery("period", "ALL_TIME"))]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be DAILY, WEEKLY, MONTHLY or ALL_TIME"})
		return
	}

	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("period", string(kind)),
	)

	perf, err := h.strategy.GetLatest(ctx, mode, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no performance recorded for this mode and period"})
			return
		}
		log.Printf("get performance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load performance"})
		return
	}

	c.JSON(http.StatusOK, perf)
}

// ListPerformance godoc
// @Summary      Recent performance periods
// @Description  Returns recent aggregated performance rows across both modes for one period kind
// @Tags         performance
// @Produce      json
// @Param        period  query  string  false  "Period kind (default DAILY)"
// @Param        limit   query  int     false  "Maximum rows (default 30, max 365)"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  map[string]string
// @Router       /api/performance [get]
func (h *Handler) ListPerformance(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-performance")
	defer span.End()

	kind, ok := periodKinds[strings.ToUpper(c.DefaultQuery("period", "DAILY"))]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be DAILY, WEEKLY, MONTHLY or ALL_TIME"})
		return
	}

	limit := 30
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > 365 {
			n = 365
		}
		limit = n
	}

	span.SetAttributes(attribute.String("period", string(kind)), attribute.Int("limit", limit))

	rows, err := h.strategy.ListByKind(ctx, kind, limit)
	if err != nil {
		log.Printf("list performance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list performance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(rows),
		"periods": rows,
	})
}
