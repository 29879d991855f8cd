package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"marketpulse/internal/domain"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 500
)

// ListSignals godoc
// @Summary      List generated signals
// @Description  Returns recent signals, newest first, optionally filtered by symbol and mode
// @Tags         signals
// @Produce      json
// @Param        symbol  query  string  false  "Filter by symbol"
// @Param        mode    query  string  false  "Filter by strategy mode (SAFE or AGGRESSIVE)"
// @Param        limit   query  int     false  "Maximum number of signals (default 50, max 500)"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  map[string]string
// @Router       /api/signals [get]
func (h *Handler) ListSignals(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-signals")
	defer span.End()

	filter := domain.SignalFilter{
		Symbol: c.Query("symbol"),
		Limit:  defaultSignalLimit,
	}

	if mode := c.Query("mode"); mode != "" {
		filter.Mode = domain.StrategyMode(mode)
		if !filter.Mode.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be SAFE or AGGRESSIVE"})
			return
		}
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > maxSignalLimit {
			n = maxSignalLimit
		}
		filter.Limit = n
	}

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		filter.From = t
	}

	span.SetAttributes(
		attribute.String("symbol", filter.Symbol),
		attribute.String("mode", string(filter.Mode)),
		attribute.Int("limit", filter.Limit),
	)

	signals, err := h.signals.ListSignals(ctx, filter)
	if err != nil {
		log.Printf("list signals failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list signals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(signals),
		"signals": signals,
	})
}
