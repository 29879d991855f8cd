package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"marketpulse/internal/domain"
)

type modelSummary struct {
	ModelKey        string     `json:"model_key"`
	Version         int        `json:"version"`
	TrainedAt       time.Time  `json:"trained_at"`
	TrainScore      float64    `json:"train_score"`
	HoldoutScore    float64    `json:"holdout_score"`
	OverfitDetected bool       `json:"overfit_detected"`
	RecordsUsed     int        `json:"records_used"`
	IsActive        bool       `json:"is_active"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
}

func summarizeModel(m *domain.ModelState) modelSummary {
	return modelSummary{
		ModelKey:        m.ModelKey,
		Version:         m.Version,
		TrainedAt:       m.TrainedAt,
		TrainScore:      m.TrainScore,
		HoldoutScore:    m.HoldoutScore,
		OverfitDetected: m.OverfitDetected,
		RecordsUsed:     m.RecordsUsed,
		IsActive:        m.IsActive,
		ActivatedAt:     m.ActivatedAt,
	}
}

// GetModelStatus godoc
// @Summary      Model status
// @Description  Returns the active version for a model key, falling back to the latest trained version
// @Tags         models
// @Produce      json
// @Param        key  path  string  true  "Model key"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /api/models/{key} [get]
func (h *Handler) GetModelStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-model-status")
	defer span.End()

	key := c.Param("key")
	span.SetAttributes(attribute.String("model_key", key))

	active, err := h.models.GetActive(ctx, key)
	if err != nil {
		log.Printf("get active model %s failed: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load model"})
		return
	}
	if active != nil {
		c.JSON(http.StatusOK, gin.H{"model": summarizeModel(active)})
		return
	}

	latest, err := h.models.GetLatest(ctx, key)
	if err != nil {
		log.Printf("get latest model %s failed: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load model"})
		return
	}
	if latest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no versions recorded for model " + key})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model":   summarizeModel(latest),
		"warning": "no active version; showing latest trained",
	})
}

type trainResultView struct {
	ModelKey     string  `json:"model_key"`
	Version      int     `json:"version"`
	SampleCount  int     `json:"sample_count"`
	HoldoutCount int     `json:"holdout_count"`
	TrainScore   float64 `json:"train_score"`
	HoldoutScore float64 `json:"holdout_score"`
	Overfit      bool    `json:"overfit"`
	Promoted     bool    `json:"promoted"`
	Error        string  `json:"error,omitempty"`
}

// TriggerTraining godoc
// @Summary      Trigger a training run
// @Description  Trains all registered models on the labeled history and reports per-model results
// @Tags         models
// @Produce      json
// @Security     ApiKeyAuth
// @Success      200  {object}  map[string]any
// @Failure      503  {object}  map[string]string
// @Router       /api/models/train [post]
func (h *Handler) TriggerTraining(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-training")
	defer span.End()

	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training is not configured"})
		return
	}

	results, err := h.trainer.TrainAll(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("training run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "training run failed"})
		return
	}

	views := make([]trainResultView, 0, len(results))
	for _, r := range results {
		v := trainResultView{
			ModelKey:     r.ModelKey,
			Version:      r.Version,
			SampleCount:  r.SampleCount,
			HoldoutCount: r.HoldoutCount,
			TrainScore:   r.TrainScore,
			HoldoutScore: r.HoldoutScore,
			Overfit:      r.Overfit,
			Promoted:     r.Promoted,
		}
		if r.PromoteError != nil {
			v.Error = r.PromoteError.Error()
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(views),
		"results": views,
	})
}
