package handler

import (
	"context"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/ml/training"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type SignalReader interface {
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type StrategyReader interface {
	GetLatest(ctx context.Context, mode domain.StrategyMode, kind domain.PeriodKind) (*domain.StrategyPerformance, error)
	ListByKind(ctx context.Context, kind domain.PeriodKind, limit int) ([]domain.StrategyPerformance, error)
}

type ModelReader interface {
	GetActive(ctx context.Context, modelKey string) (*domain.ModelState, error)
	GetLatest(ctx context.Context, modelKey string) (*domain.ModelState, error)
}

type TrainingRunner interface {
	TrainAll(ctx context.Context, now time.Time) ([]training.TrainResult, error)
}

type Handler struct {
	tracer   trace.Tracer
	signals  SignalReader
	strategy StrategyReader
	models   ModelReader
	trainer  TrainingRunner
}

func New(tracer trace.Tracer, signals SignalReader, strategy StrategyReader, models ModelReader, trainer TrainingRunner) *Handler {
	return &Handler{
		tracer:   tracer,
		signals:  signals,
		strategy: strategy,
		models:   models,
		trainer:  trainer,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/signals", h.ListSignals)
	api.GET("/performance/:mode", h.GetPerformance)
	api.GET("/performance", h.ListPerformance)
	api.GET("/models/:key", h.GetModelStatus)

	protected := api.Group("", APIKeyAuth(apiKey))
	protected.POST("/models/train", h.TriggerTraining)
}
