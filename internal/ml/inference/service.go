// Package inference serves success probabilities to the signal generator.
// When no model version is active the deterministic heuristic answers
// instead; the scan pipeline never blocks on model availability.
package inference

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/features"
	"marketpulse/internal/ml/models/boost"
	"marketpulse/internal/ml/models/logreg"
	"marketpulse/internal/ml/training"

	"go.opentelemetry.io/otel/trace"
)

type ModelRegistry interface {
	GetActive(ctx context.Context, modelKey string) (*domain.ModelState, error)
}

type predictor interface {
	PredictProb(sample []float64) float64
}

type Service struct {
	tracer   trace.Tracer
	registry ModelRegistry

	mu        sync.Mutex
	loaded    predictor
	loadedKey string
	loadedVer int
	loadedAt  time.Time
	cacheTTL  time.Duration
}

func NewService(tracer trace.Tracer, registry ModelRegistry) *Service {
	return &Service{
		tracer:   tracer,
		registry: registry,
		cacheTTL: 5 * time.Minute,
	}
}

// Prob returns the success probability for a feature snapshot and the model
// version that produced it. Version 0 means the heuristic answered.
func (s *Service) Prob(ctx context.Context, fs domain.FeatureSet) (float64, int) {
	ctx, span := s.tracer.Start(ctx, "inference.prob")
	defer span.End()

	model, version := s.activeModel(ctx)
	if model == nil {
		return HeuristicProb(fs), 0
	}
	return model.PredictProb(features.Vector(fs)), version
}

// EnhanceScore blends the rule-based score with the model probability,
// weighting the model at 60%. Both sides live on [0,1].
func (s *Service) EnhanceScore(ctx context.Context, baseScore float64, fs domain.FeatureSet) float64 {
	prob, _ := s.Prob(ctx, fs)
	base := math.Min(math.Max(baseScore, 0), 1)
	return base*0.4 + prob*0.6
}

func (s *Service) activeModel(ctx context.Context) (predictor, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded != nil && time.Since(s.loadedAt) < s.cacheTTL {
		return s.loaded, s.loadedVer
	}

	// Prefer the boosted model, fall back to logreg, then heuristic.
	for _, key := range []string{training.ModelKeyBoost, training.ModelKeyLogReg} {
		state, err := s.registry.GetActive(ctx, key)
		if err != nil || state == nil || len(state.ArtifactBlob) == 0 {
			continue
		}
		model, err := decodeArtifact(key, state.ArtifactBlob)
		if err != nil {
			continue
		}
		s.loaded = model
		s.loadedKey = key
		s.loadedVer = state.Version
		s.loadedAt = time.Now()
		return s.loaded, s.loadedVer
	}
	s.loaded = nil
	s.loadedAt = time.Now()
	return nil, 0
}

func decodeArtifact(modelKey string, blob []byte) (predictor, error) {
	switch modelKey {
	case training.ModelKeyBoost:
		return boost.UnmarshalBinary(blob)
	case training.ModelKeyLogReg:
		return logreg.UnmarshalBinary(blob)
	default:
		return nil, fmt.Errorf("unknown model key %q", modelKey)
	}
}

// HeuristicProb is the deterministic fallback: a bounded adjustment around a
// 0.5 base from momentum strength, relative volume, and breakout quality.
// Feature units are percent (momentum 1.0 means a 1% move).
func HeuristicProb(fs domain.FeatureSet) float64 {
	momentum := math.Abs(fs["momentum"])
	volumeRatio := fs["volume_ratio"]
	breakout := fs["breakout_pct"]

	score := 0.5

	if momentum >= 1 && momentum <= 5 {
		score += 0.2
	}
	if volumeRatio > 1.5 {
		score += 0.15
	}
	if breakout >= 2 && breakout <= 15 {
		score += 0.1
	}

	if momentum > 10 {
		score -= 0.2
	}
	if momentum < 0.5 {
		score -= 0.1
	}
	if volumeRatio > 0 && volumeRatio < 0.8 {
		score -= 0.15
	}

	return math.Max(0, math.Min(1, score))
}
