// Package training retrains the success-probability models from realized
// signal outcomes. The overfit guard compares train and held-out scores and
// refuses to promote a model whose gap exceeds the configured delta; the
// previously active version stays in place and the result is flagged so the
// caller can raise an alert instead of treating it as a generic failure.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/features"
	"marketpulse/internal/ml/models/boost"
	"marketpulse/internal/ml/models/logreg"

	"go.opentelemetry.io/otel/trace"
)

const (
	ModelKeyLogReg = "signal-success-logreg"
	ModelKeyBoost  = "signal-success-boost"
)

// ErrInsufficientData distinguishes "not enough labeled records" from real
// training failures; no state changes when it is returned.
var ErrInsufficientData = errors.New("insufficient labeled data")

type ExampleStore interface {
	ListLabeledExamples(ctx context.Context, horizon string, from, to time.Time) ([]domain.LabeledExample, error)
}

type ModelRegistry interface {
	NextVersion(ctx context.Context, modelKey string) (int, error)
	Insert(ctx context.Context, state domain.ModelState) (*domain.ModelState, error)
	GetActive(ctx context.Context, modelKey string) (*domain.ModelState, error)
	GetPrevious(ctx context.Context, modelKey string, beforeVersion int) (*domain.ModelState, error)
	Activate(ctx context.Context, modelKey string, version int) error
}

type Config struct {
	Horizon         string
	TrainWindowDays int
	MinSamples      int
	OverfitDelta    float64
	HoldoutFraction float64
	DryRun          bool
}

type Service struct {
	tracer   trace.Tracer
	examples ExampleStore
	registry ModelRegistry
	cfg      Config
}

type TrainResult struct {
	ModelKey     string
	Version      int
	SampleCount  int
	HoldoutCount int
	TrainScore   float64
	HoldoutScore float64
	Delta        float64
	Overfit      bool
	Promoted     bool
	PromoteError error
}

func NewService(tracer trace.Tracer, examples ExampleStore, registry ModelRegistry, cfg Config) *Service {
	if cfg.Horizon == "" {
		cfg.Horizon = "EOD"
	}
	if cfg.TrainWindowDays <= 0 {
		cfg.TrainWindowDays = 90
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 200
	}
	if cfg.OverfitDelta <= 0 {
		cfg.OverfitDelta = 0.20
	}
	if cfg.HoldoutFraction <= 0 || cfg.HoldoutFraction >= 1 {
		cfg.HoldoutFraction = 0.30
	}
	return &Service{tracer: tracer, examples: examples, registry: registry, cfg: cfg}
}

// TrainAll retrains both model families on the same chronological split.
func (s *Service) TrainAll(ctx context.Context, now time.Time) ([]TrainResult, error) {
	ctx, span := s.tracer.Start(ctx, "adaptive-learner.train-all")
	defer span.End()

	from := now.UTC().AddDate(0, 0, -s.cfg.TrainWindowDays)
	rows, err := s.examples.ListLabeledExamples(ctx, s.cfg.Horizon, from, now.UTC())
	if err != nil {
		return nil, err
	}
	samples, labels := buildDataset(rows)
	if len(samples) < s.cfg.MinSamples {
		return nil, fmt.Errorf("%w: got %d need >= %d", ErrInsufficientData, len(samples), s.cfg.MinSamples)
	}

	trainX, trainY, holdX, holdY := chronologicalSplit(samples, labels, s.cfg.HoldoutFraction)
	if len(trainX) == 0 || len(holdX) == 0 {
		return nil, fmt.Errorf("%w: split produced an empty partition", ErrInsufficientData)
	}

	results := make([]TrainResult, 0, 2)

	lr, err := logreg.Train(trainX, trainY, features.Names, logreg.DefaultTrainOptions())
	if err != nil {
		return nil, fmt.Errorf("train logreg: %w", err)
	}
	lrBlob, err := lr.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal logreg model: %w", err)
	}
	lrResult, err := s.evaluateAndPersist(ctx, ModelKeyLogReg, "json/logreg-v1", now.UTC(),
		lrBlob, lr.FeatureImportances(),
		auc(trainY, lr.PredictBatch(trainX)), auc(holdY, lr.PredictBatch(holdX)),
		len(samples), len(holdY))
	if err != nil {
		return nil, err
	}
	results = append(results, lrResult)

	// The booster needs both classes; a one-sided window falls back to the
	// logreg result rather than failing the whole run.
	bst, err := boost.Train(trainX, trainY, features.Names, boost.DefaultTrainOptions())
	if err != nil {
		return results, nil
	}
	bstBlob, err := bst.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal boosted model: %w", err)
	}
	bstResult, err := s.evaluateAndPersist(ctx, ModelKeyBoost, "json/boo-boost-v1", now.UTC(),
		bstBlob, nil,
		auc(trainY, bst.PredictBatch(trainX)), auc(holdY, bst.PredictBatch(holdX)),
		len(samples), len(holdY))
	if err != nil {
		return nil, err
	}
	results = append(results, bstResult)

	return results, nil
}

func (s *Service) evaluateAndPersist(
	ctx context.Context,
	modelKey string,
	artifactFormat string,
	now time.Time,
	artifact []byte,
	importances map[string]float64,
	trainScore, holdoutScore float64,
	sampleCount, holdoutCount int,
) (TrainResult, error) {
	delta := trainScore - holdoutScore
	overfit := delta > s.cfg.OverfitDelta

	result := TrainResult{
		ModelKey:     modelKey,
		SampleCount:  sampleCount,
		HoldoutCount: holdoutCount,
		TrainScore:   trainScore,
		HoldoutScore: holdoutScore,
		Delta:        delta,
		Overfit:      overfit,
	}
	if s.cfg.DryRun {
		return result, nil
	}

	version, err := s.registry.NextVersion(ctx, modelKey)
	if err != nil {
		return TrainResult{}, err
	}
	inserted, err := s.registry.Insert(ctx, domain.ModelState{
		ModelKey:        modelKey,
		Version:         version,
		Weights:         importances,
		TrainedAt:       now,
		TrainScore:      trainScore,
		HoldoutScore:    holdoutScore,
		OverfitDetected: overfit,
		RecordsUsed:     sampleCount,
		ArtifactFormat:  artifactFormat,
		ArtifactBlob:    artifact,
		IsActive:        false,
	})
	if err != nil {
		return TrainResult{}, err
	}
	result.Version = inserted.Version

	// An overfit version is persisted for the audit trail but never
	// activated. Whatever was active stays active.
	if overfit {
		return result, nil
	}

	if err := s.registry.Activate(ctx, modelKey, inserted.Version); err != nil {
		result.PromoteError = err
		return result, nil
	}
	result.Promoted = true
	return result, nil
}

// Rollback re-activates the newest non-overfit version older than the
// currently active one. Used by operators when a promoted model misbehaves
// in production.
func (s *Service) Rollback(ctx context.Context, modelKey string) (*domain.ModelState, error) {
	ctx, span := s.tracer.Start(ctx, "adaptive-learner.rollback")
	defer span.End()

	active, err := s.registry.GetActive(ctx, modelKey)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, errors.New("no active model to roll back from")
	}
	prev, err := s.registry.GetPrevious(ctx, modelKey, active.Version)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, errors.New("no prior version available")
	}
	if err := s.registry.Activate(ctx, modelKey, prev.Version); err != nil {
		return nil, err
	}
	return prev, nil
}

func buildDataset(rows []domain.LabeledExample) ([][]float64, []float64) {
	x := make([][]float64, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for i := range rows {
		label := 0.0
		if rows[i].Outcome.IsWinning() {
			label = 1
		}
		x = append(x, features.Vector(rows[i].Features))
		y = append(y, label)
	}
	return x, y
}

// chronologicalSplit keeps time order: the holdout is always the most recent
// slice, never a random shuffle, so the holdout score reflects forward
// performance.
func chronologicalSplit(samples [][]float64, labels []float64, holdoutFraction float64) ([][]float64, []float64, [][]float64, []float64) {
	n := len(samples)
	if n < 2 {
		return nil, nil, nil, nil
	}
	cut := int(float64(n) * (1 - holdoutFraction))
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}
	return samples[:cut], labels[:cut], samples[cut:], labels[cut:]
}

// auc is the rank-based AUC with tie handling; 0.5 for one-class samples.
func auc(labels []float64, probs []float64) float64 {
	type pair struct {
		p float64
		y float64
	}
	pairs := make([]pair, len(labels))
	pos := 0.0
	neg := 0.0
	for i := range labels {
		pairs[i] = pair{p: clamp01(probs[i]), y: labels[i]}
		if labels[i] >= 0.5 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].p < pairs[j].p })

	sumRankPos := 0.0
	rank := 1.0
	for i := 0; i < len(pairs); {
		j := i + 1
		for j < len(pairs) && math.Abs(pairs[j].p-pairs[i].p) < 1e-12 {
			j++
		}
		avgRank := (rank + float64(j)) / 2
		for k := i; k < j; k++ {
			if pairs[k].y >= 0.5 {
				sumRankPos += avgRank
			}
		}
		rank = float64(j + 1)
		i = j
	}
	out := (sumRankPos - (pos*(pos+1))/2) / (pos * neg)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0.5
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
