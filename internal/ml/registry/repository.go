// Package registry persists versioned model states. At most one version per
// model key is active; the previous version stays on disk so the trainer can
// roll back after an overfit detection.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"marketpulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

const createModelVersionsTable = `
CREATE TABLE IF NOT EXISTS model_versions (
    id               BIGSERIAL PRIMARY KEY,
    model_key        TEXT NOT NULL,
    version          INTEGER NOT NULL,
    weights_json     JSONB NOT NULL DEFAULT '{}',
    trained_at       TIMESTAMPTZ NOT NULL,
    train_score      DOUBLE PRECISION NOT NULL,
    holdout_score    DOUBLE PRECISION NOT NULL,
    overfit_detected BOOLEAN NOT NULL DEFAULT FALSE,
    records_used     INTEGER NOT NULL DEFAULT 0,
    artifact_format  TEXT NOT NULL DEFAULT '',
    artifact_blob    BYTEA,
    is_active        BOOLEAN NOT NULL DEFAULT FALSE,
    activated_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (model_key, version)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_active
    ON model_versions (model_key) WHERE is_active;
`

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "model-registry.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createModelVersionsTable)
	return err
}

const modelColumns = `id, model_key, version, weights_json, trained_at,
       train_score, holdout_score, overfit_detected, records_used,
       artifact_format, artifact_blob, is_active, activated_at, created_at`

func (r *Repository) NextVersion(ctx context.Context, modelKey string) (int, error) {
	_, span := r.tracer.Start(ctx, "model-registry.next-version")
	defer span.End()

	var version int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE model_key = $1`, modelKey).Scan(&version)
	return version, err
}

func (r *Repository) Insert(ctx context.Context, state domain.ModelState) (*domain.ModelState, error) {
	_, span := r.tracer.Start(ctx, "model-registry.insert")
	defer span.End()

	if state.ModelKey == "" || state.Version <= 0 {
		return nil, errors.New("invalid model state payload")
	}
	weightsJSON, err := json.Marshal(state.Weights)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO model_versions (
    model_key, version, weights_json, trained_at,
    train_score, holdout_score, overfit_detected, records_used,
    artifact_format, artifact_blob, is_active, activated_at
) VALUES (
    $1, $2, $3, COALESCE($4, NOW()),
    $5, $6, $7, $8,
    $9, $10, $11, $12
)
RETURNING `+modelColumns,
		state.ModelKey,
		state.Version,
		string(weightsJSON),
		nullIfZeroTime(state.TrainedAt),
		state.TrainScore,
		state.HoldoutScore,
		state.OverfitDetected,
		state.RecordsUsed,
		state.ArtifactFormat,
		state.ArtifactBlob,
		state.IsActive,
		nullTime(state.ActivatedAt),
	)
	return scanModel(row)
}

func (r *Repository) GetActive(ctx context.Context, modelKey string) (*domain.ModelState, error) {
	_, span := r.tracer.Start(ctx, "model-registry.get-active")
	defer span.End()

	return r.getOne(ctx, `
SELECT `+modelColumns+`
FROM model_versions
WHERE model_key = $1 AND is_active = TRUE
ORDER BY version DESC
LIMIT 1`, modelKey)
}

func (r *Repository) GetLatest(ctx context.Context, modelKey string) (*domain.ModelState, error) {
	_, span := r.tracer.Start(ctx, "model-registry.get-latest")
	defer span.End()

	return r.getOne(ctx, `
SELECT `+modelColumns+`
FROM model_versions
WHERE model_key = $1
ORDER BY version DESC
LIMIT 1`, modelKey)
}

// GetPrevious returns the newest version strictly older than the given one,
// the rollback target after an overfit detection.
func (r *Repository) GetPrevious(ctx context.Context, modelKey string, beforeVersion int) (*domain.ModelState, error) {
	_, span := r.tracer.Start(ctx, "model-registry.get-previous")
	defer span.End()

	var out domain.ModelState
	var weightsJSON string
	err := r.pool.QueryRow(ctx, `
SELECT `+modelColumns+`
FROM model_versions
WHERE model_key = $1 AND version < $2 AND overfit_detected = FALSE
ORDER BY version DESC
LIMIT 1`, modelKey, beforeVersion).Scan(scanDest(&out, &weightsJSON)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	finishScan(&out, weightsJSON)
	return &out, nil
}

// Activate flips the active flag to the given version inside one
// transaction, so readers never observe zero or two active versions.
func (r *Repository) Activate(ctx context.Context, modelKey string, version int) error {
	_, span := r.tracer.Start(ctx, "model-registry.activate")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = FALSE, activated_at = NULL WHERE model_key = $1`, modelKey); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = TRUE, activated_at = NOW() WHERE model_key = $1 AND version = $2`, modelKey, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*domain.ModelState, error) {
	var out domain.ModelState
	var weightsJSON string
	err := r.pool.QueryRow(ctx, query, arg).Scan(scanDest(&out, &weightsJSON)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	finishScan(&out, weightsJSON)
	return &out, nil
}

func scanModel(row pgx.Row) (*domain.ModelState, error) {
	var out domain.ModelState
	var weightsJSON string
	if err := row.Scan(scanDest(&out, &weightsJSON)...); err != nil {
		return nil, err
	}
	finishScan(&out, weightsJSON)
	return &out, nil
}

func scanDest(out *domain.ModelState, weightsJSON *string) []any {
	return []any{
		&out.ID,
		&out.ModelKey,
		&out.Version,
		weightsJSON,
		&out.TrainedAt,
		&out.TrainScore,
		&out.HoldoutScore,
		&out.OverfitDetected,
		&out.RecordsUsed,
		&out.ArtifactFormat,
		&out.ArtifactBlob,
		&out.IsActive,
		&out.ActivatedAt,
		&out.CreatedAt,
	}
}

func finishScan(out *domain.ModelState, weightsJSON string) {
	if weightsJSON != "" {
		_ = json.Unmarshal([]byte(weightsJSON), &out.Weights)
	}
	out.TrainedAt = out.TrainedAt.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	if out.ActivatedAt != nil {
		t := out.ActivatedAt.UTC()
		out.ActivatedAt = &t
	}
}

func nullIfZeroTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}

func nullTime(v *time.Time) any {
	if v == nil || v.IsZero() {
		return nil
	}
	t := v.UTC()
	return t
}
