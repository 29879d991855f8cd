package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"marketpulse/internal/domain"
	"marketpulse/internal/ml/training"
	"marketpulse/internal/repository"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("handler-test")

type signalReaderStub struct {
	signals    []domain.Signal
	err        error
	lastFilter domain.SignalFilter
}

func (s *signalReaderStub) ListSignals(_ context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	s.lastFilter = filter
	return s.signals, s.err
}

type strategyReaderStub struct {
	latest *domain.StrategyPerformance
	rows   []domain.StrategyPerformance
	err    error
}

func (s *strategyReaderStub) GetLatest(context.Context, domain.StrategyMode, domain.PeriodKind) (*domain.StrategyPerformance, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.latest, nil
}

func (s *strategyReaderStub) ListByKind(context.Context, domain.PeriodKind, int) ([]domain.StrategyPerformance, error) {
	return s.rows, s.err
}

type modelReaderStub struct {
	active *domain.ModelState
	latest *domain.ModelState
	err    error
}

func (s *modelReaderStub) GetActive(context.Context, string) (*domain.ModelState, error) {
	return s.active, s.err
}

func (s *modelReaderStub) GetLatest(context.Context, string) (*domain.ModelState, error) {
	return s.latest, s.err
}

type trainerStub struct {
	results []training.TrainResult
	err     error
	calls   int
}

func (s *trainerStub) TrainAll(context.Context, time.Time) ([]training.TrainResult, error) {
	s.calls++
	return s.results, s.err
}

func newTestRouter(h *Handler, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func TestHealth(t *testing.T) {
	h := New(testTracer, nil, nil, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["service"] != "marketpulse" || body["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", body)
	}
}

func TestListSignalsAppliesFilter(t *testing.T) {
	reader := &signalReaderStub{signals: []domain.Signal{
		{ID: 1, Symbol: "AAPL", Mode: domain.ModeSafe},
		{ID: 2, Symbol: "AAPL", Mode: domain.ModeSafe},
	}}
	h := New(testTracer, reader, nil, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/signals?symbol=AAPL&mode=SAFE&limit=10", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if reader.lastFilter.Symbol != "AAPL" || reader.lastFilter.Mode != domain.ModeSafe || reader.lastFilter.Limit != 10 {
		t.Errorf("filter not applied: %+v", reader.lastFilter)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("expected count 2, got %d", body.Count)
	}
}

func TestListSignalsRejectsBadMode(t *testing.T) {
	h := New(testTracer, &signalReaderStub{}, nil, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/signals?mode=YOLO", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListSignalsCapsLimit(t *testing.T) {
	reader := &signalReaderStub{}
	h := New(testTracer, reader, nil, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/signals?limit=9999", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if reader.lastFilter.Limit != maxSignalLimit {
		t.Errorf("expected limit capped at %d, got %d", maxSignalLimit, reader.lastFilter.Limit)
	}
}

func TestGetPerformance(t *testing.T) {
	winRate := 0.6
	h := New(testTracer, nil, &strategyReaderStub{latest: &domain.StrategyPerformance{
		Mode:         domain.ModeSafe,
		PeriodKind:   domain.PeriodAllTime,
		TotalSignals: 40,
		WinRate:      &winRate,
	}}, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/performance/safe", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPerformanceNotFound(t *testing.T) {
	h := New(testTracer, nil, &strategyReaderStub{err: repository.ErrNotFound}, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/performance/SAFE?period=WEEKLY", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetPerformanceRejectsBadMode(t *testing.T) {
	h := New(testTracer, nil, &strategyReaderStub{}, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/performance/TURBO", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetModelStatusFallsBackToLatest(t *testing.T) {
	h := New(testTracer, nil, nil, &modelReaderStub{
		latest: &domain.ModelState{ModelKey: "logreg", Version: 3},
	}, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/models/logreg", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Warning string `json:"warning"`
		Model   struct {
			Version int `json:"version"`
		} `json:"model"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Warning == "" {
		t.Error("expected fallback warning")
	}
	if body.Model.Version != 3 {
		t.Errorf("expected version 3, got %d", body.Model.Version)
	}
}

func TestGetModelStatusNotFound(t *testing.T) {
	h := New(testTracer, nil, nil, &modelReaderStub{}, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/models/unknown", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTriggerTrainingRequiresAPIKey(t *testing.T) {
	trainer := &trainerStub{}
	h := New(testTracer, nil, nil, nil, trainer)
	r := newTestRouter(h, "secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/models/train", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if trainer.calls != 0 {
		t.Error("trainer should not run without auth")
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/models/train", nil)
	req.Header.Set("X-API-Key", "wrong")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestTriggerTrainingReturnsResults(t *testing.T) {
	trainer := &trainerStub{results: []training.TrainResult{
		{ModelKey: "logreg", Version: 4, SampleCount: 200, Promoted: true},
		{ModelKey: "boost", Version: 2, SampleCount: 200, Overfit: true, PromoteError: errors.New("kept previous")},
	}}
	h := New(testTracer, nil, nil, nil, trainer)
	r := newTestRouter(h, "secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/models/train", nil)
	req.Header.Set("X-API-Key", "secret")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if trainer.calls != 1 {
		t.Fatalf("expected 1 training run, got %d", trainer.calls)
	}

	var body struct {
		Count   int `json:"count"`
		Results []struct {
			ModelKey string `json:"model_key"`
			Overfit  bool   `json:"overfit"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 results, got %d", body.Count)
	}
	if !body.Results[1].Overfit || body.Results[1].Error == "" {
		t.Errorf("expected overfit result with error, got %+v", body.Results[1])
	}
}

func TestTriggerTrainingUnavailableWithoutTrainer(t *testing.T) {
	h := New(testTracer, nil, nil, nil, nil)
	r := newTestRouter(h, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/models/train", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
