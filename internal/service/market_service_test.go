package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type mockSource struct {
	mu          sync.Mutex
	quotes      map[string]*domain.Quote
	candles     map[string][]domain.Candle
	quoteErr    error
	quoteCalls  int
	candleCalls int
}

func (m *mockSource) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCalls++
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return q, nil
}

func (m *mockSource) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleCalls++
	return m.candles[symbol], nil
}

type fakeRedis struct {
	data   map[string][]byte
	setErr error
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	default:
		bytes, _ := json.Marshal(v)
		f.data[key] = bytes
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func TestMarketService_QuoteCacheHit(t *testing.T) {
	t.Parallel()

	cache := newFakeRedis()
	cached := &domain.Quote{Symbol: "AAPL", Price: 150.5}
	data, _ := json.Marshal(cached)
	_ = cache.Set(context.Background(), "quote:AAPL", data, 0)

	source := &mockSource{}
	svc := NewMarketService(testTracer, source, cache)

	got, err := svc.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Price != 150.5 {
		t.Fatalf("expected cached price, got %+v", got)
	}
	if source.quoteCalls != 0 {
		t.Fatalf("source should not be called on cache hit")
	}
}

func TestMarketService_QuoteFetchesOnMiss(t *testing.T) {
	t.Parallel()

	source := &mockSource{quotes: map[string]*domain.Quote{
		"AAPL": {Symbol: "AAPL", Price: 151},
	}}
	cache := newFakeRedis()
	svc := NewMarketService(testTracer, source, cache)

	got, err := svc.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Price != 151 {
		t.Fatalf("unexpected quote: %+v", got)
	}
	if source.quoteCalls != 1 {
		t.Fatalf("expected 1 source call, got %d", source.quoteCalls)
	}
	if _, ok := cache.data["quote:AAPL"]; !ok {
		t.Fatalf("quote not cached")
	}
}

func TestMarketService_QuoteSurvivesCacheErrors(t *testing.T) {
	t.Parallel()

	source := &mockSource{quotes: map[string]*domain.Quote{
		"AAPL": {Symbol: "AAPL", Price: 151},
	}}
	cache := newFakeRedis()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	svc := NewMarketService(testTracer, source, cache)

	got, err := svc.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("cache errors must not fail the read: %v", err)
	}
	if got.Price != 151 {
		t.Fatalf("unexpected quote: %+v", got)
	}
}

func TestMarketService_LatestPrice(t *testing.T) {
	t.Parallel()

	source := &mockSource{quotes: map[string]*domain.Quote{
		"MSFT": {Symbol: "MSFT", Price: 410.25},
	}}
	svc := NewMarketService(testTracer, source, newFakeRedis())

	price, err := svc.LatestPrice(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 410.25 {
		t.Fatalf("expected 410.25, got %f", price)
	}
}

func TestMarketService_IndexHistory(t *testing.T) {
	t.Parallel()

	source := &mockSource{candles: map[string][]domain.Candle{
		"SPY":  {{Close: 500}, {Close: 505}},
		"^VIX": {{Close: 14}, {Close: 15}},
	}}
	svc := NewMarketService(testTracer, source, newFakeRedis())

	closes, vix, err := svc.IndexHistory(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closes) != 2 || closes[1] != 505 {
		t.Fatalf("unexpected closes: %v", closes)
	}
	if len(vix) != 2 || vix[0] != 14 {
		t.Fatalf("unexpected vix: %v", vix)
	}
}

func TestMarketService_RefreshQuotesSummary(t *testing.T) {
	t.Parallel()

	source := &mockSource{quotes: map[string]*domain.Quote{
		"AAPL": {Symbol: "AAPL", Price: 1},
		"MSFT": {Symbol: "MSFT", Price: 2},
	}}
	cache := newFakeRedis()
	svc := NewMarketService(testTracer, source, cache)

	summary := svc.RefreshQuotes(context.Background(), []string{"AAPL", "MSFT", "BAD"})
	if summary.Attempted != 3 {
		t.Fatalf("expected 3 attempted, got %d", summary.Attempted)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %d", summary.Succeeded)
	}
	if len(summary.Failed) != 1 || summary.Failed[0] != "BAD" {
		t.Fatalf("unexpected failures: %v", summary.Failed)
	}
	if _, ok := cache.data["quote:AAPL"]; !ok {
		t.Fatalf("refresh should cache quotes")
	}
}
