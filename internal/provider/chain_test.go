package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type fakeSource struct {
	name       string
	quoteErr   error
	candlesErr error
	quoteCalls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	f.quoteCalls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &domain.Quote{Symbol: symbol, Price: 42}, nil
}

func (f *fakeSource) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	return []domain.Candle{{Symbol: symbol, Close: 42}}, nil
}

func newTestChain(sources ...MarketSource) *Chain {
	c := NewChain(trace.NewNoopTracerProvider().Tracer("test"), sources...)
	c.maxAttempts = 2
	c.baseDelay = time.Millisecond
	return c
}

func TestChainPrimaryWins(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary"}
	secondary := &fakeSource{name: "secondary"}
	chain := newTestChain(primary, secondary)

	q, err := chain.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 42 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if secondary.quoteCalls != 0 {
		t.Fatalf("secondary should not be called when primary succeeds")
	}
}

func TestChainFallsThroughToSecondary(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", quoteErr: errors.New("down")}
	secondary := &fakeSource{name: "secondary"}
	chain := newTestChain(primary, secondary)

	q, err := chain.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Symbol != "AAPL" {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if primary.quoteCalls != 1 {
		t.Fatalf("non-retryable primary error should not be retried, got %d calls", primary.quoteCalls)
	}
}

func TestChainRetriesTransientThenFallsThrough(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", quoteErr: ErrRateLimited}
	secondary := &fakeSource{name: "secondary"}
	chain := newTestChain(primary, secondary)

	if _, err := chain.Quote(context.Background(), "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.quoteCalls != 2 {
		t.Fatalf("expected 2 primary attempts, got %d", primary.quoteCalls)
	}
}

func TestChainAllFail(t *testing.T) {
	t.Parallel()

	chain := newTestChain(
		&fakeSource{name: "primary", candlesErr: errors.New("down")},
		&fakeSource{name: "secondary", candlesErr: errors.New("also down")},
	)

	_, err := chain.Candles(context.Background(), "AAPL", "5m", 10)
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestChainStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &fakeSource{name: "primary", quoteErr: ErrRateLimited}
	secondary := &fakeSource{name: "secondary"}
	chain := newTestChain(primary, secondary)

	_, err := chain.Quote(ctx, "AAPL")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if secondary.quoteCalls != 0 {
		t.Fatalf("secondary should not run after cancellation")
	}
}
