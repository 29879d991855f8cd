package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// MarketSource is one upstream market-data API.
type MarketSource interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// ErrAllProvidersFailed is returned when every source in the chain failed.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Chain tries sources in order, retrying transient failures on each before
// falling through to the next.
type Chain struct {
	sources     []MarketSource
	tracer      trace.Tracer
	maxAttempts int
	baseDelay   time.Duration
}

func NewChain(tracer trace.Tracer, sources ...MarketSource) *Chain {
	return &Chain{
		sources:     sources,
		tracer:      tracer,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

func (c *Chain) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	ctx, span := c.tracer.Start(ctx, "provider-chain.quote")
	defer span.End()

	var quote *domain.Quote
	err := c.each(ctx, "quote", symbol, func(ctx context.Context, s MarketSource) error {
		q, err := s.Quote(ctx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	return quote, err
}

func (c *Chain) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	ctx, span := c.tracer.Start(ctx, "provider-chain.candles")
	defer span.End()

	var candles []domain.Candle
	err := c.each(ctx, "candles", symbol, func(ctx context.Context, s MarketSource) error {
		cs, err := s.Candles(ctx, symbol, interval, limit)
		if err != nil {
			return err
		}
		candles = cs
		return nil
	})
	return candles, err
}

func (c *Chain) each(ctx context.Context, op, symbol string, fn func(context.Context, MarketSource) error) error {
	var errs []error
	for _, s := range c.sources {
		err := WithRetry(ctx, c.maxAttempts, c.baseDelay, func(ctx context.Context) error {
			return fn(ctx, s)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("provider %s: %s %s failed, falling through: %v", s.Name(), op, symbol, err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return fmt.Errorf("%w for %s %s: %w", ErrAllProvidersFailed, op, symbol, errors.Join(errs...))
}
