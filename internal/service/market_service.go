package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"marketpulse/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const (
	quoteCacheTTL = 60 * time.Second

	// Per-symbol budget inside batch refreshes.
	fetchTimeout = 10 * time.Second
)

// MarketSource is the provider chain.
type MarketSource interface {
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// MarketService serves quotes and candles to the scanner and evaluator,
// caching quotes in Redis with a short TTL.
type MarketService struct {
	tracer trace.Tracer
	source MarketSource
	redis  RedisClient

	indexSymbol string
	vixSymbol   string
	indexBars   int
	concurrency int
}

func NewMarketService(tracer trace.Tracer, source MarketSource, redisClient RedisClient) *MarketService {
	return &MarketService{
		tracer:      tracer,
		source:      source,
		redis:       redisClient,
		indexSymbol: "SPY",
		vixSymbol:   "^VIX",
		indexBars:   200,
		concurrency: 5,
	}
}

// Quote returns the current quote for a symbol, cache first.
func (s *MarketService) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	ctx, span := s.tracer.Start(ctx, "market-service.quote")
	defer span.End()

	if s.redis != nil {
		cached, err := s.getQuoteCache(ctx, symbol)
		if err != nil {
			log.Printf("redis cache read error: %v", err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	quote, err := s.source.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		if err := s.setQuoteCache(ctx, quote); err != nil {
			log.Printf("redis cache write error for %s: %v", symbol, err)
		}
	}
	return quote, nil
}

// LatestPrice returns the current price only; the evaluator's view of a quote.
func (s *MarketService) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	quote, err := s.Quote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return quote.Price, nil
}

// Candles returns the most recent intraday 5m bars for a symbol.
func (s *MarketService) Candles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	ctx, span := s.tracer.Start(ctx, "market-service.candles")
	defer span.End()

	return s.source.Candles(ctx, symbol, "5m", limit)
}

// IndexHistory returns daily index closes and VIX levels for regime
// classification, oldest first.
func (s *MarketService) IndexHistory(ctx context.Context) ([]float64, []float64, error) {
	ctx, span := s.tracer.Start(ctx, "market-service.index-history")
	defer span.End()

	indexCandles, err := s.source.Candles(ctx, s.indexSymbol, "1d", s.indexBars)
	if err != nil {
		return nil, nil, fmt.Errorf("index history %s: %w", s.indexSymbol, err)
	}
	vixCandles, err := s.source.Candles(ctx, s.vixSymbol, "1d", s.indexBars)
	if err != nil {
		return nil, nil, fmt.Errorf("index history %s: %w", s.vixSymbol, err)
	}

	closes := make([]float64, len(indexCandles))
	for i, c := range indexCandles {
		closes[i] = c.Close
	}
	vix := make([]float64, len(vixCandles))
	for i, c := range vixCandles {
		vix[i] = c.Close
	}
	return closes, vix, nil
}

// RefreshSummary reports one batch quote refresh.
type RefreshSummary struct {
	Attempted int
	Succeeded int
	Failed    []string
}

// RefreshQuotes warms the quote cache for a symbol list with a bounded
// worker pool. Per-symbol failures are collected, not fatal.
func (s *MarketService) RefreshQuotes(ctx context.Context, symbols []string) *RefreshSummary {
	ctx, span := s.tracer.Start(ctx, "market-service.refresh-quotes")
	defer span.End()

	summary := &RefreshSummary{Attempted: len(symbols)}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		work = make(chan string)
	)

	workers := s.concurrency
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range work {
				callCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
				quote, err := s.source.Quote(callCtx, symbol)
				cancel()

				mu.Lock()
				if err != nil {
					log.Printf("refresh quote %s: %v", symbol, err)
					summary.Failed = append(summary.Failed, symbol)
				} else {
					if s.redis != nil {
						_ = s.setQuoteCache(ctx, quote)
					}
					summary.Succeeded++
				}
				mu.Unlock()
			}
		}()
	}

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return summary
		case work <- symbol:
		}
	}
	close(work)
	wg.Wait()

	log.Printf("Refreshed quotes: %d/%d succeeded", summary.Succeeded, summary.Attempted)
	return summary
}

func (s *MarketService) setQuoteCache(ctx context.Context, quote *domain.Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, "quote:"+quote.Symbol, data, quoteCacheTTL).Err()
}

func (s *MarketService) getQuoteCache(ctx context.Context, symbol string) (*domain.Quote, error) {
	data, err := s.redis.Get(ctx, "quote:"+symbol).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var quote domain.Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}
