package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooProvider fetches quotes and intraday bars from the Yahoo Finance
// chart API. It is the primary source in the fallback chain.
type YahooProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewYahooProvider creates a provider with a short per-call timeout and a
// conservative rate limit (30 requests per minute).
func NewYahooProvider(tracer trace.Tracer) *YahooProvider {
	return &YahooProvider{
		client:  &http.Client{Timeout: 2 * time.Second},
		baseURL: yahooBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(30, 2*time.Second),
	}
}

func (p *YahooProvider) Name() string { return "yahoo" }

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string  `json:"symbol"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				ChartPreviousClose   float64 `json:"chartPreviousClose"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  float64 `json:"regularMarketVolume"`
				MarketCap            float64 `json:"marketCap"`
				AverageDailyVolume   float64 `json:"averageDailyVolume3Month"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote fetches a current quote via the 1d chart endpoint.
func (p *YahooProvider) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "yahoo.quote")
	defer span.End()

	resp, err := p.fetchChart(ctx, symbol, "1d", "1d")
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	meta := resp.Chart.Result[0].Meta

	change := 0.0
	if meta.ChartPreviousClose > 0 {
		change = (meta.RegularMarketPrice - meta.ChartPreviousClose) / meta.ChartPreviousClose * 100
	}

	return &domain.Quote{
		Symbol:        symbol,
		Price:         meta.RegularMarketPrice,
		PrevClose:     meta.ChartPreviousClose,
		DayHigh:       meta.RegularMarketDayHigh,
		DayLow:        meta.RegularMarketDayLow,
		DayVolume:     meta.RegularMarketVolume,
		AvgVolume:     meta.AverageDailyVolume,
		MarketCap:     meta.MarketCap,
		Timestamp:     time.Now().UTC(),
		ChangePercent: change,
	}, nil
}

// Candles fetches up to limit bars of the given interval ("5m", "1d"). Bars
// with no trades come back as nulls and are skipped.
func (p *YahooProvider) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	_, span := p.tracer.Start(ctx, "yahoo.candles")
	defer span.End()

	rng := rangeForInterval(interval, limit)
	resp, err := p.fetchChart(ctx, symbol, interval, rng)
	if err != nil {
		return nil, fmt.Errorf("yahoo candles %s: %w", symbol, err)
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo candles %s: empty indicator set", symbol)
	}
	q := result.Indicators.Quote[0]

	candles := make([]domain.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) || q.Close[i] == 0 {
			continue
		}
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      at(q.Open, i),
			High:      at(q.High, i),
			Low:       at(q.Low, i),
			Close:     q.Close[i],
			Volume:    at(q.Volume, i),
		})
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol, interval, rng string) (*yahooChartResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s&includePrePost=false",
		p.baseURL, url.PathEscape(symbol), interval, rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "marketpulse/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed yahooChartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse chart: %w", err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("chart error %s: %s", parsed.Chart.Error.Code, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("empty chart result")
	}
	return &parsed, nil
}

// rangeForInterval picks a chart range wide enough to cover limit bars.
func rangeForInterval(interval string, limit int) string {
	switch interval {
	case "1m", "2m", "5m", "15m":
		if limit > 78 {
			return "5d"
		}
		return "1d"
	case "1h":
		return "1mo"
	case "1d":
		if limit > 250 {
			return "2y"
		}
		return "1y"
	default:
		return "1mo"
	}
}

func at(vals []float64, i int) float64 {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}
