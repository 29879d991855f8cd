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

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider is the secondary source in the fallback chain. The free
// tier allows 60 calls per minute.
type FinnhubProvider struct {
	client  *http.Client
	baseURL string
	token   string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewFinnhubProvider(token string, tracer trace.Tracer) *FinnhubProvider {
	return &FinnhubProvider{
		client:  &http.Client{Timeout: 2 * time.Second},
		baseURL: finnhubBaseURL,
		token:   token,
		tracer:  tracer,
		limiter: NewRateLimiter(60, time.Second),
	}
}

func (p *FinnhubProvider) Name() string { return "finnhub" }

// Quote fetches /quote plus /stock/profile2 for market cap. Average volume
// is not available on this endpoint and stays zero.
func (p *FinnhubProvider) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "finnhub.quote")
	defer span.End()

	var q struct {
		Current   float64 `json:"c"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		PrevClose float64 `json:"pc"`
		ChangePct float64 `json:"dp"`
	}
	if err := p.getJSON(ctx, "/quote", url.Values{"symbol": {symbol}}, &q); err != nil {
		return nil, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}
	if q.Current == 0 {
		return nil, fmt.Errorf("finnhub quote %s: no data", symbol)
	}

	var profile struct {
		// Finnhub reports market cap in millions of USD.
		MarketCapitalization float64 `json:"marketCapitalization"`
	}
	if err := p.getJSON(ctx, "/stock/profile2", url.Values{"symbol": {symbol}}, &profile); err != nil {
		return nil, fmt.Errorf("finnhub profile %s: %w", symbol, err)
	}

	return &domain.Quote{
		Symbol:        symbol,
		Price:         q.Current,
		PrevClose:     q.PrevClose,
		DayHigh:       q.High,
		DayLow:        q.Low,
		MarketCap:     profile.MarketCapitalization * 1e6,
		Timestamp:     time.Now().UTC(),
		ChangePercent: q.ChangePct,
	}, nil
}

// Candles fetches /stock/candle for the given interval ("5m", "1d").
func (p *FinnhubProvider) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	_, span := p.tracer.Start(ctx, "finnhub.candles")
	defer span.End()

	resolution, step := finnhubResolution(interval)
	if resolution == "" {
		return nil, fmt.Errorf("finnhub candles %s: unsupported interval %q", symbol, interval)
	}

	to := time.Now()
	from := to.Add(-time.Duration(limit+5) * step)

	var raw struct {
		Status  string    `json:"s"`
		Times   []int64   `json:"t"`
		Opens   []float64 `json:"o"`
		Highs   []float64 `json:"h"`
		Lows    []float64 `json:"l"`
		Closes  []float64 `json:"c"`
		Volumes []float64 `json:"v"`
	}
	params := url.Values{
		"symbol":     {symbol},
		"resolution": {resolution},
		"from":       {fmt.Sprintf("%d", from.Unix())},
		"to":         {fmt.Sprintf("%d", to.Unix())},
	}
	if err := p.getJSON(ctx, "/stock/candle", params, &raw); err != nil {
		return nil, fmt.Errorf("finnhub candles %s: %w", symbol, err)
	}
	if raw.Status != "ok" {
		return nil, fmt.Errorf("finnhub candles %s: status %q", symbol, raw.Status)
	}

	candles := make([]domain.Candle, 0, len(raw.Times))
	for i, ts := range raw.Times {
		if i >= len(raw.Closes) {
			break
		}
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      at(raw.Opens, i),
			High:      at(raw.Highs, i),
			Low:       at(raw.Lows, i),
			Close:     raw.Closes[i],
			Volume:    at(raw.Volumes, i),
		})
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (p *FinnhubProvider) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	params.Set("token", p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func finnhubResolution(interval string) (string, time.Duration) {
	switch interval {
	case "1m":
		return "1", time.Minute
	case "5m":
		return "5", 5 * time.Minute
	case "15m":
		return "15", 15 * time.Minute
	case "1h":
		return "60", time.Hour
	case "1d":
		return "D", 24 * time.Hour
	default:
		return "", 0
	}
}
