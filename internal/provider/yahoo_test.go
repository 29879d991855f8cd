package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

const yahooChartBody = `{"chart":{"result":[{
	"meta":{"symbol":"AAPL","regularMarketPrice":150.5,"chartPreviousClose":148.0,
		"regularMarketDayHigh":151.0,"regularMarketDayLow":147.5,
		"regularMarketVolume":55000000,"marketCap":2400000000000,
		"averageDailyVolume3Month":60000000},
	"timestamp":[1700000000,1700000300,1700000600],
	"indicators":{"quote":[{
		"open":[150.0,150.2,150.4],
		"high":[150.3,150.5,150.6],
		"low":[149.8,150.0,150.2],
		"close":[150.2,150.4,150.5],
		"volume":[1000,1200,900]}]}
}],"error":null}}`

func newTestYahoo(rt roundTripFunc) *YahooProvider {
	p := NewYahooProvider(trace.NewNoopTracerProvider().Tracer("test"))
	p.baseURL = "http://example"
	p.client = &http.Client{Transport: rt}
	p.limiter = NewRateLimiter(100, time.Millisecond)
	return p
}

func TestYahooQuote(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(func(req *http.Request) (*http.Response, error) {
		if !strings.Contains(req.URL.Path, "/v8/finance/chart/AAPL") {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, yahooChartBody), nil
	})

	q, err := p.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 150.5 || q.PrevClose != 148.0 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if q.MarketCap != 2.4e12 {
		t.Fatalf("unexpected market cap: %f", q.MarketCap)
	}
	wantChange := (150.5 - 148.0) / 148.0 * 100
	if diff := q.ChangePercent - wantChange; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected change pct: %f", q.ChangePercent)
	}
}

func TestYahooCandles(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, yahooChartBody), nil
	})

	candles, err := p.Candles(context.Background(), "AAPL", "5m", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles after trim, got %d", len(candles))
	}
	last := candles[len(candles)-1]
	if last.Close != 150.5 || last.Volume != 900 {
		t.Fatalf("unexpected last candle: %+v", last)
	}
	if !last.Timestamp.Equal(time.Unix(1700000600, 0).UTC()) {
		t.Fatalf("unexpected timestamp: %v", last.Timestamp)
	}
}

func TestYahooRateLimitedStatus(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{}`), nil
	})

	_, err := p.Quote(context.Background(), "AAPL")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestYahooChartError(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK,
			`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`), nil
	})

	_, err := p.Quote(context.Background(), "NOPE")
	if err == nil || !strings.Contains(err.Error(), "Not Found") {
		t.Fatalf("expected chart error, got %v", err)
	}
}
