package catalyst

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const yahooNewsFeedURL = "https://feeds.finance.yahoo.com/rss/2.0/headline"

// HeadlineSource fetches recent news headlines for one symbol.
type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string, maxItems int) ([]string, error)
}

// RSSHeadlineSource reads the per-symbol Yahoo Finance news feed.
type RSSHeadlineSource struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
}

func NewRSSHeadlineSource(tracer trace.Tracer) *RSSHeadlineSource {
	return &RSSHeadlineSource{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: yahooNewsFeedURL,
		tracer:  tracer,
	}
}

func (s *RSSHeadlineSource) Headlines(ctx context.Context, symbol string, maxItems int) ([]string, error) {
	_, span := s.tracer.Start(ctx, "headline-source.fetch")
	defer span.End()

	if maxItems <= 0 {
		maxItems = 10
	}

	feedURL := fmt.Sprintf("%s?s=%s&region=US&lang=en-US", s.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("news feed error %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rss struct {
		Channel struct {
			Items []struct {
				Title string `xml:"title"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("decode news feed: %w", err)
	}

	titles := make([]string, 0, maxItems)
	for _, item := range rss.Channel.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		titles = append(titles, title)
		if len(titles) >= maxItems {
			break
		}
	}
	return titles, nil
}
