// Package catalyst turns recent news flow into the extractor's
// catalyst_score feature: 0 means no news, 1 means a strong tradeable
// catalyst. An LLM refines the keyword heuristic when configured; the
// heuristic always provides the floor so a dead API key never blocks a scan.
package catalyst

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/trace"
)

const scoreCacheTTL = 15 * time.Minute

// ChatClient abstracts the OpenAI chat completions API for testability.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openAIClient struct {
	client openai.Client
}

func (c *openAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

type cachedScore struct {
	score float64
	at    time.Time
}

// Scorer rates news catalysts per symbol.
type Scorer struct {
	tracer    trace.Tracer
	headlines HeadlineSource
	llm       ChatClient
	model     string

	mu    sync.Mutex
	cache map[string]cachedScore
	now   func() time.Time
}

// NewScorer creates the scorer. apiKey may be empty; the scorer then runs
// heuristic-only.
func NewScorer(tracer trace.Tracer, headlines HeadlineSource, apiKey, model string) *Scorer {
	s := &Scorer{
		tracer:    tracer,
		headlines: headlines,
		cache:     make(map[string]cachedScore),
		now:       time.Now,
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		if strings.TrimSpace(model) == "" {
			model = "gpt-4o-mini"
		}
		client := openai.NewClient(option.WithAPIKey(apiKey))
		s.llm = &openAIClient{client: client}
		s.model = model
	}
	return s
}

// Score returns the catalyst score in [0, 1] for one symbol. Headline fetch
// failures degrade to 0: no news is the neutral state.
func (s *Scorer) Score(ctx context.Context, symbol string) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "catalyst.score")
	defer span.End()

	if cached, ok := s.getCached(symbol); ok {
		return cached, nil
	}

	titles, err := s.headlines.Headlines(ctx, symbol, 10)
	if err != nil {
		log.Printf("catalyst headlines %s: %v", symbol, err)
		return 0, nil
	}
	if len(titles) == 0 {
		s.setCached(symbol, 0)
		return 0, nil
	}

	score := HeuristicScore(titles)

	if s.llm != nil {
		llmScore, err := s.scoreWithLLM(ctx, symbol, titles)
		if err != nil {
			log.Printf("catalyst llm %s: %v", symbol, err)
		} else {
			score = llmScore
		}
	}

	s.setCached(symbol, score)
	return score, nil
}

// HeuristicScore is the keyword fallback. Strong catalyst words (earnings,
// guidance, FDA, merger) weigh more than generic momentum words.
func HeuristicScore(titles []string) float64 {
	strong := []string{"earnings", "guidance", "fda", "approval", "merger", "acquisition", "buyout", "upgrade", "downgrade", "lawsuit", "recall", "investigation"}
	weak := []string{"beat", "miss", "surge", "jump", "plunge", "rally", "record", "contract", "partnership", "launch"}

	var hits float64
	for _, title := range titles {
		text := strings.ToLower(title)
		for _, token := range strong {
			if strings.Contains(text, token) {
				hits += 1.0
				break
			}
		}
		for _, token := range weak {
			if strings.Contains(text, token) {
				hits += 0.5
				break
			}
		}
	}

	// Two strong catalysts saturate the score.
	score := hits / 2.0
	if score > 1 {
		score = 1
	}
	return score
}

func (s *Scorer) scoreWithLLM(ctx context.Context, symbol string, titles []string) (float64, error) {
	systemPrompt := "You rate how strong a near-term trading catalyst recent headlines represent for a stock. Return ONLY JSON: {\"score\": <0..1>}. 0 = routine noise, 1 = major tradeable event (earnings surprise, M&A, FDA decision). No markdown."
	userPrompt := fmt.Sprintf("Symbol: %s\nHeadlines:\n- %s", symbol, strings.Join(titles, "\n- "))

	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return 0, err
	}
	if len(completion.Choices) == 0 {
		return 0, fmt.Errorf("empty catalyst completion")
	}

	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return 0, fmt.Errorf("parse catalyst json: %w", err)
	}
	if parsed.Score < 0 {
		parsed.Score = 0
	}
	if parsed.Score > 1 {
		parsed.Score = 1
	}
	return parsed.Score, nil
}

func (s *Scorer) getCached(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[symbol]
	if !ok || s.now().Sub(entry.at) > scoreCacheTTL {
		return 0, false
	}
	return entry.score, true
}

func (s *Scorer) setCached(symbol string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[symbol] = cachedScore{score: score, at: s.now()}
}
