package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        int
	APIKey      string

	FinnhubToken string

	TelegramBotToken string
	TelegramChatID   int64

	OpenAIAPIKey string
	OpenAIModel  string

	Universe    []string
	IndexSymbol string
	AccountID   string

	ScanPollSecs      int
	EvalPollSecs      int
	AggregatePollSecs int
	QuotePollSecs     int
	TrainHourUTC      int

	AccountEquity   float64
	PerTradeRiskPct float64
	MaxDailyLossPct float64

	TrainWindowDays int
	MinTrainSamples int
	OverfitDelta    float64
	DryRun          bool
}

var defaultUniverse = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "AMD", "NFLX", "AVGO",
	"JPM", "XOM", "UNH", "V", "COST",
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		FinnhubToken:     strings.TrimSpace(os.Getenv("FINNHUB_TOKEN")),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.APIKey == "" {
		log.Println("Warning: API_KEY not set, mutating endpoints are unprotected")
	}
	if cfg.FinnhubToken == "" {
		log.Println("Warning: FINNHUB_TOKEN not set, provider fallback disabled")
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, alerts go to the log only")
	}

	cfg.Port = 8080
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		} else {
			log.Printf("Warning: invalid TELEGRAM_CHAT_ID=%q", v)
		}
	}

	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, catalyst scoring is heuristic-only")
	}
	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.Universe = defaultUniverse
	if v := strings.TrimSpace(os.Getenv("SCAN_UNIVERSE")); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Universe = symbols
		}
	}

	cfg.IndexSymbol = strings.ToUpper(strings.TrimSpace(os.Getenv("INDEX_SYMBOL")))
	if cfg.IndexSymbol == "" {
		cfg.IndexSymbol = "SPY"
	}

	cfg.AccountID = strings.TrimSpace(os.Getenv("ACCOUNT_ID"))
	if cfg.AccountID == "" {
		cfg.AccountID = "default"
	}

	cfg.ScanPollSecs = 300
	if v := strings.TrimSpace(os.Getenv("SCAN_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ScanPollSecs = n
		}
	}

	cfg.EvalPollSecs = 900
	if v := strings.TrimSpace(os.Getenv("EVAL_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EvalPollSecs = n
		}
	}

	cfg.AggregatePollSecs = 3600
	if v := strings.TrimSpace(os.Getenv("AGGREGATE_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AggregatePollSecs = n
		}
	}

	cfg.QuotePollSecs = 60
	if v := strings.TrimSpace(os.Getenv("QUOTE_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QuotePollSecs = n
		}
	}

	cfg.TrainHourUTC = 1
	if v := strings.TrimSpace(os.Getenv("TRAIN_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.TrainHourUTC = n
		}
	}

	cfg.AccountEquity = 100000
	if v := strings.TrimSpace(os.Getenv("ACCOUNT_EQUITY")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.AccountEquity = n
		}
	}

	cfg.PerTradeRiskPct = 1.0
	if v := strings.TrimSpace(os.Getenv("PER_TRADE_RISK_PCT")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 10 {
			cfg.PerTradeRiskPct = n
		}
	}

	cfg.MaxDailyLossPct = 3.0
	if v := strings.TrimSpace(os.Getenv("MAX_DAILY_LOSS_PCT")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 50 {
			cfg.MaxDailyLossPct = n
		}
	}

	cfg.TrainWindowDays = 90
	if v := strings.TrimSpace(os.Getenv("TRAIN_WINDOW_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TrainWindowDays = n
		}
	}

	cfg.MinTrainSamples = 200
	if v := strings.TrimSpace(os.Getenv("MIN_TRAIN_SAMPLES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinTrainSamples = n
		}
	}

	cfg.OverfitDelta = 0.20
	if v := strings.TrimSpace(os.Getenv("OVERFIT_DELTA")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n < 1 {
			cfg.OverfitDelta = n
		}
	}

	cfg.DryRun = strings.EqualFold(strings.TrimSpace(os.Getenv("DRY_RUN")), "true")

	return cfg
}
