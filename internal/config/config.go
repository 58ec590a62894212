package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"benji/internal/domain"

	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	TelegramBotToken string
	SMTPServer       string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string

	CoreTickers      []string
	ScanIntervalSecs int
	PoPThreshold     float64
	SentimentWeight  float64
	WinProbability   float64
	WinPnL           float64
	LossPnL          float64
	CallTimeoutSecs  int

	MarketDataURL      string
	MarketDataRPS      float64
	NewsSentimentURL   string
	MarketSentimentURL string

	ModelPath    string
	OpenAIAPIKey string
	OpenAIModel  string

	Port         int
	CORSOrigins  []string
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSecs) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		TelegramBotToken:   strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		SMTPServer:         strings.TrimSpace(os.Getenv("SMTP_SERVER")),
		SMTPUser:           strings.TrimSpace(os.Getenv("SMTP_USER")),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		MarketDataURL:      strings.TrimSpace(os.Getenv("MARKET_DATA_URL")),
		NewsSentimentURL:   strings.TrimSpace(os.Getenv("NEWS_SENTIMENT_URL")),
		MarketSentimentURL: strings.TrimSpace(os.Getenv("MARKET_SENTIMENT_URL")),
		ModelPath:          strings.TrimSpace(os.Getenv("MODEL_PATH")),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OTLPEndpoint:       strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	cfg.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "benji.db"
	}
	if cfg.DatabaseURL == "" {
		log.Warn().Str("sqlite_path", cfg.SQLitePath).Msg("DATABASE_URL not set, using SQLite")
	}
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, sentiment cache is in-process")
	}
	if cfg.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, telegram alerts disabled")
	}
	if cfg.SMTPServer == "" || cfg.SMTPUser == "" || cfg.SMTPPassword == "" {
		log.Warn().Msg("SMTP credentials incomplete, email alerts disabled")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, explanations use the template")
	}

	cfg.SMTPPort = positiveInt("SMTP_PORT", 587)
	cfg.CoreTickers = parseTickers(os.Getenv("CORE_TICKERS"))
	cfg.ScanIntervalSecs = positiveInt("SCAN_INTERVAL_SECS", 540)
	cfg.PoPThreshold = positiveFloat("POP_THRESHOLD", 72)
	cfg.SentimentWeight = positiveFloat("SENTIMENT_WEIGHT", 45)
	cfg.WinPnL = positiveFloat("WIN_PNL", 180)
	cfg.CallTimeoutSecs = positiveInt("CALL_TIMEOUT_SECS", 10)
	cfg.MarketDataRPS = positiveFloat("MARKET_DATA_RPS", 2)
	cfg.Port = positiveInt("PORT", 8080)

	cfg.WinProbability = 0.65
	if v := strings.TrimSpace(os.Getenv("WIN_PROBABILITY")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n < 1 {
			cfg.WinProbability = n
		} else {
			log.Warn().Str("value", v).Msg("invalid WIN_PROBABILITY, defaulting to 0.65")
		}
	}

	cfg.LossPnL = -100
	if v := strings.TrimSpace(os.Getenv("LOSS_PNL")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n < 0 {
			cfg.LossPnL = n
		} else {
			log.Warn().Str("value", v).Msg("invalid LOSS_PNL, defaulting to -100")
		}
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.LogFormat != "console" {
		if cfg.LogFormat != "" && cfg.LogFormat != "json" {
			log.Warn().Str("value", cfg.LogFormat).Msg("unsupported LOG_FORMAT, defaulting to json")
		}
		cfg.LogFormat = "json"
	}

	return cfg
}

func positiveInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Int("default", fallback).Msg("invalid value, using default")
		return fallback
	}
	return n
}

func positiveFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Float64("default", fallback).Msg("invalid value, using default")
		return fallback
	}
	return n
}

func parseTickers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), domain.DefaultCoreTickers...)
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		ticker := domain.NormalizeTicker(part)
		if ticker == "" {
			continue
		}
		if _, ok := seen[ticker]; ok {
			continue
		}
		seen[ticker] = struct{}{}
		out = append(out, ticker)
	}
	if len(out) == 0 {
		return append([]string(nil), domain.DefaultCoreTickers...)
	}
	return out
}
