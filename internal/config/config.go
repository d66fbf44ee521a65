package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	LogPretty   bool

	TelegramBotToken    string
	TelegramAlertChatID int64

	RetryMaxAttempts  int
	RetryBaseDelayMs  int
	RetryMaxDelayMs   int
	RetryJitterFactor float64

	BreakerFailureThreshold int
	BreakerResetTimeoutMs   int
	BreakerHalfOpenTrials   int

	HealthCacheTTLSecs     int
	HealthDegradedMs       int
	HealthPollSecs         int
	PriceVarianceThreshold float64
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, critical error persistence disabled")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	cfg.Port = strings.TrimSpace(os.Getenv("PORT"))
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogPretty = strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_PRETTY")), "true")

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_ALERT_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramAlertChatID = n
		} else {
			log.Printf("Warning: invalid TELEGRAM_ALERT_CHAT_ID=%q, alerts disabled", v)
		}
	}

	cfg.RetryMaxAttempts = envInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseDelayMs = envInt("RETRY_BASE_DELAY_MS", 1000)
	cfg.RetryMaxDelayMs = envInt("RETRY_MAX_DELAY_MS", 30000)

	cfg.RetryJitterFactor = 0.2
	if v := strings.TrimSpace(os.Getenv("RETRY_JITTER_FACTOR")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.RetryJitterFactor = n
		}
	}

	cfg.BreakerFailureThreshold = envInt("BREAKER_FAILURE_THRESHOLD", 5)
	cfg.BreakerResetTimeoutMs = envInt("BREAKER_RESET_TIMEOUT_MS", 60000)
	cfg.BreakerHalfOpenTrials = envInt("BREAKER_HALF_OPEN_TRIALS", 1)

	cfg.HealthCacheTTLSecs = envInt("HEALTH_CACHE_TTL_SECS", 30)
	cfg.HealthDegradedMs = envInt("HEALTH_DEGRADED_MS", 250)
	cfg.HealthPollSecs = envInt("HEALTH_POLL_SECS", 60)

	cfg.PriceVarianceThreshold = 0.05
	if v := strings.TrimSpace(os.Getenv("PRICE_VARIANCE_THRESHOLD")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.PriceVarianceThreshold = n
		}
	}

	return cfg
}

func envInt(name string, def int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
