package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                 int
	APIKey               string
	LogLevel             string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiBaseURL        string
	OracleAttemptTimeout time.Duration
	OracleTotalBudget    time.Duration
	OracleMaxAttempts    int
	DatabaseURL          string
	NatsURL              string
	NatsToken            string
	CallbackURL          string
	CallbackTimeout      time.Duration
}

func Load() Config {
	return Config{
		Port:                 envInt("STINGER_PORT", 8800),
		APIKey:               envStr("STINGER_API_KEY", ""),
		LogLevel:             envStr("LOG_LEVEL", "info"),
		GeminiAPIKey:         envStr("GEMINI_API_KEY", ""),
		GeminiModel:          envStr("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:        envStr("GEMINI_BASE_URL", ""),
		OracleAttemptTimeout: envDur("ORACLE_ATTEMPT_TIMEOUT", 8*time.Second),
		OracleTotalBudget:    envDur("ORACLE_TOTAL_BUDGET", 20*time.Second),
		OracleMaxAttempts:    envInt("ORACLE_MAX_ATTEMPTS", 3),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		NatsURL:              envStr("NATS_URL", ""),
		NatsToken:            envStr("NATS_TOKEN", ""),
		CallbackURL:          envStr("CALLBACK_URL", ""),
		CallbackTimeout:      envDur("CALLBACK_TIMEOUT", 5*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
