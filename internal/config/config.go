package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort          int
	DBPath            string
	BackendURL        string
	OAuthClientID     string
	OAuthClientSecret string
	TokenFreshnessTTL time.Duration
}

func Load() Config {
	return Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 3026),
		DBPath:            getEnvString("DB_PATH", "jobmail.db"),
		BackendURL:        getEnvString("BACKEND_URL", "http://localhost:8000"),
		OAuthClientID:     getEnvString("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnvString("OAUTH_CLIENT_SECRET", ""),
		TokenFreshnessTTL: getEnvDuration("TOKEN_FRESHNESS_TTL", time.Hour),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
