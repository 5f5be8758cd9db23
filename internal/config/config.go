package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string

	APIBaseURL string
	WSURL      string
	AuthToken  string

	RequestTimeout       time.Duration
	ReconnectMaxAttempts int
	ReconnectInitialWait time.Duration
	ReconnectMaxWait     time.Duration

	HistoryPageSize  int
	TypingIdleWindow time.Duration
	TypingPublishHz  float64
	UnreadBadgeCap   int

	Debug bool
}

// LoadDotEnv loads .env files with priority: .env.local > .env.
// godotenv.Load does not overwrite already-set env vars, so OS env always
// wins. Returns the list of files actually loaded.
func LoadDotEnv() []string {
	candidates := []string{".env.local", ".env"}
	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName: getEnv("APP_NAME", "chatcore"),
		Env:     getEnv("APP_ENV", "development"),

		APIBaseURL: strings.TrimRight(getEnv("CHAT_API_URL", "http://localhost:8000/api"), "/"),
		WSURL:      getEnv("CHAT_WS_URL", "ws://localhost:8000/ws"),
		AuthToken:  os.Getenv("CHAT_AUTH_TOKEN"),

		RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		ReconnectMaxAttempts: getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 8),
		ReconnectInitialWait: getEnvAsDuration("RECONNECT_INITIAL_WAIT", 500*time.Millisecond),
		ReconnectMaxWait:     getEnvAsDuration("RECONNECT_MAX_WAIT", 30*time.Second),

		HistoryPageSize:  getEnvAsInt("HISTORY_PAGE_SIZE", 50),
		TypingIdleWindow: getEnvAsDuration("TYPING_IDLE_WINDOW", 2*time.Second),
		TypingPublishHz:  getEnvAsFloat("TYPING_PUBLISH_HZ", 0.5),
		UnreadBadgeCap:   getEnvAsInt("UNREAD_BADGE_CAP", 99),

		Debug: getEnvAsBool("DEBUG", true),
	}

	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("CHAT_AUTH_TOKEN is required")
	}
	if cfg.ReconnectMaxAttempts < 0 {
		return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be non-negative")
	}
	if cfg.HistoryPageSize <= 0 {
		return nil, fmt.Errorf("HISTORY_PAGE_SIZE must be positive")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
