package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	errInvalidPort     = errors.New("config: invalid PORT number")
	errInvalidAPIURL   = errors.New("config: API_URL must be an absolute http(s) URL")
	errInvalidPageSize = errors.New("config: PAGE_SIZE must be positive")
	errInvalidInterval = errors.New("config: durations must be positive")
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	APIURL         string
	Port           string
	LogLevel       string
	DBPath         string
	HTTPTimeout    time.Duration
	PollInterval   time.Duration
	StaleTime      time.Duration
	SearchDebounce time.Duration
	PageSize       int
	SessionTTL     time.Duration
}

// LoadEnvFiles seeds the process environment from .env.development, then .env.
// Missing files are ignored; already-set variables win.
func LoadEnvFiles() {
	for _, file := range []string{".env.development", ".env"} {
		_ = godotenv.Load(file)
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		APIURL:         getEnv("API_URL", "http://localhost:8080/api"),
		Port:           getEnv("PORT", "3000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DBPath:         getEnv("DB_PATH", "./crawler-dashboard.db"),
		HTTPTimeout:    getEnvAsDuration("HTTP_TIMEOUT", 10*time.Second),
		PollInterval:   getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
		StaleTime:      getEnvAsDuration("STALE_TIME", 0),
		SearchDebounce: getEnvAsDuration("SEARCH_DEBOUNCE", 500*time.Millisecond),
		PageSize:       getEnvAsInt("PAGE_SIZE", 10),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 30*time.Minute),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: %q", errInvalidPort, c.Port)
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", errInvalidAPIURL, c.APIURL)
	}

	if c.PageSize < 1 {
		return fmt.Errorf("%w: got %d", errInvalidPageSize, c.PageSize)
	}

	if c.HTTPTimeout <= 0 || c.PollInterval <= 0 || c.SearchDebounce <= 0 || c.SessionTTL <= 0 || c.StaleTime < 0 {
		return errInvalidInterval
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return v
}
