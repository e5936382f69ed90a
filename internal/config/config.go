// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Renderers accepted in RENDERER.
const (
	RendererChrome = "chrome"
	RendererHTTP   = "http"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	AdminChatID      int64

	ScanInterval     time.Duration
	SubscriptionTerm time.Duration
	TrialDuration    time.Duration
	InactivityTTL    time.Duration

	SubscriptionPrice    int
	PaymentCurrency      string
	PaymentProviderToken string

	Renderer            string
	PageTimeout         time.Duration
	PageRetries         uint64
	MaxPages            int
	SelectorsConfigPath string

	SendRate    float64
	MetricsAddr string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken:     token,
		DatabasePath:         getEnv("DATABASE_PATH", "./data/bot.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		PaymentCurrency:      getEnv("PAYMENT_CURRENCY", "XTR"),
		PaymentProviderToken: os.Getenv("PAYMENT_PROVIDER_TOKEN"),
		Renderer:             strings.ToLower(getEnv("RENDERER", RendererChrome)),
		SelectorsConfigPath:  os.Getenv("SELECTORS_CONFIG_PATH"),
		MetricsAddr:          ":9090",
	}
	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = addr
	}

	if cfg.Renderer != RendererChrome && cfg.Renderer != RendererHTTP {
		return nil, fmt.Errorf("invalid RENDERER %q: want %s or %s", cfg.Renderer, RendererChrome, RendererHTTP)
	}

	var err error
	if cfg.AllowedUsers, err = parseIDList("ALLOWED_USERS"); err != nil {
		return nil, err
	}
	if cfg.AdminChatID, err = getInt64("ADMIN_CHAT_ID", 0); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"SCAN_INTERVAL", 6 * time.Minute, &cfg.ScanInterval},
		{"SUBSCRIPTION_TERM", 30 * 24 * time.Hour, &cfg.SubscriptionTerm},
		{"TRIAL_DURATION", 48 * time.Hour, &cfg.TrialDuration},
		{"INACTIVITY_TTL", 36 * 24 * time.Hour, &cfg.InactivityTTL},
		{"PAGE_TIMEOUT", 45 * time.Second, &cfg.PageTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	price, err := getInt64("SUBSCRIPTION_PRICE", 2500)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, fmt.Errorf("SUBSCRIPTION_PRICE must be positive, got %d", price)
	}
	cfg.SubscriptionPrice = int(price)

	retries, err := getInt64("PAGE_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		return nil, fmt.Errorf("PAGE_RETRIES must not be negative, got %d", retries)
	}
	cfg.PageRetries = uint64(retries)

	maxPages, err := getInt64("MAX_PAGES", 20)
	if err != nil {
		return nil, err
	}
	if maxPages < 1 {
		return nil, fmt.Errorf("MAX_PAGES must be at least 1, got %d", maxPages)
	}
	cfg.MaxPages = int(maxPages)

	cfg.SendRate = 20
	if raw := os.Getenv("SEND_RATE"); raw != "" {
		if cfg.SendRate, err = strconv.ParseFloat(raw, 64); err != nil || cfg.SendRate <= 0 {
			return nil, fmt.Errorf("invalid SEND_RATE %q", raw)
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func parseIDList(key string) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
