// Package config loads the two-tier configuration: environment variables
// (via godotenv) for tunables and connection strings, plus one YAML file per
// scraper site describing its endpoint, priority index, and rate limit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	DatabaseURL string
	LogPath string
	LogLevel string

	ParallelLimit int
	ScrapingPauseTimeout time.Duration
	StaleListingHours time.Duration
	StallRunningThreshold time.Duration
	StallPausedThreshold time.Duration
	DetailRefetchHours time.Duration
	DuplicateCacheTTL time.Duration
	RecentUpdatesCacheTTL time.Duration
	HTTPRetries int
	HTTPTimeout time.Duration
	SoldPriceVoteWindow time.Duration
	ListingLifecycleInterval time.Duration
	PriceChangeQueueBatchSize int
	PriceChangeQueueInterval time.Duration
	DuplicateDetectCron string

	Sites map[string]*SiteConfig
}

// SiteConfig is one scraper source's endpoint and tuning, modeled on
// per-site YAML under config/sources/*.yaml.
type SiteConfig struct {
	ID string `yaml:"id"`
	Name string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	PriorityIndex int `yaml:"priority_index"` // lower = higher vote weight,
	RateLimitMS int `yaml:"rate_limit_ms"`
	AreaCodes []string `yaml:"area_codes"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogPath: getEnv("LOG_PATH", "scrooper.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ParallelLimit: getEnvInt("PARALLEL_LIMIT", 3),
		ScrapingPauseTimeout: getEnvSeconds("SCRAPING_PAUSE_TIMEOUT", 1800),
		StaleListingHours: getEnvHours("STALE_LISTING_HOURS", 24),
		StallRunningThreshold: getEnvMinutes("STALL_RUNNING_THRESHOLD_MINUTES", 10),
		StallPausedThreshold: getEnvMinutes("STALL_PAUSED_THRESHOLD_MINUTES", 30),
		DetailRefetchHours: getEnvHours("DETAIL_REFETCH_HOURS", 72),
		DuplicateCacheTTL: getEnvSeconds("DUPLICATE_CACHE_TTL_SECONDS", 300),
		RecentUpdatesCacheTTL: getEnvSeconds("RECENT_UPDATES_CACHE_TTL_SECONDS", 1800),
		HTTPRetries: getEnvInt("HTTP_RETRIES", 3),
		HTTPTimeout: getEnvSeconds("HTTP_TIMEOUT_SECONDS", 10),
		SoldPriceVoteWindow: getEnvDuration("SOLD_PRICE_VOTE_WINDOW_DAYS", 7*24*time.Hour, 24*time.Hour),
		ListingLifecycleInterval: getEnvMinutes("LISTING_LIFECYCLE_INTERVAL_MINUTES", 15),
		PriceChangeQueueBatchSize: getEnvInt("PRICE_CHANGE_QUEUE_BATCH_SIZE", 20),
		PriceChangeQueueInterval: getEnvSeconds("PRICE_CHANGE_QUEUE_INTERVAL_SECONDS", 2),
		DuplicateDetectCron: getEnv("DUPLICATE_DETECT_CRON", "0 3 * * *"),

		Sites: make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing required config: DATABASE_URL")
	}
	return nil
}

func (c *Config) loadSiteConfigs() error {
	dir := "config/sources"
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		c.Sites[site.ID] = &site
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration, unit time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * unit
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return getEnvDuration(key, time.Duration(defaultSeconds)*time.Second, time.Second)
}

func getEnvMinutes(key string, defaultMinutes int) time.Duration {
	return getEnvDuration(key, time.Duration(defaultMinutes)*time.Minute, time.Minute)
}

func getEnvHours(key string, defaultHours int) time.Duration {
	return getEnvDuration(key, time.Duration(defaultHours)*time.Hour, time.Hour)
}
