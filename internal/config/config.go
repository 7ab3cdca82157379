package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync engine
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Parser   ParserConfig   `mapstructure:"parser"`
}

// SiteConfig holds everything about the remote site: endpoints, the fixed
// browser-like header set and the pacing knobs that keep us under the
// anti-bot radar.
type SiteConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	SitemapPath  string `mapstructure:"sitemap_path"`
	RegionPrefix string `mapstructure:"region_prefix"`

	// Header values are a compatibility detail, kept configurable.
	Headers map[string]string `mapstructure:"headers"`

	Timeout              int      `mapstructure:"timeout"`
	MaxRequestsPerSecond int      `mapstructure:"max_requests_per_second"`
	Proxies              []string `mapstructure:"proxies"`

	// Sequential per-category pacing and the soft budget for one full run.
	CategoryDelaySeconds int `mapstructure:"category_delay_seconds"`
	RunBudgetMinutes     int `mapstructure:"run_budget_minutes"`

	// Retry policy for failed categories.
	MaxRetries            int `mapstructure:"max_retries"`
	RetryBackoffSeconds   int `mapstructure:"retry_backoff_seconds"`
	AntiBotBackoffSeconds int `mapstructure:"anti_bot_backoff_seconds"`

	// Only these top-level sitemap categories are imported.
	CategoryAllowList []string `mapstructure:"category_allow_list"`

	// Brand substitutions for scraped SEO text, old -> new. The new name
	// goes into titles and descriptions; h1 drops the old name entirely.
	BrandReplacements map[string]string `mapstructure:"brand_replacements"`
}

// ParserConfig holds toggles for optional parsing steps
type ParserConfig struct {
	FetchWeight       bool `mapstructure:"fetch_weight"`
	StaleAfterHours   int  `mapstructure:"stale_after_hours"`
	ClearTreeOnImport bool `mapstructure:"clear_tree_on_import"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	Database      int    `mapstructure:"database"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	MinIdleTime   int    `mapstructure:"min_idle_time"`
}

// CategoryDelay returns the mandatory spacing between two categories.
func (s SiteConfig) CategoryDelay() time.Duration {
	return time.Duration(s.CategoryDelaySeconds) * time.Second
}

// RunBudget returns the soft time budget for one full synchronization run.
func (s SiteConfig) RunBudget() time.Duration {
	return time.Duration(s.RunBudgetMinutes) * time.Minute
}

// Load loads configuration from YAML file with environment variable overrides
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config.yaml file not found in current directory")
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("site.base_url", "https://mc.ru")
	viper.SetDefault("site.sitemap_path", "/sitemap/map")
	viper.SetDefault("site.region_prefix", "/region/nnovgorod")
	viper.SetDefault("site.timeout", 30)
	viper.SetDefault("site.max_requests_per_second", 1)
	viper.SetDefault("site.category_delay_seconds", 15)
	viper.SetDefault("site.run_budget_minutes", 10)
	viper.SetDefault("site.max_retries", 3)
	viper.SetDefault("site.retry_backoff_seconds", 30)
	viper.SetDefault("site.anti_bot_backoff_seconds", 300)
	viper.SetDefault("site.category_allow_list", []string{
		"Сортовой прокат",
		"Трубы",
		"Листовой прокат",
	})
	viper.SetDefault("site.headers", map[string]string{
		"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif," +
			"image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9",
		"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
		"Connection":      "keep-alive",
		"Cache-Control":   "no-cache",
		"Accept-Language": "ru-RU",
		"Accept-Encoding": "gzip, deflate, br",
	})

	viper.SetDefault("parser.fetch_weight", false)
	viper.SetDefault("parser.stale_after_hours", 24)
	viper.SetDefault("parser.clear_tree_on_import", false)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "metalsync")
	viper.SetDefault("database.user", "metalsync_user")
	viper.SetDefault("database.password", "metalsync_pass")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.consumer_group", "metalsync_consumer")
	viper.SetDefault("redis.min_idle_time", 120)
}
