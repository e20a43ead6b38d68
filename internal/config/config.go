package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Research  ResearchConfig  `mapstructure:"research"`
	Media     MediaConfig     `mapstructure:"media"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or memory
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// RedisConfig enables Redis for locks, the topic registry and calendar counters.
// Without it those live in the database (registry, counters) and in process (locks).
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockRefresh time.Duration `mapstructure:"lock_refresh"` // zero means a third of lock_ttl
}

// AnthropicConfig holds Claude API settings
type AnthropicConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxRetries  int     `mapstructure:"max_retries"` // SDK-level retries, 0 leaves retrying to the pipeline
}

// SourcesConfig holds topic source configurations
type SourcesConfig struct {
	RSS    RSSConfig    `mapstructure:"rss"`
	Custom CustomConfig `mapstructure:"custom"`
}

// RSSConfig holds RSS feed settings
type RSSConfig struct {
	Enabled bool      `mapstructure:"enabled"`
	Feeds   []RSSFeed `mapstructure:"feeds"`
}

// RSSFeed represents a single RSS feed
type RSSFeed struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// CustomConfig holds custom keyword settings
type CustomConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Keywords []string `mapstructure:"keywords"`
}

// ResearchConfig configures the Researcher provider
type ResearchConfig struct {
	MaxSources int             `mapstructure:"max_sources"`
	UseFeeds   bool            `mapstructure:"use_feeds"` // search the configured RSS feeds
	Web        WebSearchConfig `mapstructure:"web"`
}

// WebSearchConfig configures scraping a search results page for sources
type WebSearchConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	SearchURL      string `mapstructure:"search_url"`      // %s is replaced by the escaped topic
	ResultSelector string `mapstructure:"result_selector"` // CSS selector of result links
	UserAgent      string `mapstructure:"user_agent"`
}

// MediaConfig holds thumbnail settings
type MediaConfig struct {
	Provider         string   `mapstructure:"provider"`          // "unsplash" or "static"
	UnsplashAPIKey   string   `mapstructure:"unsplash_api_key"`  // Unsplash API access key
	UnsplashBaseURL  string   `mapstructure:"unsplash_base_url"` // overrides the API host
	DefaultThumbnail string   `mapstructure:"default_thumbnail"` // used by the static provider
	S3               S3Config `mapstructure:"s3"`
}

// S3Config enables copying thumbnails into an S3 bucket
type S3Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// PipelineConfig holds orchestrator settings
type PipelineConfig struct {
	MaxStageRetries        int           `mapstructure:"max_stage_retries"`
	LifetimeRetryCeiling   int           `mapstructure:"lifetime_retry_ceiling"`
	ProviderTimeout        time.Duration `mapstructure:"provider_timeout"`
	RetryBackoff           time.Duration `mapstructure:"retry_backoff"`
	MinWords               int           `mapstructure:"min_words"`
	MaxWords               int           `mapstructure:"max_words"`
	Concurrency            int           `mapstructure:"concurrency"`
	BatchSize              int           `mapstructure:"batch_size"`
	NearDuplicateThreshold float64       `mapstructure:"near_duplicate_threshold"` // 0 disables fuzzy matching
	StripStopWords         bool          `mapstructure:"strip_stop_words"`
	TargetKeywords         []string      `mapstructure:"target_keywords"`
	BlogVoice              string        `mapstructure:"blog_voice"`
}

// CalendarConfig describes the publishing cadence
type CalendarConfig struct {
	Name         string   `mapstructure:"name"`
	BaseDate     string   `mapstructure:"base_date"`    // YYYY-MM-DD of slot zero
	PublishTime  string   `mapstructure:"publish_time"` // HH:MM local time
	Timezone     string   `mapstructure:"timezone"`
	IntervalDays int      `mapstructure:"interval_days"`
	Blackouts    []string `mapstructure:"blackouts"` // YYYY-MM-DD
}

// SchedulerConfig holds cron expressions for the periodic drivers
type SchedulerConfig struct {
	AdvanceCron   string `mapstructure:"advance_cron"`
	AssignCron    string `mapstructure:"assign_cron"`
	PublishCron   string `mapstructure:"publish_cron"`
	DiscoveryCron string `mapstructure:"discovery_cron"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	AnthropicRequestsPerMinute int `mapstructure:"anthropic_requests_per_minute"`
	UnsplashRequestsPerHour    int `mapstructure:"unsplash_requests_per_hour"`
	SourceRequestsPerHour      int `mapstructure:"source_requests_per_hour"`
	WebRequestsPerMinute       int `mapstructure:"web_requests_per_minute"`
}

// KafkaConfig enables post.published events
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// APIConfig holds the dashboard HTTP API settings
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// DiscoveryConfig holds topic discovery settings
type DiscoveryConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxTopicsPerRun int     `mapstructure:"max_topics_per_run"`
	MinScore        float64 `mapstructure:"min_score"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".blog-autopilot"))
		}
	}

	v.SetEnvPrefix("BLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for secrets and deployment switches
	v.BindEnv("anthropic.api_key", "BLOG_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("database.driver", "BLOG_DATABASE_DRIVER")
	v.BindEnv("database.dsn", "BLOG_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("redis.enabled", "BLOG_REDIS_ENABLED")
	v.BindEnv("redis.addr", "BLOG_REDIS_ADDR")
	v.BindEnv("redis.password", "BLOG_REDIS_PASSWORD")
	v.BindEnv("media.unsplash_api_key", "BLOG_MEDIA_UNSPLASH_API_KEY")
	v.BindEnv("media.s3.bucket", "BLOG_MEDIA_S3_BUCKET")
	v.BindEnv("kafka.enabled", "BLOG_KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "BLOG_KAFKA_BROKERS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/blog.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "blog")
	v.SetDefault("redis.lock_ttl", "10m")
	v.SetDefault("redis.lock_refresh", "0s")

	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.7)
	v.SetDefault("anthropic.max_retries", 0)

	v.SetDefault("sources.rss.enabled", true)
	v.SetDefault("sources.custom.enabled", true)

	v.SetDefault("research.max_sources", 5)
	v.SetDefault("research.use_feeds", true)
	v.SetDefault("research.web.enabled", false)
	v.SetDefault("research.web.result_selector", "a.result__a")
	v.SetDefault("research.web.user_agent", "blog-autopilot/1.0")

	v.SetDefault("media.provider", "unsplash")
	v.SetDefault("media.s3.enabled", false)
	v.SetDefault("media.s3.prefix", "thumbnails/")

	v.SetDefault("pipeline.max_stage_retries", 3)
	v.SetDefault("pipeline.lifetime_retry_ceiling", 5)
	v.SetDefault("pipeline.provider_timeout", "2m")
	v.SetDefault("pipeline.retry_backoff", "5s")
	v.SetDefault("pipeline.min_words", 300)
	v.SetDefault("pipeline.max_words", 600)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.near_duplicate_threshold", 0.8)
	v.SetDefault("pipeline.strip_stop_words", false)
	v.SetDefault("pipeline.blog_voice", "Clear, friendly and practical. Explain concepts with short examples for curious beginners.")

	v.SetDefault("calendar.name", "blog")
	v.SetDefault("calendar.base_date", "2026-01-05")
	v.SetDefault("calendar.publish_time", "09:00")
	v.SetDefault("calendar.timezone", "UTC")
	v.SetDefault("calendar.interval_days", 14)

	v.SetDefault("scheduler.advance_cron", "*/15 * * * *") // Every 15 minutes
	v.SetDefault("scheduler.assign_cron", "*/5 * * * *")
	v.SetDefault("scheduler.publish_cron", "* * * * *")   // Every minute
	v.SetDefault("scheduler.discovery_cron", "0 6 * * 1") // Monday 6am

	v.SetDefault("rate_limit.anthropic_requests_per_minute", 10)
	v.SetDefault("rate_limit.unsplash_requests_per_hour", 50)
	v.SetDefault("rate_limit.source_requests_per_hour", 60)
	v.SetDefault("rate_limit.web_requests_per_minute", 20)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "blog.posts")
	v.SetDefault("kafka.client_id", "blog-autopilot")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.max_topics_per_run", 2)
	v.SetDefault("discovery.min_score", 60.0)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	switch c.Media.Provider {
	case "unsplash":
		if c.Media.UnsplashAPIKey == "" {
			return fmt.Errorf("media.unsplash_api_key is required for the unsplash provider")
		}
	case "static":
		if c.Media.DefaultThumbnail == "" {
			return fmt.Errorf("media.default_thumbnail is required for the static provider")
		}
	default:
		return fmt.Errorf("media.provider must be unsplash or static, got %q", c.Media.Provider)
	}
	if c.Media.S3.Enabled && c.Media.S3.Bucket == "" {
		return fmt.Errorf("media.s3.bucket is required when s3 is enabled")
	}
	if c.Pipeline.MinWords <= 0 || c.Pipeline.MinWords > c.Pipeline.MaxWords {
		return fmt.Errorf("pipeline word range %d-%d is invalid", c.Pipeline.MinWords, c.Pipeline.MaxWords)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Research.Web.Enabled && !strings.Contains(c.Research.Web.SearchURL, "%s") {
		return fmt.Errorf("research.web.search_url must contain %%s for the topic")
	}
	if _, _, err := c.Calendar.Base(); err != nil {
		return err
	}
	return nil
}

// Base returns the first slot of the calendar in its timezone
func (c CalendarConfig) Base() (time.Time, *time.Location, error) {
	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("invalid calendar.timezone %q: %w", c.Timezone, err)
		}
		loc = l
	}

	clock := c.PublishTime
	if clock == "" {
		clock = "09:00"
	}
	base, err := time.ParseInLocation("2006-01-02 15:04", c.BaseDate+" "+clock, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid calendar base_date/publish_time: %w", err)
	}
	return base, loc, nil
}
