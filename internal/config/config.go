// Package config loads and validates the engine configuration from a YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	defaultServerAddress   = ":8095"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	defaultTickInterval       = 10 * time.Second
	defaultDispatchBatchSize  = 50
	defaultGraceWindow        = 2 * time.Minute
	defaultStaleDispatchAge   = 5 * time.Minute
	defaultMaxPublishAttempts = 5
	defaultPublishTimeout     = 10 * time.Second
	defaultBackoffBase        = 2 * time.Second
	defaultBackoffCap         = 2 * time.Minute
	defaultSendsPerMinute     = 20

	defaultCollectInterval = 2 * time.Minute
	defaultSourceTimeout   = 5 * time.Second

	defaultViralInterval  = 1 * time.Minute
	defaultViralCooldown  = 6 * time.Hour
	defaultViralWindow    = 30 * time.Minute
	defaultReachGrowth    = 2.0
	defaultEngageSpike    = 3.0
	defaultCommentsPerMin = 5.0

	defaultSpamConfidence  = 0.8
	defaultSpamBurstCount  = 3
	defaultSpamBurstWindow = 5 * time.Minute
	defaultReplyDedupTTL   = 7 * 24 * time.Hour

	defaultConfidenceLevel = 0.95
)

// Config holds the full engine configuration.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Platform   PlatformConfig   `yaml:"platform"`
	Producer   ProducerConfig   `yaml:"producer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Collector  CollectorConfig  `yaml:"collector"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Engagement EngagementConfig `yaml:"engagement"`
	Viral      ViralConfig      `yaml:"viral"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JWTSecret       string        `yaml:"jwt_secret"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PlatformConfig holds the messaging platform publish API configuration.
type PlatformConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProducerConfig holds the content producer collaborator configuration.
type ProducerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled bool          `yaml:"enabled"`
}

// SchedulerConfig holds dispatch loop configuration.
type SchedulerConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	BatchSize        int           `yaml:"batch_size"`
	GraceWindow      time.Duration `yaml:"grace_window"`
	StaleDispatchAge time.Duration `yaml:"stale_dispatch_age"`
}

// PublisherConfig holds publish retry and rate limit configuration.
type PublisherConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	SendsPerMinute int           `yaml:"sends_per_minute"`
}

// CollectorConfig holds metric collection configuration.
type CollectorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	AnalyticsURL  string        `yaml:"analytics_url"`
}

// ExperimentConfig holds A/B testing configuration.
type ExperimentConfig struct {
	ConfidenceLevel float64 `yaml:"confidence_level"`
	// ForceWinnerOnTimeout picks the highest point-estimate variant when the
	// duration elapses without significance instead of recording no clear
	// winner.
	ForceWinnerOnTimeout bool `yaml:"force_winner_on_timeout"`
}

// EngagementConfig holds engagement processing configuration.
type EngagementConfig struct {
	SpamConfidence  float64       `yaml:"spam_confidence"`
	SpamBurstCount  int           `yaml:"spam_burst_count"`
	SpamBurstWindow time.Duration `yaml:"spam_burst_window"`
	ReplyDedupTTL   time.Duration `yaml:"reply_dedup_ttl"`
}

// ViralConfig holds viral monitoring thresholds.
type ViralConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Cooldown          time.Duration `yaml:"cooldown"`
	TrailingWindow    time.Duration `yaml:"trailing_window"`
	ReachGrowthRate   float64       `yaml:"reach_growth_rate"`
	EngagementSpike   float64       `yaml:"engagement_spike"`
	CommentsPerMinute float64       `yaml:"comments_per_minute"`
}

// NotifyConfig holds admin notification configuration.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Load reads the YAML config at path, applies defaults and environment
// variable overrides, and validates the result. A .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	// Non-fatal if the file does not exist
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration and returns an error if it is unusable.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Platform.BaseURL == "" {
		return errors.New("platform.base_url is required")
	}
	if c.Producer.Enabled && c.Producer.URL == "" {
		return errors.New("producer.url is required when producer.enabled is true")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %v", c.Scheduler.TickInterval)
	}
	if c.Publisher.MaxAttempts <= 0 {
		return fmt.Errorf("publisher.max_attempts must be positive, got %d", c.Publisher.MaxAttempts)
	}
	if c.Publisher.SendsPerMinute <= 0 {
		return fmt.Errorf("publisher.sends_per_minute must be positive, got %d", c.Publisher.SendsPerMinute)
	}
	if c.Experiment.ConfidenceLevel <= 0 || c.Experiment.ConfidenceLevel >= 1 {
		return fmt.Errorf("experiment.confidence_level must be in (0,1), got %v", c.Experiment.ConfidenceLevel)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultServerAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = defaultPublishTimeout
	}
	if cfg.Producer.Timeout == 0 {
		cfg.Producer.Timeout = defaultSourceTimeout
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = defaultTickInterval
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = defaultDispatchBatchSize
	}
	if cfg.Scheduler.GraceWindow == 0 {
		cfg.Scheduler.GraceWindow = defaultGraceWindow
	}
	if cfg.Scheduler.StaleDispatchAge == 0 {
		cfg.Scheduler.StaleDispatchAge = defaultStaleDispatchAge
	}
	if cfg.Publisher.MaxAttempts == 0 {
		cfg.Publisher.MaxAttempts = defaultMaxPublishAttempts
	}
	if cfg.Publisher.AttemptTimeout == 0 {
		cfg.Publisher.AttemptTimeout = defaultPublishTimeout
	}
	if cfg.Publisher.BackoffBase == 0 {
		cfg.Publisher.BackoffBase = defaultBackoffBase
	}
	if cfg.Publisher.BackoffCap == 0 {
		cfg.Publisher.BackoffCap = defaultBackoffCap
	}
	if cfg.Publisher.SendsPerMinute == 0 {
		cfg.Publisher.SendsPerMinute = defaultSendsPerMinute
	}
	if cfg.Collector.Interval == 0 {
		cfg.Collector.Interval = defaultCollectInterval
	}
	if cfg.Collector.SourceTimeout == 0 {
		cfg.Collector.SourceTimeout = defaultSourceTimeout
	}
	if cfg.Experiment.ConfidenceLevel == 0 {
		cfg.Experiment.ConfidenceLevel = defaultConfidenceLevel
	}
	if cfg.Engagement.SpamConfidence == 0 {
		cfg.Engagement.SpamConfidence = defaultSpamConfidence
	}
	if cfg.Engagement.SpamBurstCount == 0 {
		cfg.Engagement.SpamBurstCount = defaultSpamBurstCount
	}
	if cfg.Engagement.SpamBurstWindow == 0 {
		cfg.Engagement.SpamBurstWindow = defaultSpamBurstWindow
	}
	if cfg.Engagement.ReplyDedupTTL == 0 {
		cfg.Engagement.ReplyDedupTTL = defaultReplyDedupTTL
	}
	if cfg.Viral.Interval == 0 {
		cfg.Viral.Interval = defaultViralInterval
	}
	if cfg.Viral.Cooldown == 0 {
		cfg.Viral.Cooldown = defaultViralCooldown
	}
	if cfg.Viral.TrailingWindow == 0 {
		cfg.Viral.TrailingWindow = defaultViralWindow
	}
	if cfg.Viral.ReachGrowthRate == 0 {
		cfg.Viral.ReachGrowthRate = defaultReachGrowth
	}
	if cfg.Viral.EngagementSpike == 0 {
		cfg.Viral.EngagementSpike = defaultEngageSpike
	}
	if cfg.Viral.CommentsPerMinute == 0 {
		cfg.Viral.CommentsPerMinute = defaultCommentsPerMin
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = defaultSourceTimeout
	}
}

func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		cfg.Server.Address = ":" + v
	}
	if v := os.Getenv("ENGINE_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PLATFORM_BASE_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}
	if v := os.Getenv("PLATFORM_TOKEN"); v != "" {
		cfg.Platform.Token = v
	}
	if v := os.Getenv("PRODUCER_URL"); v != "" {
		cfg.Producer.URL = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return parsed
}
