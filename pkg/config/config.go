// Package config loads activity-export settings from defaults, a YAML file,
// .env files, ACTIVITY_EXPORT_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "ACTIVITY_EXPORT_"

// Sink kinds.
const (
	SinkCSV      = "csv"
	SinkS3       = "s3"
	SinkPostgres = "postgres"
)

// Rate limiter stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration options.
type Config struct {
	API         APIConfig         `yaml:"api" json:"api"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
	Fetch       FetchConfig       `yaml:"fetch" json:"fetch"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	Redis       RedisConfig       `yaml:"redis" json:"redis"`
	Sink        SinkConfig        `yaml:"sink" json:"sink"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`

	// Timezone anchors the hours of a day ("Local", "UTC", "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`
}

// APIConfig holds the reporting API settings.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	TokenURL  string        `yaml:"token_url" json:"token_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`

	// EventType selects a typed activity endpoint ("dns", "proxy", "firewall"); empty means all.
	EventType string `yaml:"event_type" json:"event_type"`

	// Categories are category labels resolved to ids before the run.
	Categories    []string      `yaml:"categories" json:"categories"`
	CategoriesTTL time.Duration `yaml:"categories_ttl" json:"categories_ttl"`
}

// CredentialsConfig holds the client credentials. Empty values fall back to
// the keyring profile and then to an interactive prompt.
type CredentialsConfig struct {
	ClientID       string `yaml:"client_id" json:"client_id"`
	ClientSecret   string `yaml:"client_secret" json:"-"`
	KeyringProfile string `yaml:"keyring_profile" json:"keyring_profile"`
	Interactive    bool   `yaml:"interactive" json:"interactive"`
	LoginAttempts  int    `yaml:"login_attempts" json:"login_attempts"`
}

// FetchConfig holds the paging and retry settings.
type FetchConfig struct {
	PageSize           int           `yaml:"page_size" json:"page_size"`
	HourCeiling        int           `yaml:"hour_ceiling" json:"hour_ceiling"`
	RetryAttempts      int           `yaml:"retry_attempts" json:"retry_attempts"`
	MaxConsecutive403  int           `yaml:"max_consecutive_403" json:"max_consecutive_403"`
	ReauthFailureDelay time.Duration `yaml:"reauth_failure_delay" json:"reauth_failure_delay"`
}

// RateLimitConfig holds the request budget.
type RateLimitConfig struct {
	// MaxRequests per Period; 0 disables the limiter.
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Period      time.Duration `yaml:"period" json:"period"`

	// Store is "memory" or "redis"; redis shares the budget between processes.
	Store     string `yaml:"store" json:"store"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// RedisConfig holds the Redis connection used by the shared rate limiter and
// the category cache. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// SinkConfig selects and configures the event sinks.
type SinkConfig struct {
	Kinds    []string       `yaml:"kinds" json:"kinds"`
	Prefix   string         `yaml:"prefix" json:"prefix"`
	Dir      string         `yaml:"dir" json:"dir"`
	S3       S3Config       `yaml:"s3" json:"s3"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// S3Config configures the S3 sink.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DSN   string `yaml:"dsn" json:"-"`
	Table string `yaml:"table" json:"table"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig holds the metrics endpoint settings. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "https://api.sse.cisco.com",
			TokenURL:      "https://api.sse.cisco.com/auth/v2/token",
			UserAgent:     "activity-export/1.0",
			Timeout:       60 * time.Second,
			CategoriesTTL: time.Hour,
		},
		Credentials: CredentialsConfig{
			KeyringProfile: "default",
			Interactive:    true,
			LoginAttempts:  3,
		},
		Fetch: FetchConfig{
			PageSize:           1000,
			HourCeiling:        10000,
			RetryAttempts:      5,
			MaxConsecutive403:  5,
			ReauthFailureDelay: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 5000,
			Period:      time.Hour,
			Store:       StoreMemory,
			Namespace:   "default",
		},
		Sink: SinkConfig{
			Kinds:  []string{SinkCSV},
			Prefix: "activity",
			Dir:    ".",
			Postgres: PostgresConfig{
				Table: "activity_events",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Timezone: "Local",
	}
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations; finding nothing is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"activity-export.yaml",
		"activity-export.yml",
		filepath.Join(home, ".config", "activity-export", "config.yaml"),
		filepath.Join(home, ".config", "activity-export", "config.yml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadFromEnv overrides configuration from ACTIVITY_EXPORT_* variables.
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString(&c.API.BaseURL, "BASE_URL")
	setString(&c.API.TokenURL, "TOKEN_URL")
	setString(&c.API.EventType, "EVENT_TYPE")
	setList(&c.API.Categories, "CATEGORIES")

	setString(&c.Credentials.ClientID, "CLIENT_ID")
	setString(&c.Credentials.ClientSecret, "CLIENT_SECRET")
	setString(&c.Credentials.KeyringProfile, "KEYRING_PROFILE")
	errs = append(errs, setBool(&c.Credentials.Interactive, "INTERACTIVE"))

	errs = append(errs,
		setInt(&c.Fetch.PageSize, "PAGE_SIZE"),
		setInt(&c.Fetch.HourCeiling, "HOUR_CEILING"),
		setInt(&c.RateLimit.MaxRequests, "RATE_LIMIT_MAX_REQUESTS"),
		setDuration(&c.RateLimit.Period, "RATE_LIMIT_PERIOD"),
	)
	setString(&c.RateLimit.Store, "RATE_LIMIT_STORE")
	setString(&c.RateLimit.Namespace, "RATE_LIMIT_NAMESPACE")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	errs = append(errs, setInt(&c.Redis.DB, "REDIS_DB"))

	setList(&c.Sink.Kinds, "SINKS")
	setString(&c.Sink.Dir, "OUTPUT_DIR")
	setString(&c.Sink.Prefix, "OUTPUT_PREFIX")
	setString(&c.Sink.S3.Bucket, "S3_BUCKET")
	setString(&c.Sink.S3.Prefix, "S3_PREFIX")
	setString(&c.Sink.S3.Region, "S3_REGION")
	setString(&c.Sink.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Sink.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Sink.Postgres.Table, "POSTGRES_TABLE")

	setString(&c.Logging.Level, "LOG_LEVEL")
	errs = append(errs, setBool(&c.Logging.Pretty, "LOG_PRETTY"))
	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.Timezone, "TIMEZONE")

	return errors.Join(errs...)
}

func setString(dst *string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, name string) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, name string) error {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, name string) error {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// MergeFlags applies command line flags that were set explicitly.
func (c *Config) MergeFlags(flags map[string]interface{}) {
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := flags["token-url"].(string); ok && v != "" {
		c.API.TokenURL = v
	}
	if v, ok := flags["event-type"].(string); ok && v != "" {
		c.API.EventType = v
	}
	if v, ok := flags["categories"].([]string); ok && len(v) > 0 {
		c.API.Categories = v
	}
	if v, ok := flags["profile"].(string); ok && v != "" {
		c.Credentials.KeyringProfile = v
	}
	if v, ok := flags["page-size"].(int); ok && v > 0 {
		c.Fetch.PageSize = v
	}
	if v, ok := flags["sinks"].([]string); ok && len(v) > 0 {
		c.Sink.Kinds = v
	}
	if v, ok := flags["output-dir"].(string); ok && v != "" {
		c.Sink.Dir = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["pretty"].(bool); ok && v {
		c.Logging.Pretty = true
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
	if v, ok := flags["timezone"].(string); ok && v != "" {
		c.Timezone = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{"api.base_url": c.API.BaseURL, "api.token_url": c.API.TokenURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL (got %q)", name, raw))
		}
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}

	if c.Fetch.PageSize <= 0 {
		errs = append(errs, errors.New("fetch.page_size must be positive"))
	}
	if c.Fetch.HourCeiling < c.Fetch.PageSize {
		errs = append(errs, errors.New("fetch.hour_ceiling must be at least fetch.page_size"))
	}
	if c.Fetch.RetryAttempts <= 0 {
		errs = append(errs, errors.New("fetch.retry_attempts must be positive"))
	}
	if c.Fetch.MaxConsecutive403 <= 0 {
		errs = append(errs, errors.New("fetch.max_consecutive_403 must be positive"))
	}
	if c.Credentials.LoginAttempts <= 0 {
		errs = append(errs, errors.New("credentials.login_attempts must be positive"))
	}

	if c.RateLimit.MaxRequests < 0 {
		errs = append(errs, errors.New("rate_limit.max_requests cannot be negative"))
	}
	if c.RateLimit.MaxRequests > 0 && c.RateLimit.Period <= 0 {
		errs = append(errs, errors.New("rate_limit.period must be positive"))
	}
	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("rate_limit.store redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid rate_limit.store %q", c.RateLimit.Store))
	}

	if len(c.Sink.Kinds) == 0 {
		errs = append(errs, errors.New("at least one sink is required"))
	}
	for _, kind := range c.Sink.Kinds {
		switch kind {
		case SinkCSV:
		case SinkS3:
			if c.Sink.S3.Bucket == "" {
				errs = append(errs, errors.New("sink.s3.bucket is required for the s3 sink"))
			}
		case SinkPostgres:
			if c.Sink.Postgres.DSN == "" {
				errs = append(errs, errors.New("sink.postgres.dsn is required for the postgres sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid sink %q", kind))
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// HasSink reports whether kind is among the configured sinks.
func (c *Config) HasSink(kind string) bool {
	for _, k := range c.Sink.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Load loads configuration from all sources.
// Precedence: flags > environment variables > .env files > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".activity-export.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	config.MergeFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}
