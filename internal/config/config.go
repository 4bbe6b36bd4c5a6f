// Package config loads the pipeline's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	HTTP     HTTPCfg     `yaml:"http"`
	Kafka    KafkaCfg    `yaml:"kafka"`
	Redis    RedisCfg    `yaml:"redis"`
	Postgres PostgresCfg `yaml:"postgres"`
	Ingest   IngestCfg   `yaml:"ingest"`
	Enrich   EnrichCfg   `yaml:"enrich"`
}

type HTTPCfg struct {
	GatewayAddr  string `yaml:"gateway_addr"`
	RealtimeAddr string `yaml:"realtime_addr"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

type KafkaCfg struct {
	Brokers        []string `yaml:"brokers"`
	EnrichGroup    string   `yaml:"enrich_group"`
	AggregateGroup string   `yaml:"aggregate_group"`
}

type RedisCfg struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresCfg struct {
	DSN string `yaml:"dsn"`
}

type IngestCfg struct {
	RateLimit         int `yaml:"rate_limit"`
	RateWindowSeconds int `yaml:"rate_window_seconds"`
	BatchMax          int `yaml:"batch_max"`
	RecentTTLSeconds  int `yaml:"recent_ttl_seconds"`
}

type EnrichCfg struct {
	WindowLimit            int    `yaml:"window_limit"`
	WindowAgeSeconds       int    `yaml:"window_age_seconds"`
	TrendMinPoints         int    `yaml:"trend_min_points"`
	SummaryRecent          int    `yaml:"summary_recent"`
	OracleTimeoutSeconds   int    `yaml:"oracle_timeout_seconds"`
	InsightCacheTTLSeconds int    `yaml:"insight_cache_ttl_seconds"`
	Model                  string `yaml:"model"`
}

// Load reads YAML config from path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no external
// addresses set. Useful for tests.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTP.GatewayAddr == "" {
		c.HTTP.GatewayAddr = ":8081"
	}
	if c.HTTP.RealtimeAddr == "" {
		c.HTTP.RealtimeAddr = ":8083"
	}
	if c.HTTP.MetricsAddr == "" {
		c.HTTP.MetricsAddr = ":9090"
	}
	if c.Kafka.EnrichGroup == "" {
		c.Kafka.EnrichGroup = "enrichment-group"
	}
	if c.Kafka.AggregateGroup == "" {
		c.Kafka.AggregateGroup = "aggregation-group"
	}
	if c.Ingest.RateLimit <= 0 {
		c.Ingest.RateLimit = 100
	}
	if c.Ingest.RateWindowSeconds <= 0 {
		c.Ingest.RateWindowSeconds = 60
	}
	if c.Ingest.BatchMax <= 0 {
		c.Ingest.BatchMax = 100
	}
	if c.Ingest.RecentTTLSeconds <= 0 {
		c.Ingest.RecentTTLSeconds = 300
	}
	if c.Enrich.WindowLimit <= 0 {
		c.Enrich.WindowLimit = 50
	}
	if c.Enrich.WindowAgeSeconds <= 0 {
		c.Enrich.WindowAgeSeconds = 3600
	}
	if c.Enrich.TrendMinPoints <= 0 {
		c.Enrich.TrendMinPoints = 5
	}
	if c.Enrich.SummaryRecent <= 0 {
		c.Enrich.SummaryRecent = 5
	}
	if c.Enrich.OracleTimeoutSeconds <= 0 {
		c.Enrich.OracleTimeoutSeconds = 30
	}
	if c.Enrich.InsightCacheTTLSeconds <= 0 {
		c.Enrich.InsightCacheTTLSeconds = 3600
	}
	if c.Enrich.Model == "" {
		c.Enrich.Model = "stat-v1"
	}
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.brokers must not be empty")
	}
	if c.Kafka.EnrichGroup == c.Kafka.AggregateGroup {
		return errors.New("config: enrichment and aggregation must use distinct consumer groups")
	}
	return nil
}

// RateWindow returns the rate-limit window as a duration.
func (c IngestCfg) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// RecentTTL returns the recent-event cache TTL as a duration.
func (c IngestCfg) RecentTTL() time.Duration {
	return time.Duration(c.RecentTTLSeconds) * time.Second
}

// WindowAge returns the enrichment history window age as a duration.
func (c EnrichCfg) WindowAge() time.Duration {
	return time.Duration(c.WindowAgeSeconds) * time.Second
}

// OracleTimeout returns the per-capability call timeout as a duration.
func (c EnrichCfg) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSeconds) * time.Second
}

// InsightCacheTTL returns the insight cache TTL as a duration.
func (c EnrichCfg) InsightCacheTTL() time.Duration {
	return time.Duration(c.InsightCacheTTLSeconds) * time.Second
}
