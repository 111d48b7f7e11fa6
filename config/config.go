package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Spreadflow SpreadflowConfig `yaml:"spreadflow"`
	Symbols    []string         `yaml:"symbols"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Reader     ReaderConfig     `yaml:"reader"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SpreadflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	QuoteBuffer int `yaml:"quote_buffer"`
	SinkBuffer  int `yaml:"sink_buffer"`
}

// ReaderConfig carries the hybrid connector defaults shared by every venue.
type ReaderConfig struct {
	TimeoutMs       int             `yaml:"timeout_ms"`
	StreamTimeoutMs int             `yaml:"stream_timeout_ms"`
	PollIntervalMs  int             `yaml:"poll_interval_ms"`
	Reconnect       ReconnectConfig `yaml:"reconnect"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

type ReconnectConfig struct {
	BaseDelayMs     int `yaml:"base_delay_ms"`
	MaxDelayMs      int `yaml:"max_delay_ms"`
	MaxAttempts     int `yaml:"max_attempts"`
	StreamRetryMs   int `yaml:"stream_retry_ms"`
	DiscoveryWaitMs int `yaml:"discovery_wait_ms"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type AggregatorConfig struct {
	FreshnessThresholdMs int     `yaml:"freshness_threshold_ms"`
	PersistIntervalMs    int     `yaml:"persist_interval_ms"`
	AlertThreshold       float64 `yaml:"alert_threshold"`
	BroadcastWindowMs    int     `yaml:"broadcast_window_ms"`
}

type SourceConfig struct {
	Vest    VenueConfig `yaml:"vest"`
	Lighter VenueConfig `yaml:"lighter"`
	Paradex VenueConfig `yaml:"paradex"`
}

type VenueConfig struct {
	Enabled         bool   `yaml:"enabled"`
	WSURL           string `yaml:"ws_url"`
	RestURL         string `yaml:"rest_url"`
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
	StreamTimeoutMs int    `yaml:"stream_timeout_ms"`
	Depth           int    `yaml:"depth"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	AlertTopic string   `yaml:"alert_topic"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// VenueOrder returns the enabled venues in their fixed configured order.
// This order is the tie-break contract for equal bids or asks across venues.
func (c *Config) VenueOrder() []string {
	var order []string
	if c.Source.Vest.Enabled {
		order = append(order, "VEST")
	}
	if c.Source.Lighter.Enabled {
		order = append(order, "LIGHTER")
	}
	if c.Source.Paradex.Enabled {
		order = append(order, "PARADEX")
	}
	return order
}

// Venue returns the configuration block for a venue id.
func (c *Config) Venue(name string) (VenueConfig, bool) {
	switch strings.ToUpper(name) {
	case "VEST":
		return c.Source.Vest, true
	case "LIGHTER":
		return c.Source.Lighter, true
	case "PARADEX":
		return c.Source.Paradex, true
	}
	return VenueConfig{}, false
}

func (r ReaderConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

func (r ReaderConfig) StreamTimeout() time.Duration {
	return time.Duration(r.StreamTimeoutMs) * time.Millisecond
}

func (r ReaderConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

func (r ReconnectConfig) StreamRetry() time.Duration {
	return time.Duration(r.StreamRetryMs) * time.Millisecond
}

func (r ReconnectConfig) DiscoveryWait() time.Duration {
	return time.Duration(r.DiscoveryWaitMs) * time.Millisecond
}

func (a AggregatorConfig) FreshnessThreshold() time.Duration {
	return time.Duration(a.FreshnessThresholdMs) * time.Millisecond
}

func (a AggregatorConfig) PersistInterval() time.Duration {
	return time.Duration(a.PersistIntervalMs) * time.Millisecond
}

func (a AggregatorConfig) BroadcastWindow() time.Duration {
	return time.Duration(a.BroadcastWindowMs) * time.Millisecond
}

func (s S3Config) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Reader: ReaderConfig{
			TimeoutMs:       10000,
			StreamTimeoutMs: 15000,
			PollIntervalMs:  3000,
			Reconnect: ReconnectConfig{
				BaseDelayMs:     3000,
				MaxDelayMs:      30000,
				MaxAttempts:     5,
				StreamRetryMs:   60000,
				DiscoveryWaitMs: 5000,
			},
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 10},
		},
		Aggregator: AggregatorConfig{
			FreshnessThresholdMs: 30000,
			PersistIntervalMs:    5000,
			AlertThreshold:       0.5,
			BroadcastWindowMs:    1000,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = strings.Split(strings.TrimSpace(v), ",")
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Spreadflow.Name == "" {
		return fmt.Errorf("spreadflow.name is required")
	}
	if cfg.Spreadflow.Version == "" {
		return fmt.Errorf("spreadflow.version is required")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("symbols allow-list must not be empty")
	}

	if cfg.Channels.QuoteBuffer <= 0 {
		return fmt.Errorf("channels.quote_buffer must be greater than 0")
	}
	if cfg.Channels.SinkBuffer <= 0 {
		return fmt.Errorf("channels.sink_buffer must be greater than 0")
	}

	if cfg.Reader.StreamTimeoutMs <= 0 {
		return fmt.Errorf("reader.stream_timeout_ms must be greater than 0")
	}
	if cfg.Reader.PollIntervalMs <= 0 {
		return fmt.Errorf("reader.poll_interval_ms must be greater than 0")
	}
	if cfg.Reader.Reconnect.BaseDelayMs <= 0 || cfg.Reader.Reconnect.MaxDelayMs < cfg.Reader.Reconnect.BaseDelayMs {
		return fmt.Errorf("reader.reconnect delays are invalid")
	}

	if cfg.Aggregator.FreshnessThresholdMs <= 0 {
		return fmt.Errorf("aggregator.freshness_threshold_ms must be greater than 0")
	}
	if cfg.Aggregator.PersistIntervalMs <= 0 {
		return fmt.Errorf("aggregator.persist_interval_ms must be greater than 0")
	}
	if cfg.Aggregator.BroadcastWindowMs <= 0 {
		return fmt.Errorf("aggregator.broadcast_window_ms must be greater than 0")
	}

	if len(cfg.VenueOrder()) == 0 {
		return fmt.Errorf("at least one venue must be enabled")
	}
	for _, venue := range cfg.VenueOrder() {
		vc, _ := cfg.Venue(venue)
		if vc.WSURL == "" {
			return fmt.Errorf("source.%s.ws_url is required", strings.ToLower(venue))
		}
		if vc.RestURL == "" {
			return fmt.Errorf("source.%s.rest_url is required", strings.ToLower(venue))
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}
	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}
