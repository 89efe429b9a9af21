package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Venue         VenueConfig         `yaml:"venue"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Sink          SinkConfig          `yaml:"sink"`
	Storage       StorageConfig       `yaml:"storage"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Status        StatusConfig        `yaml:"status"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type VenueConfig struct {
	PublicURL  string `yaml:"public_url"`
	PrivateURL string `yaml:"private_url"`
	// AuthTopic is subscribed on every private open to complete authentication.
	AuthTopic string `yaml:"auth_topic"`
}

type ConnectionConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BaseReconnectDelay   time.Duration `yaml:"base_reconnect_delay"`
	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval"`
	AlertAfterAttempts   int           `yaml:"alert_after_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	SendRatePerSecond    float64       `yaml:"send_rate_per_second"`
	SendBurst            int           `yaml:"send_burst"`
}

type SubscriptionsConfig struct {
	Symbols        []string `yaml:"symbols"`
	MarketChannels []string `yaml:"market_channels"`
	Funding        bool     `yaml:"funding"`
	PrivateTopics  []string `yaml:"private_topics"`
}

type SinkConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxConns     int32  `yaml:"max_conns"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ArchiveConfig struct {
	Prefix        string        `yaml:"prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBuffered   int           `yaml:"max_buffered"`
	Compression   string        `yaml:"compression"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	EventsTopic string   `yaml:"events_topic"`
	AlertsTopic string   `yaml:"alerts_topic"`
	BatchSize   int      `yaml:"batch_size"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Prometheus bool             `yaml:"prometheus"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Region    string `yaml:"region"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "polofeed", Version: "dev"},
		Venue: VenueConfig{
			PublicURL:  "wss://ws.poloniex.com/ws/v3/public",
			PrivateURL: "wss://ws.poloniex.com/ws/v3/private",
			AuthTopic:  "wallet",
		},
		Connection: ConnectionConfig{
			MaxReconnectAttempts: 5,
			BaseReconnectDelay:   5 * time.Second,
			KeepAliveInterval:    30 * time.Second,
			AlertAfterAttempts:   3,
			HandshakeTimeout:     10 * time.Second,
			SendRatePerSecond:    10,
			SendBurst:            20,
		},
		Subscriptions: SubscriptionsConfig{
			MarketChannels: []string{"ticker", "orderbook-diff", "execution"},
			PrivateTopics:  []string{"wallet", "position", "orders", "trades"},
		},
		Sink: SinkConfig{
			Workers:      4,
			QueueSize:    1024,
			WriteTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{MaxConns: 8, EnsureSchema: true},
		},
		Archive: ArchiveConfig{
			Prefix:        "polofeed",
			FlushInterval: time.Minute,
			MaxBuffered:   10000,
			Compression:   "snappy",
		},
		Kafka: KafkaConfig{
			EventsTopic: "polofeed.events",
			AlertsTopic: "polofeed.alerts",
			BatchSize:   100,
		},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "Polofeed"},
			Prometheus: true,
		},
		Status:  StatusConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("POLONIEX_WS_PUBLIC_URL"); v != "" {
		config.Venue.PublicURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("POLONIEX_WS_PRIVATE_URL"); v != "" {
		config.Venue.PrivateURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}
	if v := os.Getenv("SINK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.Sink.Workers = n
		}
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
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}

	if cfg.Venue.PublicURL == "" {
		return fmt.Errorf("venue.public_url is required")
	}
	if cfg.Venue.PrivateURL == "" {
		return fmt.Errorf("venue.private_url is required")
	}
	if cfg.Venue.AuthTopic == "" {
		return fmt.Errorf("venue.auth_topic is required")
	}

	if cfg.Connection.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("connection.max_reconnect_attempts must be greater than 0")
	}
	if cfg.Connection.BaseReconnectDelay <= 0 {
		return fmt.Errorf("connection.base_reconnect_delay must be greater than 0")
	}
	if cfg.Connection.KeepAliveInterval <= 0 {
		return fmt.Errorf("connection.keep_alive_interval must be greater than 0")
	}
	if cfg.Connection.SendRatePerSecond <= 0 || cfg.Connection.SendBurst <= 0 {
		return fmt.Errorf("connection.send_rate_per_second and connection.send_burst must be greater than 0")
	}

	if cfg.Sink.Workers <= 0 {
		return fmt.Errorf("sink.workers must be greater than 0")
	}
	if cfg.Sink.QueueSize <= 0 {
		return fmt.Errorf("sink.queue_size must be greater than 0")
	}
	if cfg.Sink.WriteTimeout <= 0 {
		return fmt.Errorf("sink.write_timeout must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	if cfg.Status.Enabled && cfg.Status.Address == "" {
		return fmt.Errorf("status.address is required when status is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
