package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Lane names every deployment must configure.
var RequiredLanes = []string{"ocr", "translation"}

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the artifact store connection configuration
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`
}

// RabbitMQConfig holds RabbitMQ connection and lane configuration
type RabbitMQConfig struct {
	Host       string                `yaml:"host"`
	Port       int                   `yaml:"port"`
	User       string                `yaml:"user"`
	Password   string                `yaml:"password"`
	VHost      string                `yaml:"vhost"`
	Exchange   ExchangeConfig        `yaml:"exchange"`
	Lanes      map[string]LaneConfig `yaml:"lanes"`
	Queue      QueueConfig           `yaml:"queue"`
	Connection ConnectionConfig      `yaml:"connection"`
	Publish    PublishConfig         `yaml:"publish"`
	Consumer   ConsumerConfig        `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LaneConfig holds one lane's queue binding
type LaneConfig struct {
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

// QueueConfig holds queue declaration defaults shared by all lanes
type QueueConfig struct {
	Durable    bool `yaml:"durable"`
	AutoDelete bool `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// PipelineConfig holds per-stage orchestration parameters keyed by
// lane name
type PipelineConfig struct {
	Stages map[string]StageConfig `yaml:"stages"`
}

// StageConfig holds one stage's retry, deadline, and pool sizing
type StageConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// ConnectorsConfig holds the processing-service endpoints
type ConnectorsConfig struct {
	OCR         OCRConnectorConfig         `yaml:"ocr"`
	Translation TranslationConnectorConfig `yaml:"translation"`
}

// OCRConnectorConfig holds the OCR service settings
type OCRConnectorConfig struct {
	URL       string        `yaml:"url"`
	Engine    string        `yaml:"engine"`
	Local     bool          `yaml:"local"`
	Languages []string      `yaml:"languages"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TranslationConnectorConfig holds the translation service settings
type TranslationConnectorConfig struct {
	URL        string        `yaml:"url"`
	SourceLang string        `yaml:"source_lang"`
	TargetLang string        `yaml:"target_lang"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateShared checks the sections both services depend on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	for _, lane := range RequiredLanes {
		lc, ok := c.RabbitMQ.Lanes[lane]
		if !ok {
			return fmt.Errorf("rabbitmq lane %q is required", lane)
		}
		if lc.Queue == "" {
			return fmt.Errorf("rabbitmq lane %q: queue name is required", lane)
		}
		if lc.RoutingKey == "" {
			return fmt.Errorf("rabbitmq lane %q: routing key is required", lane)
		}
	}

	for lane := range c.RabbitMQ.Lanes {
		if !knownLane(lane) {
			return fmt.Errorf("unknown rabbitmq lane %q", lane)
		}
	}

	for _, lane := range RequiredLanes {
		sc, ok := c.Pipeline.Stages[lane]
		if !ok {
			return fmt.Errorf("pipeline stage %q is required", lane)
		}
		if sc.MaxRetries < 0 {
			return fmt.Errorf("pipeline stage %q: max_retries must not be negative", lane)
		}
		if sc.Timeout <= 0 {
			return fmt.Errorf("pipeline stage %q: timeout must be greater than 0", lane)
		}
		if sc.BackoffBase <= 0 {
			return fmt.Errorf("pipeline stage %q: backoff_base must be greater than 0", lane)
		}
		if sc.BackoffMax < sc.BackoffBase {
			return fmt.Errorf("pipeline stage %q: backoff_max must not be below backoff_base", lane)
		}
	}

	for lane := range c.Pipeline.Stages {
		if !knownLane(lane) {
			return fmt.Errorf("unknown pipeline stage %q", lane)
		}
	}

	return nil
}

func knownLane(lane string) bool {
	for _, known := range RequiredLanes {
		if lane == known {
			return true
		}
	}
	return false
}

// ValidateAPIConfig checks the configuration for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the configuration for the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	for _, lane := range RequiredLanes {
		sc := c.Pipeline.Stages[lane]
		if sc.Concurrency <= 0 {
			return fmt.Errorf("pipeline stage %q: concurrency must be greater than 0", lane)
		}

		// A redelivery window shorter than the stage deadline causes
		// false-positive redeliveries of still-running jobs.
		if c.Worker.VisibilityTimeout > 0 && c.Worker.VisibilityTimeout <= sc.Timeout {
			return fmt.Errorf("worker visibility_timeout must exceed stage %q timeout", lane)
		}
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Connectors.Translation.URL == "" {
		return fmt.Errorf("translation connector url is required")
	}

	if !c.Connectors.OCR.Local && c.Connectors.OCR.URL == "" {
		return fmt.Errorf("ocr connector url is required unless local mode is enabled")
	}

	return nil
}
