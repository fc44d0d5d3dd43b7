package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Retry strategies understood by the worker
var retryStrategies = map[string]bool{
	"linear":      true,
	"exponential": true,
	"constant":    true,
}

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Retry    RetryConfig    `yaml:"retry"`
	Reporter ReporterConfig `yaml:"reporter"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// RedisConfig holds broker connection configuration
type RedisConfig struct {
	URL         string        `yaml:"url"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
	PopStep     time.Duration `yaml:"pop_step"`
}

// QueueConfig names the queues
type QueueConfig struct {
	Prefix   string   `yaml:"prefix"`
	JobTypes []string `yaml:"job_types"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int               `yaml:"concurrency"`
	PollInterval      time.Duration     `yaml:"poll_interval"`
	ErrorBackoff      time.Duration     `yaml:"error_backoff"`
	JobTimeout        time.Duration     `yaml:"job_timeout"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration     `yaml:"shutdown_timeout"`
	Endpoints         map[string]string `yaml:"endpoints"`
	APIKey            string            `yaml:"api_key"`
}

// RetryConfig controls the delay before a failed job is tried again
type RetryConfig struct {
	Strategy string        `yaml:"strategy"`
	Unit     time.Duration `yaml:"unit"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// ReporterConfig holds status reporting configuration
type ReporterConfig struct {
	HTTP HTTPReporterConfig `yaml:"http"`
}

// HTTPReporterConfig configures the status callback
type HTTPReporterConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
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

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	URL        string           `yaml:"url"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// Enabled reports whether a broker for status events is configured
func (r RabbitMQConfig) Enabled() bool {
	return r.URL != "" || r.Host != ""
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// SweeperConfig configures reclaiming of orphaned in-flight jobs
type SweeperConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int64         `yaml:"batch_size"`
}

// Default returns the configuration used for anything a file leaves out
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "media-queue",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Redis: RedisConfig{
			URL:         "redis://localhost:6379/0",
			PingTimeout: 5 * time.Second,
			PopStep:     100 * time.Millisecond,
		},
		Queue: QueueConfig{
			Prefix:   "audiobooks",
			JobTypes: []string{"transcribe"},
		},
		Worker: WorkerConfig{
			Concurrency:     1,
			PollInterval:    2 * time.Second,
			ErrorBackoff:    time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			Strategy: "linear",
			Unit:     30 * time.Second,
		},
		Reporter: ReporterConfig{
			HTTP: HTTPReporterConfig{
				Enabled: true,
				BaseURL: "http://localhost:8080",
				Timeout: 30 * time.Second,
			},
		},
		Sweeper: SweeperConfig{
			Schedule:   "*/5 * * * *",
			StaleAfter: 30 * time.Minute,
			BatchSize:  100,
		},
	}
}

// Load reads the configuration file over the defaults and applies
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("REDIS_URL", &c.Redis.URL)
	setString("JOBS_PREFIX", &c.Queue.Prefix)
	setString("API_BASE_URL", &c.Reporter.HTTP.BaseURL)
	setString("INTERNAL_API_KEY", &c.Reporter.HTTP.APIKey)
	setString("INTERNAL_API_KEY", &c.Worker.APIKey)
	setString("DATABASE_URL", &c.Database.URL)
	setString("AMQP_URL", &c.RabbitMQ.URL)

	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_JOBS: %w", err)
		}
		c.Worker.Concurrency = n
	}

	for key, dst := range map[string]*time.Duration{
		"JOB_POLL_INTERVAL": &c.Worker.PollInterval,
		"JOB_TIMEOUT":       &c.Worker.JobTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	return nil
}

// parseDuration accepts a Go duration ("2s") or a whole number of seconds ("2")
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateQueue()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.ErrorBackoff <= 0 {
		return fmt.Errorf("worker error_backoff must be greater than 0")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Worker.HeartbeatInterval < 0 {
		return fmt.Errorf("worker heartbeat_interval must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if !retryStrategies[c.Retry.Strategy] {
		return fmt.Errorf("unknown retry strategy: %q", c.Retry.Strategy)
	}

	if c.Retry.Unit <= 0 {
		return fmt.Errorf("retry unit must be greater than 0")
	}

	if c.Reporter.HTTP.Enabled && c.Reporter.HTTP.BaseURL == "" {
		return fmt.Errorf("reporter base_url is required when the http reporter is enabled")
	}

	if c.Database.Enabled() && c.Database.URL == "" {
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.RabbitMQ.Enabled() {
		if c.RabbitMQ.URL == "" && (c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort) {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if c.Sweeper.Enabled {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			return fmt.Errorf("invalid sweeper schedule %q: %w", c.Sweeper.Schedule, err)
		}
		if c.Sweeper.StaleAfter <= 0 {
			return fmt.Errorf("sweeper stale_after must be greater than 0")
		}
		if c.Worker.HeartbeatInterval > 0 && c.Sweeper.StaleAfter <= c.Worker.HeartbeatInterval {
			return fmt.Errorf("sweeper stale_after must exceed worker heartbeat_interval")
		}
	}

	return nil
}

func (c *Config) validateQueue() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	if c.Queue.Prefix == "" {
		return fmt.Errorf("queue prefix is required")
	}

	if len(c.Queue.JobTypes) == 0 {
		return fmt.Errorf("at least one job type is required")
	}

	return nil
}
