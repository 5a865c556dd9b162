package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Hydrus   HydrusConfig   `yaml:"hydrus"`
	Sync     SyncConfig     `yaml:"sync"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	User         string `yaml:"user" validate:"required"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname" validate:"required"`
	SSLMode      string `yaml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=1"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type HydrusConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	AccessKey string        `yaml:"access_key"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int           `yaml:"rate_burst" validate:"gte=1"`
	Retry     RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
}

type SyncConfig struct {
	// Interval triggers a sync periodically under serve; 0 means on demand only.
	Interval           time.Duration `yaml:"interval" validate:"gte=0"`
	SearchTags         []string      `yaml:"search_tags" validate:"min=1"`
	BatchSize          int           `yaml:"batch_size" validate:"min=1"`
	Concurrency        int           `yaml:"concurrency" validate:"min=1"`
	// ItemRetries bounds retries of a transiently failing item; 0 disables them.
	ItemRetries        *int          `yaml:"item_retries" validate:"required,gte=0"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" validate:"gt=0"`
	MaxReportedErrors  int           `yaml:"max_reported_errors" validate:"min=1"`
	SkipReconciliation bool          `yaml:"skip_reconciliation"`
}

const DefaultItemRetries = 3

// Retries returns the configured item retry count, or the default when unset.
func (c SyncConfig) Retries() int {
	if c.ItemRetries == nil {
		return DefaultItemRetries
	}
	return *c.ItemRetries
}

type RabbitMQConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url" validate:"required_if=Enabled true"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level    string         `yaml:"level" validate:"oneof=debug info warn error"`
	Format   string         `yaml:"format" validate:"oneof=json text"`
	File     string         `yaml:"file"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment references in data, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Hydrus.BaseURL == "" {
		c.Hydrus.BaseURL = "http://127.0.0.1:45869"
	}
	if c.Hydrus.Timeout == 0 {
		c.Hydrus.Timeout = 60 * time.Second
	}
	if c.Hydrus.RateBurst == 0 {
		c.Hydrus.RateBurst = 1
	}
	if c.Hydrus.Retry.MaxAttempts == 0 {
		c.Hydrus.Retry.MaxAttempts = 3
	}
	if c.Hydrus.Retry.InitialBackoff == 0 {
		c.Hydrus.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Hydrus.Retry.MaxBackoff == 0 {
		c.Hydrus.Retry.MaxBackoff = 30 * time.Second
	}
	if len(c.Sync.SearchTags) == 0 {
		c.Sync.SearchTags = []string{"system:everything"}
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 256
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 20
	}
	if c.Sync.ItemRetries == nil {
		retries := DefaultItemRetries
		c.Sync.ItemRetries = &retries
	}
	if c.Sync.RetryBaseDelay == 0 {
		c.Sync.RetryBaseDelay = 50 * time.Millisecond
	}
	if c.Sync.MaxReportedErrors == 0 {
		c.Sync.MaxReportedErrors = 200
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "media_syncer"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "posts"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "post_events"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Rotation.MaxSize == 0 {
		c.Log.Rotation.MaxSize = 100
	}
	if c.Log.Rotation.MaxBackups == 0 {
		c.Log.Rotation.MaxBackups = 5
	}
	if c.Log.Rotation.MaxAge == 0 {
		c.Log.Rotation.MaxAge = 28
	}
}
