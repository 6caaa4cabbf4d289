package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration shared by the api, consumer and admin binaries.
type Config struct {
	Service     Service     `envconfig:"SERVICE"`
	SQS         SQS         `envconfig:"SQS"`
	ClickHouse  ClickHouse  `envconfig:"CLICKHOUSE"`
	Postgres    Postgres    `envconfig:"POSTGRES"`
	Redis       Redis       `envconfig:"REDIS"`
	RateLimit   RateLimit   `envconfig:"RATE_LIMIT"`
	Idempotency Idempotency `envconfig:"IDEMPOTENCY"`
	Consumer    Consumer    `envconfig:"CONSUMER"`
	DeadLetter  DeadLetter  `envconfig:"DEAD_LETTER"`
	Analytics   Analytics   `envconfig:"ANALYTICS"`
	Audit       Audit       `envconfig:"AUDIT"`
}

type Service struct {
	Environment        string `envconfig:"ENVIRONMENT" required:"true"`
	APIPort            string `envconfig:"API_PORT" default:"8080"`
	ShutdownTimeoutSec int    `envconfig:"SHUTDOWN_TIMEOUT_SEC" default:"10"`
}

type SQS struct {
	Endpoint           string `envconfig:"ENDPOINT"`
	QueueURL           string `envconfig:"QUEUE_URL" required:"true"`
	Region             string `envconfig:"REGION" required:"true"`
	DeadLetterQueueURL string `envconfig:"DEAD_LETTER_QUEUE_URL"`
}

type ClickHouse struct {
	Host            string `envconfig:"HOST" required:"true"`
	Port            string `envconfig:"PORT" required:"true"`
	Database        string `envconfig:"DB" required:"true"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Postgres struct {
	URL      string `envconfig:"URL" required:"true"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10"`
}

type Redis struct {
	Addr     string `envconfig:"ADDR" required:"true"`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
}

type RateLimit struct {
	WindowSec int  `envconfig:"WINDOW_SEC" default:"60"`
	FailOpen  bool `envconfig:"FAIL_OPEN" default:"true"`
}

type Idempotency struct {
	PendingTTLSec  int  `envconfig:"PENDING_TTL_SEC" default:"30"`
	RetentionHours int  `envconfig:"RETENTION_HOURS" default:"168"`
	SettleWaitMs   int  `envconfig:"SETTLE_WAIT_MS" default:"1000"`
	FailOpen       bool `envconfig:"FAIL_OPEN" default:"false"`
}

type Consumer struct {
	BatchSizeMax      int    `envconfig:"BATCH_SIZE_MAX" default:"500"`
	BatchTimeoutSec   int    `envconfig:"BATCH_TIMEOUT_SEC" default:"5"`
	MaxMessages       int32  `envconfig:"MAX_MESSAGES" default:"10"`
	WaitTimeSec       int32  `envconfig:"WAIT_TIME_SEC" default:"20"`
	MaxReceiveCount   int    `envconfig:"MAX_RECEIVE_COUNT" default:"5"`
	NackVisibilitySec int32  `envconfig:"NACK_VISIBILITY_SEC" default:"5"`
	HealthCheckPort   string `envconfig:"HEALTH_CHECK_PORT" default:"8081"`
}

type DeadLetter struct {
	S3Bucket   string `envconfig:"S3_BUCKET"`
	S3Prefix   string `envconfig:"S3_PREFIX" default:"dead-letter/"`
	S3Endpoint string `envconfig:"S3_ENDPOINT"`
}

type Analytics struct {
	APIToken string `envconfig:"API_TOKEN"`
}

type Audit struct {
	BufferSize      int `envconfig:"BUFFER_SIZE" default:"1024"`
	BatchSize       int `envconfig:"BATCH_SIZE" default:"100"`
	FlushIntervalMs int `envconfig:"FLUSH_INTERVAL_MS" default:"500"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig tags cannot express.
func (c *Config) Validate() error {
	if c.RateLimit.WindowSec <= 0 {
		return errors.New("RATE_LIMIT_WINDOW_SEC must be > 0")
	}
	if c.Idempotency.PendingTTLSec <= 0 {
		return errors.New("IDEMPOTENCY_PENDING_TTL_SEC must be > 0")
	}
	if c.Idempotency.RetentionHours < 0 {
		return errors.New("IDEMPOTENCY_RETENTION_HOURS must be >= 0")
	}
	if c.Idempotency.SettleWaitMs < 0 {
		return errors.New("IDEMPOTENCY_SETTLE_WAIT_MS must be >= 0")
	}
	if c.Consumer.BatchSizeMax <= 0 {
		return errors.New("CONSUMER_BATCH_SIZE_MAX must be > 0")
	}
	if c.Consumer.BatchTimeoutSec <= 0 {
		return errors.New("CONSUMER_BATCH_TIMEOUT_SEC must be > 0")
	}
	if c.Consumer.MaxMessages < 1 || c.Consumer.MaxMessages > 10 {
		return errors.New("CONSUMER_MAX_MESSAGES must be between 1 and 10")
	}
	if c.Consumer.MaxReceiveCount <= 0 {
		return errors.New("CONSUMER_MAX_RECEIVE_COUNT must be > 0")
	}
	if c.Audit.BufferSize <= 0 || c.Audit.BatchSize <= 0 {
		return errors.New("AUDIT_BUFFER_SIZE and AUDIT_BATCH_SIZE must be > 0")
	}
	return nil
}

// RateLimitWindow returns the fixed rate limit window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSec) * time.Second
}

// PendingTTL returns how long an unconfirmed idempotency reservation blocks its key.
func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.Idempotency.PendingTTLSec) * time.Second
}

// SettleWait returns how long a submission waits on a key another request still holds pending.
func (c *Config) SettleWait() time.Duration {
	return time.Duration(c.Idempotency.SettleWaitMs) * time.Millisecond
}

// Retention returns how long committed idempotency records are kept. Zero keeps them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Idempotency.RetentionHours) * time.Hour
}

// ShutdownTimeout bounds graceful shutdown of servers and background writers.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Service.ShutdownTimeoutSec) * time.Second
}

// AuditFlushInterval returns how often buffered audit entries are written.
func (c *Config) AuditFlushInterval() time.Duration {
	return time.Duration(c.Audit.FlushIntervalMs) * time.Millisecond
}

// Admin is the configuration of the admin tool, which only talks to the client registry.
type Admin struct {
	Service  Service  `envconfig:"SERVICE"`
	Postgres Postgres `envconfig:"POSTGRES"`
}

// LoadAdmin reads the admin tool configuration from the environment.
func LoadAdmin() (*Admin, error) {
	var cfg Admin
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}
