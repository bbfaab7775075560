package core

import (
	"fmt"
	"strings"
	"time"
)

type PipelineConfig struct {
	MaxRetryAttempts   int           `koanf:"max_retry_attempts" mapstructure:"max_retry_attempts"`
	UnsubscribeBaseURL string        `koanf:"unsubscribe_base_url" mapstructure:"unsubscribe_base_url"`
	TokenTTL           time.Duration `koanf:"token_ttl" mapstructure:"token_ttl"`
	FromAddress        string        `koanf:"from_address" mapstructure:"from_address"`
	PendingSweepAge    time.Duration `koanf:"pending_sweep_age" mapstructure:"pending_sweep_age"`
}

type WorkerConfig struct {
	Concurrency        int           `koanf:"concurrency" mapstructure:"concurrency"`
	JobTimeout         time.Duration `koanf:"job_timeout" mapstructure:"job_timeout"`
	MaxAttempts        int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	MaxDelay           time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	RateLimitPerSecond float64       `koanf:"rate_limit_per_second" mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int           `koanf:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

type WorkersConfig struct {
	Collect WorkerConfig `koanf:"collect" mapstructure:"collect"`
	Compose WorkerConfig `koanf:"compose" mapstructure:"compose"`
	Send    WorkerConfig `koanf:"send" mapstructure:"send"`
}

type WebhookConfig struct {
	SigningSecret string        `koanf:"signing_secret" mapstructure:"signing_secret"`
	Tolerance     time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
}

type TriggerConfig struct {
	APIKey       string `koanf:"api_key" mapstructure:"api_key"`
	DefaultLimit int    `koanf:"default_limit" mapstructure:"default_limit"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" mapstructure:"addr"`
	Password string `koanf:"password" mapstructure:"password"`
	DB       int    `koanf:"db" mapstructure:"db"`
}

type ResendConfig struct {
	APIKey string `koanf:"api_key" mapstructure:"api_key"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Pipeline    PipelineConfig `koanf:"pipeline" mapstructure:"pipeline"`
	Workers     WorkersConfig  `koanf:"workers" mapstructure:"workers"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Trigger     TriggerConfig  `koanf:"trigger" mapstructure:"trigger"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	Redis       RedisConfig    `koanf:"redis" mapstructure:"redis"`
	Resend      ResendConfig   `koanf:"resend" mapstructure:"resend"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
}

const (
	DefaultMaxRetryAttempts = 3
	DefaultSendRatePerSec   = 2
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "notify",
		Pipeline: PipelineConfig{
			MaxRetryAttempts:   DefaultMaxRetryAttempts,
			UnsubscribeBaseURL: "http://localhost:8080/unsubscribe/",
			TokenTTL:           365 * 24 * time.Hour,
			FromAddress:        "notifications@localhost",
			PendingSweepAge:    15 * time.Minute,
		},
		Workers: WorkersConfig{
			Collect: WorkerConfig{
				Concurrency: 1,
				JobTimeout:  time.Minute,
				MaxAttempts: 5,
				MaxDelay:    time.Minute,
			},
			Compose: WorkerConfig{
				Concurrency: 4,
				JobTimeout:  30 * time.Second,
				MaxAttempts: 5,
				MaxDelay:    5 * time.Minute,
			},
			Send: WorkerConfig{
				Concurrency:        2,
				JobTimeout:         30 * time.Second,
				MaxAttempts:        DefaultMaxRetryAttempts + 2,
				MaxDelay:           10 * time.Minute,
				RateLimitPerSecond: DefaultSendRatePerSec,
				RateLimitBurst:     1,
			},
		},
		Webhook: WebhookConfig{
			Tolerance: 5 * time.Minute,
		},
		Trigger: TriggerConfig{
			DefaultLimit: 0,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Pipeline.MaxRetryAttempts <= 0 {
		return fmt.Errorf("core: pipeline.max_retry_attempts must be positive")
	}
	// The send queue must redeliver once past the ceiling so the claim can
	// record failed_permanent instead of dead-lettering a failed_transient row.
	if sendAttempts := c.Workers.Send.MaxAttempts; sendAttempts != 0 && sendAttempts <= c.Pipeline.MaxRetryAttempts {
		return fmt.Errorf("core: workers.send.max_attempts (%d) must exceed pipeline.max_retry_attempts (%d)", sendAttempts, c.Pipeline.MaxRetryAttempts)
	}
	if c.Pipeline.TokenTTL < 0 {
		return fmt.Errorf("core: pipeline.token_ttl must not be negative")
	}
	for name, worker := range map[string]WorkerConfig{
		"collect": c.Workers.Collect,
		"compose": c.Workers.Compose,
		"send":    c.Workers.Send,
	} {
		if worker.Concurrency <= 0 {
			return fmt.Errorf("core: workers.%s.concurrency must be positive", name)
		}
		if worker.RateLimitPerSecond < 0 {
			return fmt.Errorf("core: workers.%s.rate_limit_per_second must not be negative", name)
		}
	}
	if c.Workers.Send.RateLimitPerSecond == 0 {
		return fmt.Errorf("core: workers.send.rate_limit_per_second must be positive")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "", "postgres", "sqlite3":
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	return nil
}

// PoolConfig converts a worker section into the pool construction struct.
func (w WorkerConfig) PoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:        name,
		Concurrency: w.Concurrency,
		JobTimeout:  w.JobTimeout,
		Retry: RetryPolicy{
			MaxAttempts:     w.MaxAttempts,
			InitialDelay:    time.Second,
			MaxDelay:        w.MaxDelay,
			DeadLetterOnMax: true,
		},
	}
}
