package core

import (
	"fmt"
	"strings"
	"time"
)

type QueueConfig struct {
	Addr                 string        `koanf:"addr" mapstructure:"addr"`
	Name                 string        `koanf:"name" mapstructure:"name"`
	Concurrency          int           `koanf:"concurrency" mapstructure:"concurrency"`
	ScheduledConcurrency int           `koanf:"scheduled_concurrency" mapstructure:"scheduled_concurrency"`
	MaxAttempts          int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff       time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	ReadyTimeout         time.Duration `koanf:"ready_timeout" mapstructure:"ready_timeout"`
	DeadLetterRetention  time.Duration `koanf:"dead_letter_retention" mapstructure:"dead_letter_retention"`
}

type WebhookConfig struct {
	Timeout          time.Duration `koanf:"timeout" mapstructure:"timeout"`
	DisableThreshold int           `koanf:"disable_threshold" mapstructure:"disable_threshold"`
}

type Config struct {
	ServiceName   string        `koanf:"service_name" mapstructure:"service_name"`
	Queue         QueueConfig   `koanf:"queue" mapstructure:"queue"`
	Webhook       WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace" mapstructure:"shutdown_grace"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dispatch",
		Queue: QueueConfig{
			Addr:                 "127.0.0.1:6379",
			Name:                 "hooks",
			Concurrency:          5,
			ScheduledConcurrency: 2,
			MaxAttempts:          3,
			InitialBackoff:       time.Second,
			MaxBackoff:           5 * time.Minute,
			ReadyTimeout:         5 * time.Second,
			DeadLetterRetention:  7 * 24 * time.Hour,
		},
		Webhook: WebhookConfig{
			Timeout:          5 * time.Second,
			DisableThreshold: 50,
		},
		ShutdownGrace: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Queue.Name) == "" {
		return fmt.Errorf("core: queue.name is required")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("core: queue.concurrency must be at least 1")
	}
	if c.Queue.ScheduledConcurrency < 1 {
		return fmt.Errorf("core: queue.scheduled_concurrency must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("core: queue.max_attempts must be at least 1")
	}
	if c.Queue.InitialBackoff <= 0 {
		return fmt.Errorf("core: queue.initial_backoff must be positive")
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("core: webhook.timeout must be positive")
	}
	if c.Webhook.DisableThreshold < 1 {
		return fmt.Errorf("core: webhook.disable_threshold must be at least 1")
	}
	return nil
}
