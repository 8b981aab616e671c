package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

// Record store backends accepted by STORE_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

type Config struct {
	SMTPHost               string `env:"SMTP_HOST,default=smtp.qq.com"`
	SMTPPort               int    `env:"SMTP_PORT,default=587"`
	SMTPInsecureSkipVerify bool   `env:"SMTP_INSECURE_SKIP_VERIFY,default=false"`
	SenderEmail            string `env:"SENDER_EMAIL"`
	SenderPassword         string `env:"SENDER_PASSWORD"`
	MailSubject            string `env:"MAIL_SUBJECT,default=欢迎为您提供服务！"`
	AddressDomain          string `env:"ADDRESS_DOMAIN,default=qq.com"`
	TemplatePath           string `env:"TEMPLATE_PATH"`

	StartID         uint64 `env:"START_ID,default=100000"`
	EndID           uint64 `env:"END_ID,default=99999999999"`
	SendIntervalSec int    `env:"SEND_INTERVAL_SEC,default=5"`
	ProgressEvery   int    `env:"PROGRESS_EVERY,default=100"`

	StoreBackend   string `env:"STORE_BACKEND,default=sqlite"`
	StoreFallback  bool   `env:"STORE_FALLBACK,default=true"`
	SQLitePath     string `env:"SQLITE_PATH,default=data/email_records.db"`
	DatabaseDSN    string `env:"DATABASE_DSN"`
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=bulkmail"`

	AuditLogPath      string `env:"AUDIT_LOG_PATH,default=data/email_log.txt"`
	RabbitMQURL       string `env:"RABBITMQ_URL"`
	EventsQueue       string `env:"EVENTS_QUEUE,default=bulkmail.delivery_events"`
	SummaryWebhookURL string `env:"SUMMARY_WEBHOOK_URL"`
	MetricsAddr       string `env:"METRICS_ADDR"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	LogFormat         string `env:"LOG_FORMAT,default=console"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return &cfg, nil
}

// Validate checks everything the store and run commands need, except the
// sender credential.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: SQLITE_PATH is required for the sqlite backend", domain.ErrValidation)
		}
	case BackendPostgres, BackendMySQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required for the %s backend", domain.ErrValidation, c.StoreBackend)
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis backend", domain.ErrValidation)
		}
	case BackendNone:
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", domain.ErrValidation, c.StoreBackend)
	}

	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("%w: SMTP_PORT must be between 1 and 65535", domain.ErrValidation)
	}
	if c.SendIntervalSec < 0 {
		return fmt.Errorf("%w: SEND_INTERVAL_SEC must not be negative", domain.ErrValidation)
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("%w: PROGRESS_EVERY must not be negative", domain.ErrValidation)
	}
	if c.StartID > c.EndID {
		return fmt.Errorf("%w: START_ID %d is after END_ID %d", domain.ErrValidation, c.StartID, c.EndID)
	}
	if strings.TrimSpace(strings.TrimPrefix(c.AddressDomain, "@")) == "" {
		return fmt.Errorf("%w: ADDRESS_DOMAIN is required", domain.ErrValidation)
	}

	return nil
}

// ValidateSending runs Validate and additionally requires the sender identity.
func (c *Config) ValidateSending() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.SenderEmail) == "" {
		return fmt.Errorf("%w: SENDER_EMAIL is required", domain.ErrValidation)
	}
	if c.SenderPassword == "" {
		return fmt.Errorf("%w: SENDER_PASSWORD is required", domain.ErrValidation)
	}
	return nil
}

func (c *Config) Range() domain.Range {
	return domain.Range{
		Start:    domain.Identifier(c.StartID),
		End:      domain.Identifier(c.EndID),
		Interval: time.Duration(c.SendIntervalSec) * time.Second,
	}
}
