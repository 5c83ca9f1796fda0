package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/dunning"
)

type Config struct {
	DatabaseDSN                     string `env:"DATABASE_DSN,required=true"`
	DatabaseMaxOpenConns            int    `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	DatabaseMaxIdleConns            int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	RabbitMQURL                     string `env:"RABBITMQ_URL,required=true"`
	RabbitMQDeliveryLimit           int    `env:"RABBITMQ_DELIVERY_LIMIT,default=10"`
	RedisURL                        string `env:"REDIS_URL,required=true"`
	NotifierURL                     string `env:"NOTIFIER_URL,required=true"`
	CommerceAPIURLTemplate          string `env:"COMMERCE_API_URL_TEMPLATE,default=https://%s/admin/api/2024-10/graphql.json"`
	CommerceAccessToken             string `env:"COMMERCE_ACCESS_TOKEN"`
	CommerceRateLimitPerSec         int    `env:"COMMERCE_RATE_LIMIT_PER_SEC,default=2"`
	CommerceRateLimitBurst          int    `env:"COMMERCE_RATE_LIMIT_BURST,default=4"`
	WorkerConcurrency               int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort                         int    `env:"API_PORT,default=8080"`
	LogLevel                        string `env:"LOG_LEVEL,default=info"`
	LogFormat                       string `env:"LOG_FORMAT,default=json"`
	ShopSettingsFile                string `env:"SHOP_SETTINGS_FILE"`
	DefaultRetryAttempts            int    `env:"DEFAULT_RETRY_ATTEMPTS,default=3"`
	DefaultDaysBetweenRetryAttempts int    `env:"DEFAULT_DAYS_BETWEEN_RETRY_ATTEMPTS,default=1"`
	DefaultOnFailure                string `env:"DEFAULT_ON_FAILURE,default=skip"`
	TrackerClaimMode                string `env:"TRACKER_CLAIM_MODE,default=find_or_create"`
	JobScanIntervalRaw              string `env:"JOB_SCAN_INTERVAL,default=5s"`
	JobMaxAttempts                  int    `env:"JOB_MAX_ATTEMPTS,default=5"`

	JobScanInterval time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.JobScanInterval, err = time.ParseDuration(strings.TrimSpace(cfg.JobScanIntervalRaw))
	if err != nil || cfg.JobScanInterval <= 0 {
		return nil, fmt.Errorf("failed to load config: invalid JOB_SCAN_INTERVAL %q", cfg.JobScanIntervalRaw)
	}

	if cfg.RabbitMQDeliveryLimit < 1 {
		return nil, fmt.Errorf("failed to load config: RABBITMQ_DELIVERY_LIMIT must be positive")
	}

	cfg.TrackerClaimMode = strings.ToLower(strings.TrimSpace(cfg.TrackerClaimMode))
	if !cfg.ClaimMode().IsValid() {
		return nil, fmt.Errorf("failed to load config: invalid TRACKER_CLAIM_MODE %q", cfg.TrackerClaimMode)
	}

	if _, err := cfg.DefaultSettings(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// DefaultSettings is the dunning policy for shops without their own.
func (c *Config) DefaultSettings() (domain.Settings, error) {
	onFailure, err := domain.ParseOnFailureFromString(c.DefaultOnFailure)
	if err != nil {
		return domain.Settings{}, err
	}

	settings := domain.Settings{
		RetryAttempts:            c.DefaultRetryAttempts,
		DaysBetweenRetryAttempts: c.DefaultDaysBetweenRetryAttempts,
		OnFailure:                onFailure,
	}
	if err := settings.Validate(); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (c *Config) ClaimMode() dunning.ClaimMode {
	return dunning.ClaimMode(c.TrackerClaimMode)
}
