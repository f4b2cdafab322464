// Package config содержит логику чтения конфигурации сервиса заявок на документы.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заявок на документы.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	NotifierAddress   string        `env:"NOTIFIER_ADDRESS"`
	DailyRequestLimit int           `env:"DAILY_REQUEST_LIMIT"`
	PaymentTTL        time.Duration `env:"PAYMENT_TTL"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"`
	AuthSecret        string        `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifierAddress := cfg.NotifierAddress
	envDailyLimit := cfg.DailyRequestLimit
	envPaymentTTL := cfg.PaymentTTL
	envSweepInterval := cfg.SweepInterval
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifierAddress, "n", "", "notification gateway address")
	flag.IntVar(&cfg.DailyRequestLimit, "l", 5, "max document requests per requester per day")
	flag.DurationVar(&cfg.PaymentTTL, "p", 48*time.Hour, "payment deadline after request creation")
	flag.DurationVar(&cfg.SweepInterval, "s", time.Hour, "interval between expiry sweeps")
	flag.StringVar(&cfg.AuthSecret, "k", "docrequest-secret", "secret key for auth cookies")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifierAddress != "" {
		cfg.NotifierAddress = envNotifierAddress
	}
	if envDailyLimit != 0 {
		cfg.DailyRequestLimit = envDailyLimit
	}
	if envPaymentTTL != 0 {
		cfg.PaymentTTL = envPaymentTTL
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DailyRequestLimit <= 0 {
		return nil, fmt.Errorf("daily request limit must be positive, got %d", cfg.DailyRequestLimit)
	}
	if cfg.PaymentTTL <= 0 {
		return nil, fmt.Errorf("payment TTL must be positive, got %s", cfg.PaymentTTL)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}

	return cfg, nil
}
