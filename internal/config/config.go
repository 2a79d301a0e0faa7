// Package config содержит логику чтения конфигурации сервиса призового пула.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса призового пула.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	YieldSourceAddress string `env:"YIELD_SOURCE_ADDRESS"`
	RandomnessAddress  string `env:"RANDOMNESS_ADDRESS"`
	AdminKey           string `env:"ADMIN_KEY"`
	AuthSecret         string `env:"AUTH_SECRET"`

	MinDeposit   float64       `env:"MIN_DEPOSIT" envDefault:"1.0"`
	DrawInterval time.Duration `env:"DRAW_INTERVAL" envDefault:"24h"`

	SavingsPercent  float64 `env:"SAVINGS_PERCENT" envDefault:"0.4"`
	LotteryPercent  float64 `env:"LOTTERY_PERCENT" envDefault:"0.4"`
	TreasuryPercent float64 `env:"TREASURY_PERCENT" envDefault:"0.2"`

	RewardsCron      string `env:"REWARDS_CRON" envDefault:"@every 1m"`
	DrawCron         string `env:"DRAW_CRON" envDefault:"@every 5m"`
	HealthCheckCron  string `env:"HEALTH_CHECK_CRON" envDefault:"@every 30s"`
	BlockIntervalSec int    `env:"BLOCK_INTERVAL_SEC" envDefault:"2"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envYieldAddress := cfg.YieldSourceAddress
	envRandomnessAddress := cfg.RandomnessAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.YieldSourceAddress, "y", "", "external yield source address")
	flag.StringVar(&cfg.RandomnessAddress, "r", "", "randomness oracle address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envYieldAddress != "" {
		cfg.YieldSourceAddress = envYieldAddress
	}
	if envRandomnessAddress != "" {
		cfg.RandomnessAddress = envRandomnessAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.SavingsPercent < 0 || cfg.LotteryPercent < 0 || cfg.TreasuryPercent < 0 {
		return nil, fmt.Errorf("distribution percentages must be non-negative")
	}

	return cfg, nil
}
