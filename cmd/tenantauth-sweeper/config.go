package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/MrEthical07/tenantauth"
)

// deployConfig holds the process wiring that tenantauth.Config does not
// cover. Variables share the TENANTAUTH_ prefix.
type deployConfig struct {
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty,unset"`
	Migrate         bool          `env:"DATABASE_MIGRATE" envDefault:"false"`
	MaxConns        int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	RedisAddrs      []string      `env:"REDIS_ADDRS" envSeparator:"," envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD,unset"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string        `env:"KAFKA_AUDIT_TOPIC" envDefault:"tenantauth.audit"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func loadDeployConfig(opts env.Options) (deployConfig, error) {
	var cfg deployConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return deployConfig{}, fmt.Errorf("parse deploy config: %w", err)
	}
	if cfg.MaxConns <= 0 {
		return deployConfig{}, errors.New("DATABASE_MAX_CONNS must be positive")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return deployConfig{}, errors.New("KAFKA_AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}
	return cfg, nil
}

func defaultEnvOptions() env.Options {
	return env.Options{Prefix: tenantauth.EnvPrefix}
}
