// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/quantadev/optimhub/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Engine struct {
		// Algorithms restricts the solver library; empty enables all.
		Algorithms          []string      `env:"ENGINE_ALGORITHMS" envSeparator:","`
		FallbackToClassical bool          `env:"ENGINE_FALLBACK_TO_CLASSICAL" envDefault:"true"`
		AdvantageThreshold  float64       `env:"ENGINE_ADVANTAGE_THRESHOLD" envDefault:"0"`
		MaxExecutionTime    time.Duration `env:"ENGINE_MAX_EXECUTION_TIME" envDefault:"30s"`
		CacheResults        bool          `env:"ENGINE_CACHE_RESULTS" envDefault:"true"`
		CacheTTL            time.Duration `env:"ENGINE_CACHE_TTL" envDefault:"5m"`
		QueueCapacity       int           `env:"ENGINE_QUEUE_CAPACITY" envDefault:"0"`
		WorkerCount         int           `env:"ENGINE_WORKER_COUNT" envDefault:"1"`
		StatsInterval       time.Duration `env:"ENGINE_STATS_INTERVAL" envDefault:"30s"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// EnabledAlgorithms converts the configured algorithm names, dropping any
// unknown ones.
func (c *Config) EnabledAlgorithms() []optimization.AlgorithmKind {
	kinds := make([]optimization.AlgorithmKind, 0, len(c.Engine.Algorithms))
	for _, name := range c.Engine.Algorithms {
		if k, ok := optimization.ParseAlgorithm(name); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
