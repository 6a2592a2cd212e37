package config

import (
	"fmt"
	"time"

	"github.com/rezkam/jobcore/internal/env"
)

// WorkerConfig holds all configuration for the worker binary.
type WorkerConfig struct {
	Database         DatabaseConfig
	Retry            RetryConfig
	Archive          ArchiveConfig
	Concurrency      int           `env:"JOBCORE_WORKER_CONCURRENCY" default:"4"`
	OperationTimeout time.Duration `env:"JOBCORE_WORKER_OPERATION_TIMEOUT" default:"5m"`
	RateLimitPerSec  float64       `env:"JOBCORE_WORKER_RATE_LIMIT_PER_SEC"` // 0 = unlimited
}

// LoadWorkerConfig loads and validates worker configuration from environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	return cfg, nil
}
