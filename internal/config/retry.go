package config

// RetryConfig holds configuration for the built-in automatic retry filter.
type RetryConfig struct {
	Attempts           int    `env:"JOBCORE_RETRY_ATTEMPTS" default:"10"`
	OnAttemptsExceeded string `env:"JOBCORE_RETRY_ON_EXCEEDED" default:"Fail"` // "Fail" or "Delete"
	LogEvents          bool   `env:"JOBCORE_RETRY_LOG_EVENTS" default:"true"`
}
