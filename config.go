package steadyq

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for the processing engine.
type Config struct {
	// StorePath is the filesystem location of the durable queue database.
	StorePath string `env:"STEADYQ_STORE_PATH" envDefault:"data/steadyq.db"`

	// BatchSize is the number of messages dequeued per batch.
	BatchSize int `env:"STEADYQ_BATCH_SIZE" envDefault:"10"`

	// MaxConcurrentBatches bounds the number of batches in flight.
	MaxConcurrentBatches int `env:"STEADYQ_MAX_CONCURRENT_BATCHES" envDefault:"3"`

	// ProcessingInterval is how often the processor polls for new messages
	// when the queue is idle.
	ProcessingInterval time.Duration `env:"STEADYQ_PROCESSING_INTERVAL" envDefault:"1s"`

	// ProcessingTimeout is the per-message handler execution deadline.
	ProcessingTimeout time.Duration `env:"STEADYQ_PROCESSING_TIMEOUT" envDefault:"30s"`

	// RetryAttempts is the default retry budget for enqueued messages.
	RetryAttempts int `env:"STEADYQ_RETRY_ATTEMPTS" envDefault:"3"`

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `env:"STEADYQ_RETRY_DELAY" envDefault:"1s"`

	// CleanupInterval is how often completed rows and idle rate-limiter
	// windows are swept. Zero disables the background sweep.
	CleanupInterval time.Duration `env:"STEADYQ_CLEANUP_INTERVAL" envDefault:"5m"`

	// CompletedRetention is how long completed messages are kept before
	// the cleanup sweep removes them.
	CompletedRetention time.Duration `env:"STEADYQ_COMPLETED_RETENTION" envDefault:"168h"`

	// ReclaimAfter, when non-zero, returns messages stuck in processing
	// state for longer than this duration back to pending. Crash recovery
	// is opt-in: the zero value leaves stuck rows untouched.
	ReclaimAfter time.Duration `env:"STEADYQ_RECLAIM_AFTER" envDefault:"0"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StorePath:            "data/steadyq.db",
		BatchSize:            10,
		MaxConcurrentBatches: 3,
		ProcessingInterval:   1 * time.Second,
		ProcessingTimeout:    30 * time.Second,
		RetryAttempts:        3,
		RetryDelay:           1 * time.Second,
		CleanupInterval:      5 * time.Minute,
		CompletedRetention:   7 * 24 * time.Hour,
	}
}

// LoadConfig reads configuration from the environment, applying defaults
// for unset keys.
func LoadConfig() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("steadyq: parse config: %w", err)
	}
	return c, nil
}
