package imgproc

import "time"

// Config holds runtime configuration for the processing engine.
type Config struct {
	// Concurrency is the number of worker goroutines draining the queue.
	Concurrency int

	// DequeueTimeout bounds how long a worker blocks waiting for a token
	// before re-checking for shutdown.
	DequeueTimeout time.Duration

	// VisibilityTimeout is how long a dequeued token stays invisible before
	// the queue redelivers it to another worker.
	VisibilityTimeout time.Duration

	// FetchTimeout bounds a single source download.
	FetchTimeout time.Duration

	// ItemTimeout bounds the whole per-item pipeline. Zero disables it.
	ItemTimeout time.Duration

	// Quality is the JPEG quality (1-100) passed to the transformer.
	Quality int

	// WebhookMaxAttempts caps completion-webhook delivery attempts.
	WebhookMaxAttempts int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// RetentionTTL is how long terminal batches are kept before the
	// retention sweeper purges them. Zero disables sweeping.
	RetentionTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		DequeueTimeout:     1 * time.Second,
		VisibilityTimeout:  30 * time.Second,
		FetchTimeout:       30 * time.Second,
		ItemTimeout:        5 * time.Minute,
		Quality:            50,
		WebhookMaxAttempts: 5,
		ShutdownTimeout:    30 * time.Second,
	}
}
