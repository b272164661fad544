package popgate

import "time"

// Config holds configuration for the gateway.
type Config struct {
	// Addr is the listen address of the public gateway.
	Addr string

	// AdminAddr is the listen address of the admin API. Empty disables it.
	AdminAddr string

	// Root is the filesystem root served to GET requests.
	Root string

	// DefaultFile is served when a GET resolves to a directory.
	DefaultFile string

	// ChunkSize is the read size used when streaming files.
	ChunkSize int

	// MaxPayloadBytes bounds the body of a continuation request.
	MaxPayloadBytes int64

	// PendingTTL is how long a job may wait for its continuation request
	// before it is evicted. Zero disables eviction.
	PendingTTL time.Duration

	// ReapInterval is how often pending jobs are checked against PendingTTL.
	ReapInterval time.Duration

	// Concurrency is the maximum number of producers running at once.
	Concurrency int

	// MaxPending caps the number of pending jobs. Zero means no cap.
	MaxPending int

	// CreateRate is the sustained job creations per second across all
	// clients. Zero disables the limit.
	CreateRate  float64
	CreateBurst int

	// ClientRate is the sustained job creations per second per client
	// host. Zero disables the limit.
	ClientRate  float64
	ClientBurst int

	// ProducerTimeout bounds a single producer run. Zero means no limit.
	ProducerTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":80",
		Root:            ".",
		DefaultFile:     "index.html",
		ChunkSize:       1024,
		MaxPayloadBytes: 32 << 20,
		PendingTTL:      10 * time.Minute,
		ReapInterval:    30 * time.Second,
		Concurrency:     16,
		MaxPending:      10000,
		CreateBurst:     1,
		ClientBurst:     1,
		ShutdownTimeout: 30 * time.Second,
	}
}
