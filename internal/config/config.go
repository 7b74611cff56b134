// Package config provides centralized configuration management for the
// importer. Settings come from environment variables with defaults and are
// validated on startup so a misconfigured deployment fails before it serves.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Upload   UploadConfig
	Import   ImportConfig
	Webhook  WebhookConfig
	Kafka    KafkaConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Sweeper  SweeperConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is zero by default so progress streams are not cut off
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including in-flight uploads (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies the embedded schema on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// RedisConfig holds the connection used for progress snapshots and the
// work queue. An empty URL selects the in-process implementations.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`

	// QueuePrefix namespaces queue keys (default: queue)
	QueuePrefix string `env:"REDIS_QUEUE_PREFIX" default:"queue"`

	// PollTimeout is the blocking pop timeout per dequeue attempt (default: 5s)
	PollTimeout time.Duration `env:"REDIS_POLL_TIMEOUT" default:"5s"`

	// PromoteInterval is how often delayed tasks are moved to ready lists (default: 1s)
	PromoteInterval time.Duration `env:"REDIS_PROMOTE_INTERVAL" default:"1s"`
}

// UploadConfig holds CSV upload settings.
type UploadConfig struct {
	// Dir is where uploaded files wait for the import worker (default: /tmp/uploads)
	Dir string `env:"UPLOAD_DIR" default:"/tmp/uploads"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 500MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"524288000"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// ReadTimeout replaces SERVER_READ_TIMEOUT and SERVER_REQUEST_TIMEOUT
	// on the upload route so large files can arrive (default: 10m)
	ReadTimeout time.Duration `env:"UPLOAD_READ_TIMEOUT" default:"10m"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// ChunkSize is the number of valid rows per upsert statement (default: 5000)
	ChunkSize int `env:"IMPORT_CHUNK_SIZE" default:"5000"`

	// ProgressInterval is how many rows pass between durable progress writes (default: 1000)
	ProgressInterval int `env:"IMPORT_PROGRESS_INTERVAL" default:"1000"`

	// MaxErrorSamples caps the row errors stored on a job (default: 100)
	MaxErrorSamples int `env:"IMPORT_MAX_ERROR_SAMPLES" default:"100"`

	// MaxAttempts is the number of deliveries an import task gets (default: 3)
	MaxAttempts int `env:"IMPORT_MAX_ATTEMPTS" default:"3"`

	// ProgressTTL is how long a progress snapshot survives (default: 1h)
	ProgressTTL time.Duration `env:"PROGRESS_TTL" default:"1h"`

	StreamPollInterval time.Duration `env:"STREAM_POLL_INTERVAL" default:"500ms"`
	StreamMaxDuration  time.Duration `env:"STREAM_MAX_DURATION" default:"10m"`
}

// WebhookConfig holds outbound delivery settings.
type WebhookConfig struct {
	// Timeout bounds a single delivery request (default: 10s)
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" default:"10s"`

	// RetryBaseDelay is multiplied by the attempt number for each retry (default: 60s)
	RetryBaseDelay time.Duration `env:"WEBHOOK_RETRY_BASE_DELAY" default:"60s"`

	// MaxAttempts is the total number of delivery attempts (default: 3)
	MaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" default:"3"`

	// Workers is the number of delivery goroutines (default: 4)
	Workers int `env:"WEBHOOK_WORKERS" default:"4"`
}

// KafkaConfig enables the event mirror when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_TOPIC" default:"product-importer.events"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects /api routes with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SweeperConfig controls cleanup of abandoned upload files.
type SweeperConfig struct {
	Enabled  bool          `env:"SWEEPER_ENABLED" default:"true"`
	Interval time.Duration `env:"SWEEPER_INTERVAL" default:"15m"`

	// MaxAge is how old a file must be before it is considered abandoned (default: 24h)
	MaxAge time.Duration `env:"SWEEPER_MAX_AGE" default:"24h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
