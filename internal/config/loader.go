package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults for
// unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), &missing); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config load: required environment variables not set: %s",
			strings.Join(missing, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
// Unset required variables are appended to missing so they can be reported
// together.
func loadStruct(v reflect.Value, missing *[]string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, missing); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		value := lookup(envName, envAlt)
		if value == "" {
			if required {
				*missing = append(*missing, envName)
				continue
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookup returns the primary variable, falling back to the alternate name.
func lookup(name, alt string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	if alt != "" {
		return strings.TrimSpace(os.Getenv(alt))
	}
	return ""
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is usable and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Database.URL == "" {
		add("DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		add("DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		add("DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		add("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		add("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Redis.URL != "" && c.Redis.PollTimeout <= 0 {
		add("REDIS_POLL_TIMEOUT must be positive")
	}
	if c.Redis.URL != "" && c.Redis.PromoteInterval <= 0 {
		add("REDIS_PROMOTE_INTERVAL must be positive")
	}

	if c.Upload.Dir == "" {
		add("UPLOAD_DIR must not be empty")
	}
	if c.Upload.MaxFileSize <= 0 {
		add("UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		add("UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		add("UPLOAD_MAX_WAIT_TIME must be positive")
	}
	if c.Upload.ReadTimeout < c.Server.ReadTimeout {
		add("UPLOAD_READ_TIMEOUT must not be shorter than SERVER_READ_TIMEOUT")
	}

	if c.Import.ChunkSize <= 0 {
		add("IMPORT_CHUNK_SIZE must be positive")
	}
	if c.Import.ProgressInterval <= 0 {
		add("IMPORT_PROGRESS_INTERVAL must be positive")
	}
	if c.Import.MaxErrorSamples < 0 {
		add("IMPORT_MAX_ERROR_SAMPLES must be non-negative")
	}
	if c.Import.MaxAttempts <= 0 {
		add("IMPORT_MAX_ATTEMPTS must be positive")
	}
	if c.Import.ProgressTTL <= 0 {
		add("PROGRESS_TTL must be positive")
	}
	if c.Import.StreamPollInterval <= 0 {
		add("STREAM_POLL_INTERVAL must be positive")
	}
	if c.Import.StreamMaxDuration < c.Import.StreamPollInterval {
		add("STREAM_MAX_DURATION must be >= STREAM_POLL_INTERVAL")
	}

	if c.Webhook.Timeout <= 0 {
		add("WEBHOOK_TIMEOUT must be positive")
	}
	if c.Webhook.RetryBaseDelay < 0 {
		add("WEBHOOK_RETRY_BASE_DELAY must be non-negative")
	}
	if c.Webhook.MaxAttempts <= 0 {
		add("WEBHOOK_MAX_ATTEMPTS must be positive")
	}
	if c.Webhook.Workers <= 0 {
		add("WEBHOOK_WORKERS must be positive")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		add("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		add("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		add("RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		add("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		add("SWEEPER_INTERVAL must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.MaxAge <= 0 {
		add("SWEEPER_MAX_AGE must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		add("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation safe for logs. Connection strings and
// keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Redis: {URL: %s}, ", mask(c.Redis.URL))
	fmt.Fprintf(&b, "Upload: {Dir: %q, MaxFileSize: %d, MaxConcurrent: %d}, ",
		c.Upload.Dir, c.Upload.MaxFileSize, c.Upload.MaxConcurrent)
	fmt.Fprintf(&b, "Import: {ChunkSize: %d, ProgressInterval: %d}, ",
		c.Import.ChunkSize, c.Import.ProgressInterval)
	fmt.Fprintf(&b, "Webhook: {Timeout: %s, MaxAttempts: %d, Workers: %d}, ",
		c.Webhook.Timeout, c.Webhook.MaxAttempts, c.Webhook.Workers)
	fmt.Fprintf(&b, "Kafka: {Brokers: %v, Topic: %q}, ", c.Kafka.Brokers, c.Kafka.Topic)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[unset]"
	}
	return "[MASKED]"
}
