package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all tunables of the service. Everything is read from the
// environment once at startup; there is no dynamic reload.
type Config struct {
	AppEnv     string
	Port       string
	BackendURL string
	LogLevel   string
	LogFormat  string

	// RedisURL is optional. When empty, rate-limit counters and artifacts
	// live in process memory (single-instance development mode).
	RedisURL string

	// ColorizerAPIURL points at the remote inference endpoint that accepts
	// a multipart image and returns a colorized PNG.
	ColorizerAPIURL string

	// Rate limiting (per identity key).
	RateLimitWindow     time.Duration
	MaxUploadsPerWindow int
	MaxFilesPerDay      int

	// Upload validation.
	MaxFilesPerRequest int
	MaxUploadBytes     int64
	AcceptedTypes      []string

	// Dispatcher.
	PoolSize   int
	QueueDepth int

	// Inference client.
	InferenceTimeout time.Duration
	InferenceRetries int

	// Result lifecycle.
	ResultTTL     time.Duration
	SweepInterval time.Duration

	// Outer per-IP shield in front of the window limiter.
	IPRatePerSecond float64
	IPBurst         int
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		BackendURL:          getEnv("BACKEND_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
		RedisURL:            getEnv("REDIS_URL", ""),
		ColorizerAPIURL:     getEnv("COLORIZER_API_URL", ""),
		RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		MaxUploadsPerWindow: getEnvInt("MAX_UPLOADS_PER_MIN", 5),
		MaxFilesPerDay:      getEnvInt("MAX_FILES_PER_DAY", 25),
		MaxFilesPerRequest:  getEnvInt("MAX_FILES_PER_REQUEST", 5),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 1<<20)),
		AcceptedTypes:       getEnvList("ACCEPTED_TYPES", []string{"image/png", "image/jpeg", "image/webp"}),
		PoolSize:            getEnvInt("POOL_SIZE", defaultPoolSize()),
		QueueDepth:          getEnvInt("QUEUE_DEPTH", 16),
		InferenceTimeout:    getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second),
		InferenceRetries:    getEnvInt("INFERENCE_RETRIES", 2),
		ResultTTL:           getEnvDuration("RESULT_TTL", 2*time.Hour),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		IPRatePerSecond:     getEnvFloat("IP_RATE_PER_SECOND", 10),
		IPBurst:             getEnvInt("IP_BURST", 20),
	}

	if cfg.ColorizerAPIURL == "" {
		return nil, fmt.Errorf("COLORIZER_API_URL is required")
	}
	// Windows are bucketed at second granularity; anything finer would
	// divide by zero in the limiter.
	if cfg.RateLimitWindow < time.Second {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if cfg.MaxUploadsPerWindow < 1 {
		return nil, fmt.Errorf("MAX_UPLOADS_PER_MIN must be at least 1")
	}
	if cfg.MaxFilesPerRequest < 1 {
		return nil, fmt.Errorf("MAX_FILES_PER_REQUEST must be at least 1")
	}
	if cfg.MaxUploadBytes < 1 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be at least 1")
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("POOL_SIZE must be at least 1")
	}
	if cfg.QueueDepth < 0 {
		return nil, fmt.Errorf("QUEUE_DEPTH must not be negative")
	}
	if cfg.InferenceRetries < 0 {
		return nil, fmt.Errorf("INFERENCE_RETRIES must not be negative")
	}
	if cfg.ResultTTL <= 0 {
		return nil, fmt.Errorf("RESULT_TTL must be positive")
	}

	return cfg, nil
}

// defaultPoolSize allows up to 5x the core count, capped at 32 outstanding
// inference calls.
func defaultPoolSize() int {
	n := runtime.NumCPU() * 5
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
