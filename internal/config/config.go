// Package config provides configuration management for the cache layer and
// its diagnostics binary. It handles loading configuration from environment
// variables with sensible defaults and validates the configuration before a
// cache Manager is built from it.
//
// Environment Variables:
//
// Application Settings:
//   - LOG_LEVEL: Logging level (default: info)
//   - DIAG_ADDR: Listen address for the diagnostics HTTP server; empty prints once and exits
//
// Cache Policy:
//   - CACHE_LEVEL: memory_only, remote_only, memory_first, remote_first or both (default: memory_first)
//   - CACHE_DEFAULT_EXPIRE: Default TTL in seconds, 0 for no expiry (default: 3600)
//
// In-Process Tier:
//   - CACHE_MEMORY_MAX_SIZE: Maximum number of entries (default: 1000)
//   - CACHE_MEMORY_CLEANUP_INTERVAL: Sweep interval in seconds (default: 300)
//   - CACHE_MEMORY_EVICTION_POLICY: lru, lfu, fifo or random (default: lru)
//
// Redis Tier:
//   - REDIS_HOST: Redis host (default: localhost)
//   - REDIS_PORT: Redis port (default: 6379)
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_MAX_CONNECTIONS: Connection pool size (default: 20)
//   - REDIS_KEY_PREFIX: Namespace prepended to every key (default: aimake:)
//   - REDIS_SERIALIZATION: json or raw (default: json)
//   - REDIS_OPERATION_TIMEOUT: Per-call timeout (default: 2s)
//   - REDIS_BREAKER_MAX_FAILURES: Consecutive failures that open the breaker, 0 disables it (default: 5)
//   - REDIS_BREAKER_TIMEOUT: How long the breaker stays open (default: 30s)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//	manager, err := cache.NewManager(cfg.ToCacheConfig())
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"aimake-cache/internal/cache"
	"aimake-cache/internal/circuitbreaker"
	"aimake-cache/internal/common/errors"
	"aimake-cache/internal/common/validation"
	redisclient "aimake-cache/internal/redis"
)

// Config holds all configuration values for the cache layer. Field names in
// validation messages are the environment variable names.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	LogLevel string `env:"LOG_LEVEL" validate:"log_level"`
	DiagAddr string `env:"DIAG_ADDR"`

	// Cache policy
	CacheLevel    string        `env:"CACHE_LEVEL" validate:"required,cache_level"`
	DefaultExpire time.Duration `env:"CACHE_DEFAULT_EXPIRE" validate:"gte=0s"`

	// In-process tier
	MemoryMaxSize         int           `env:"CACHE_MEMORY_MAX_SIZE" validate:"min=1"`
	MemoryCleanupInterval time.Duration `env:"CACHE_MEMORY_CLEANUP_INTERVAL" validate:"gte=1s"`
	MemoryEvictionPolicy  string        `env:"CACHE_MEMORY_EVICTION_POLICY" validate:"eviction_policy"`

	// Redis tier
	RedisHost               string        `env:"REDIS_HOST" validate:"required"`
	RedisPort               int           `env:"REDIS_PORT" validate:"min=1,max=65535"`
	RedisDB                 int           `env:"REDIS_DB" validate:"min=0,max=15"`
	RedisPassword           string        `env:"REDIS_PASSWORD"`
	RedisMaxConnections     int           `env:"REDIS_MAX_CONNECTIONS" validate:"min=1"`
	RedisKeyPrefix          string        `env:"REDIS_KEY_PREFIX" validate:"required"`
	RedisSerialization      string        `env:"REDIS_SERIALIZATION" validate:"serialization"`
	RedisOperationTimeout   time.Duration `env:"REDIS_OPERATION_TIMEOUT" validate:"gte=0s"`
	RedisBreakerMaxFailures int           `env:"REDIS_BREAKER_MAX_FAILURES" validate:"min=0"`
	RedisBreakerTimeout     time.Duration `env:"REDIS_BREAKER_TIMEOUT" validate:"gte=0s"`

	// values that were set but could not be parsed
	parseErrors []string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config. Values that are set but unparsable are reported there.
func Load() *Config {
	c := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DiagAddr: getEnv("DIAG_ADDR", ""),

		CacheLevel:           getEnv("CACHE_LEVEL", string(cache.LevelMemoryFirst)),
		MemoryEvictionPolicy: getEnv("CACHE_MEMORY_EVICTION_POLICY", string(cache.EvictionLRU)),

		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisKeyPrefix:     getEnv("REDIS_KEY_PREFIX", "aimake:"),
		RedisSerialization: getEnv("REDIS_SERIALIZATION", string(cache.SerializationJSON)),
	}

	c.DefaultExpire = c.getSecondsEnv("CACHE_DEFAULT_EXPIRE", 3600)
	c.MemoryMaxSize = c.getIntEnv("CACHE_MEMORY_MAX_SIZE", 1000)
	c.MemoryCleanupInterval = c.getSecondsEnv("CACHE_MEMORY_CLEANUP_INTERVAL", 300)

	c.RedisPort = c.getIntEnv("REDIS_PORT", 6379)
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisMaxConnections = c.getIntEnv("REDIS_MAX_CONNECTIONS", 20)
	c.RedisOperationTimeout = c.getDurationEnv("REDIS_OPERATION_TIMEOUT", 2*time.Second)
	c.RedisBreakerMaxFailures = c.getIntEnv("REDIS_BREAKER_MAX_FAILURES", 5)
	c.RedisBreakerTimeout = c.getDurationEnv("REDIS_BREAKER_TIMEOUT", 30*time.Second)

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable. An unparsable value
// keeps the default and is recorded for Validate.
func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// getSecondsEnv reads a whole number of seconds
func (c *Config) getSecondsEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(c.getIntEnv(key, defaultSeconds)) * time.Second
}

// getDurationEnv reads a Go duration string such as "2s" or "1m30s". A bare
// integer is taken as seconds.
func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a valid duration (e.g., '2s', '1m'), got %q", key, value))
		return defaultValue
	}
	return parsed
}

func newValidator() (*validation.CentralizedValidator, error) {
	v := validation.NewCentralizedValidator()
	enums := map[string][]string{
		"cache_level":     cache.Levels(),
		"eviction_policy": cache.EvictionPolicies(),
		"serialization":   cache.Serializations(),
		"log_level":       {"debug", "info", "warn", "warning", "error"},
	}
	for tag, allowed := range enums {
		if err := v.RegisterEnum(tag, allowed...); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Validate performs validation on the configuration to ensure all values are
// usable before a Manager is built.
//
// This method checks:
//   - Values that were set but could not be parsed
//   - Field ranges and enumerations (level, eviction policy, serialization)
//   - Cross-field rules enforced by the cache itself (breaker settings)
func (c *Config) Validate() error {
	if len(c.parseErrors) > 0 {
		return errors.ConfigError(strings.Join(c.parseErrors, "; "))
	}

	v, err := newValidator()
	if err != nil {
		return errors.InternalError("failed to build config validator", err)
	}
	if err := v.ValidateStruct(c); err != nil {
		return err
	}

	return c.ToCacheConfig().Validate()
}

// ToCacheConfig converts the environment view into the Manager's
// configuration. Call Validate first.
func (c *Config) ToCacheConfig() cache.Config {
	return cache.Config{
		Level:         cache.Level(strings.ToLower(c.CacheLevel)),
		DefaultExpire: c.DefaultExpire,
		Memory: cache.MemoryConfig{
			MaxSize:         c.MemoryMaxSize,
			CleanupInterval: c.MemoryCleanupInterval,
			EvictionPolicy:  cache.EvictionPolicy(strings.ToLower(c.MemoryEvictionPolicy)),
		},
		Remote: cache.RemoteConfig{
			Redis: redisclient.Config{
				Host:           c.RedisHost,
				Port:           c.RedisPort,
				DB:             c.RedisDB,
				Password:       c.RedisPassword,
				MaxConnections: c.RedisMaxConnections,
			},
			KeyPrefix:        c.RedisKeyPrefix,
			Serialization:    cache.Serialization(strings.ToLower(c.RedisSerialization)),
			OperationTimeout: c.RedisOperationTimeout,
			Breaker: circuitbreaker.Config{
				MaxFailures:           c.RedisBreakerMaxFailures,
				Timeout:               c.RedisBreakerTimeout,
				MaxConcurrentRequests: 1,
			},
		},
	}
}
