package cache

import (
	"fmt"
	"time"

	"aimake-cache/internal/circuitbreaker"
	"aimake-cache/internal/common/errors"
	redisclient "aimake-cache/internal/redis"
)

// MemoryConfig configures the in-process tier
type MemoryConfig struct {
	MaxSize         int            `json:"max_size"`
	CleanupInterval time.Duration  `json:"cleanup_interval"`
	EvictionPolicy  EvictionPolicy `json:"eviction_policy"`
}

// RemoteConfig configures the remote tier
type RemoteConfig struct {
	Redis         redisclient.Config `json:"redis"`
	KeyPrefix     string             `json:"key_prefix"`
	Serialization Serialization      `json:"serialization"`
	// OperationTimeout bounds each remote call; zero leaves only the client's own timeouts
	OperationTimeout time.Duration         `json:"operation_timeout"`
	Breaker          circuitbreaker.Config `json:"breaker"`
}

// Config is the immutable configuration of a Manager. It is copied at
// construction; changing the policy means building a new Manager.
type Config struct {
	Level Level `json:"level"`
	// DefaultExpire applies when callers pass DefaultExpiration; zero means no expiry
	DefaultExpire time.Duration `json:"default_expire"`
	Memory        MemoryConfig  `json:"memory"`
	Remote        RemoteConfig  `json:"remote"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Level:         LevelMemoryFirst,
		DefaultExpire: time.Hour,
		Memory: MemoryConfig{
			MaxSize:         1000,
			CleanupInterval: 5 * time.Minute,
			EvictionPolicy:  EvictionLRU,
		},
		Remote: RemoteConfig{
			Redis: redisclient.Config{
				Host:           "localhost",
				Port:           6379,
				MaxConnections: 20,
			},
			KeyPrefix:        "aimake:",
			Serialization:    SerializationJSON,
			OperationTimeout: 2 * time.Second,
			Breaker:          circuitbreaker.DefaultConfig(),
		},
	}
}

// Validate checks the parts of the configuration the selected level uses
func (c Config) Validate() error {
	if !c.Level.Valid() {
		return errors.ConfigError(fmt.Sprintf("unknown cache level %q", c.Level))
	}
	if c.DefaultExpire < 0 {
		return errors.ConfigError("default expire must not be negative")
	}

	if c.Level.UsesMemory() {
		if c.Memory.MaxSize <= 0 {
			return errors.ConfigError(fmt.Sprintf("memory max size must be positive, got %d", c.Memory.MaxSize))
		}
		if c.Memory.CleanupInterval <= 0 {
			return errors.ConfigError("memory cleanup interval must be positive")
		}
	}

	if c.Level.UsesRemote() {
		if c.Remote.KeyPrefix == "" {
			return errors.ConfigError("remote key prefix must not be empty; the remote tier shares its server with other namespaces")
		}
		if _, err := NewCodec(c.Remote.Serialization); err != nil {
			return err
		}
		if c.Remote.OperationTimeout < 0 {
			return errors.ConfigError("remote operation timeout must not be negative")
		}
		if err := c.Remote.Breaker.Validate(); err != nil {
			return err
		}
	}

	return nil
}
