package cache

import (
	"testing"
	"time"

	"aimake-cache/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, name := range Levels() {
		level, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, level.String())
	}

	level, err := ParseLevel("  Memory_First ")
	require.NoError(t, err)
	assert.Equal(t, LevelMemoryFirst, level)

	_, err = ParseLevel("l1_only")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestLevel_Tiers(t *testing.T) {
	assert.True(t, LevelMemoryOnly.UsesMemory())
	assert.False(t, LevelMemoryOnly.UsesRemote())
	assert.False(t, LevelRemoteOnly.UsesMemory())
	assert.True(t, LevelRemoteOnly.UsesRemote())
	for _, l := range []Level{LevelMemoryFirst, LevelRemoteFirst, LevelBoth} {
		assert.True(t, l.UsesMemory())
		assert.True(t, l.UsesRemote())
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown level", func(c *Config) { c.Level = "everything" }},
		{"negative expire", func(c *Config) { c.DefaultExpire = -time.Second }},
		{"zero max size", func(c *Config) { c.Memory.MaxSize = 0 }},
		{"zero cleanup interval", func(c *Config) { c.Memory.CleanupInterval = 0 }},
		{"unknown serialization", func(c *Config) { c.Remote.Serialization = "msgpack" }},
		{"negative timeout", func(c *Config) { c.Remote.OperationTimeout = -time.Second }},
		{"broken breaker", func(c *Config) { c.Remote.Breaker.Timeout = 0 }},
		{"empty key prefix", func(c *Config) { c.Remote.KeyPrefix = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			err := config.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
		})
	}
}

func TestConfig_ValidateOnlyUsedTiers(t *testing.T) {
	config := DefaultConfig()
	config.Level = LevelRemoteOnly
	config.Memory.MaxSize = 0
	assert.NoError(t, config.Validate())

	config = DefaultConfig()
	config.Level = LevelMemoryOnly
	config.Remote.Serialization = "msgpack"
	config.Remote.KeyPrefix = ""
	assert.NoError(t, config.Validate())
}
