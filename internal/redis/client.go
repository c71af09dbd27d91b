// Package redis owns the go-redis client used by the remote cache tier:
// construction from configuration, connection checks, pool statistics and
// shutdown. Pooling itself is left to go-redis.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"aimake-cache/internal/common/errors"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb    redis.UniversalClient
	config *Config
	owned  bool

	closeOnce sync.Once
	closeErr  error
}

type Config struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	DB             int           `json:"db"`
	Password       string        `json:"-"`
	MaxConnections int           `json:"max_connections"`
	DialTimeout    time.Duration `json:"dial_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// Address returns host:port
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// New builds a client without contacting the server. The config is copied
// and defaults are applied to the copy.
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.ConfigError("redis config is required")
	}

	cfg := *config
	cfg.setDefaults()

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.ConfigError(fmt.Sprintf("redis port out of range: %d", cfg.Port))
	}
	if cfg.DB < 0 {
		return nil, errors.ConfigError(fmt.Sprintf("redis db must be non-negative, got %d", cfg.DB))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Client{
		rdb:    rdb,
		config: &cfg,
		owned:  true,
	}, nil
}

// Wrap adopts an existing go-redis client. Close on the returned Client does
// not close rdb; its owner does.
func Wrap(rdb redis.UniversalClient) *Client {
	config := &Config{}
	if c, ok := rdb.(*redis.Client); ok {
		if host, port, err := net.SplitHostPort(c.Options().Addr); err == nil {
			config.Host = host
			config.Port, _ = strconv.Atoi(port)
		}
	}
	return &Client{rdb: rdb, config: config}
}

// Connect verifies the server answers PING
func (c *Client) Connect(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.ConnectionError("failed to connect to Redis", err).
			WithContext("address", c.config.Address())
	}
	return nil
}

// Raw returns the underlying go-redis client
func (c *Client) Raw() redis.UniversalClient {
	return c.rdb
}

// Config returns a copy of the effective configuration
func (c *Client) Config() Config {
	return *c.config
}

// PoolStats returns the connection pool counters maintained by go-redis
func (c *Client) PoolStats() map[string]interface{} {
	stats := c.rdb.PoolStats()
	if stats == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}

// Close releases the connection pool. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.owned {
			c.closeErr = c.rdb.Close()
		}
	})
	return c.closeErr
}
