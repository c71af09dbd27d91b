// Package circuitbreaker guards calls to a remote backend with Sony's gobreaker
// so that a dead backend fails fast instead of stalling every caller on its
// network timeout.
package circuitbreaker

import (
	stderrors "errors"
	"fmt"
	"time"

	"aimake-cache/internal/common/errors"
	"aimake-cache/internal/common/logging"

	"github.com/sony/gobreaker"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	// Zero or negative disables the breaker.
	MaxFailures int `json:"max_failures"`
	// Timeout is how long the breaker stays open before allowing a probe
	Timeout time.Duration `json:"timeout"`
	// MaxConcurrentRequests is the number of probes allowed while half-open
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// DefaultConfig returns the configuration used for the remote cache tier
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Enabled reports whether the configuration enables the breaker
func (c Config) Enabled() bool {
	return c.MaxFailures > 0
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Timeout <= 0 {
		return errors.ConfigError(fmt.Sprintf("circuit breaker timeout must be positive, got %v", c.Timeout))
	}
	if c.MaxConcurrentRequests <= 0 {
		return errors.ConfigError(fmt.Sprintf("circuit breaker max concurrent requests must be positive, got %d", c.MaxConcurrentRequests))
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means requests flow through
	StateClosed State = iota
	// StateOpen means requests are rejected without calling the backend
	StateOpen
	// StateHalfOpen means a limited number of probes are allowed
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of the breaker's counters
type Stats struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	TotalSuccesses       uint32 `json:"total_successes"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// ErrOpen is the cause attached to errors returned while the breaker rejects calls
var ErrOpen = stderrors.New("circuit breaker is open")

// Breaker wraps gobreaker. A nil or disabled Breaker calls through directly.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// New creates a breaker. Errors for which isFailure returns false (for
// example, a value that cannot be serialized) do not count toward tripping.
func New(name string, config Config, isFailure func(error) bool, logger logging.Logger) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled() {
		return &Breaker{name: name}, nil
	}

	logger = logging.OrGlobal(logger)
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Execute runs fn inside the breaker
func (b *Breaker) Execute(fn func() error) error {
	if b == nil || b.breaker == nil {
		return fn()
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' rejected the call", b.name), ErrOpen).
			WithContext("state", b.State().String())
	}
	return err
}

// State returns the current state of the breaker
func (b *Breaker) State() State {
	if b == nil || b.breaker == nil {
		return StateClosed
	}
	switch b.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Stats returns the current counters
func (b *Breaker) Stats() Stats {
	if b == nil || b.breaker == nil {
		return Stats{Name: b.nameOrEmpty(), State: StateClosed.String()}
	}

	counts := b.breaker.Counts()
	return Stats{
		Name:                 b.name,
		State:                b.State().String(),
		Requests:             counts.Requests,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		TotalSuccesses:       counts.TotalSuccesses,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

func (b *Breaker) nameOrEmpty() string {
	if b == nil {
		return ""
	}
	return b.name
}
