// Package breaker builds the circuit breakers that isolate the router from
// its durable stores.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// Default breaker settings.
const (
	DefaultMaxFailures uint32        = 5
	DefaultTimeout     time.Duration = 30 * time.Second
	DefaultInterval    time.Duration = 60 * time.Second
)

// Settings configures a breaker. Zero fields take the defaults.
type Settings struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open trial request.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration
}

// New returns a breaker named name that logs its state changes.
func New[T any](name string, s Settings, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultMaxFailures
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	interval := s.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one trial request in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// IsOpen reports whether err was produced by an open or saturated breaker
// rather than by the protected call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Wrap tags breaker rejections as subsystem unavailability and passes other
// errors through.
func Wrap(subsystem, op, name string, err error) error {
	if err == nil {
		return nil
	}
	if IsOpen(err) {
		return domain.NewSubSystemError(subsystem, op, domain.ErrUnavailable, name+" circuit open: "+err.Error())
	}
	return err
}
