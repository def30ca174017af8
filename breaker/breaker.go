// Package breaker implements a tri-state circuit breaker guarding a remote
// dependency. One instance guards each upstream endpoint for the lifetime of
// the process.
package breaker

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrBreakerOpen = errors.New("circuit breaker is open")

type Config struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int

	// OnStateChange is invoked outside the breaker lock, may be nil.
	OnStateChange func(name string, from, to State)
}

type CircuitBreaker struct {
	mu              sync.Mutex
	cfg             Config
	state           State
	failures        int
	successes       int
	nextAttemptTime time.Time
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}

	return &CircuitBreaker{cfg: cfg, state: Closed}
}

// Execute runs operation under the breaker. While OPEN it fails immediately
// with ErrBreakerOpen until the cooldown elapses, then a probationary
// HALF_OPEN call is allowed through.
func (cb *CircuitBreaker) Execute(operation func() (interface{}, error)) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := operation()
	if err != nil {
		cb.onFailure()

		return nil, err
	}

	cb.onSuccess()

	return result, nil
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()

	if cb.state == Open {
		if time.Now().Before(cb.nextAttemptTime) {
			cb.mu.Unlock()

			return ErrBreakerOpen
		}

		// cooldown elapsed, allow a probationary call through
		cb.successes = 0
		cb.transition(HalfOpen)

		cb.mu.Unlock()

		return nil
	}

	cb.mu.Unlock()

	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()

	switch cb.state {
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.transition(Closed)
		}
	default:
		cb.failures = 0
	}

	cb.mu.Unlock()
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()

	switch cb.state {
	case HalfOpen:
		// a single probationary failure re-opens immediately
		cb.failures = 0
		cb.successes = 0
		cb.nextAttemptTime = time.Now().Add(cb.cfg.Cooldown)
		cb.transition(Open)
	case Closed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.nextAttemptTime = time.Now().Add(cb.cfg.Cooldown)
			cb.transition(Open)
		}
	}

	cb.mu.Unlock()
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to

	log.WithField("breaker", cb.cfg.Name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state changed")

	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
