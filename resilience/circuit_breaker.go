package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker stops calling a dependency after MaxFailures consecutive
// failures and lets trial calls through once Timeout has passed.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	timeout       time.Duration
	halfOpenMax   int
	now           func() time.Time
	onStateChange func(name string, from, to CircuitState)

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	trials      int
	lastFailure time.Time
}

type CircuitBreakerConfig struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	Now           func() time.Time
	OnStateChange func(name string, from, to CircuitState)
}

func CreateCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		timeout:       cfg.Timeout,
		halfOpenMax:   cfg.HalfOpenMax,
		now:           cfg.Now,
		onStateChange: cfg.OnStateChange,
		state:         CircuitClosed,
	}
}

// Execute runs fn unless the circuit is open. fn must honor ctx itself.
// A caller giving up (context.Canceled) is not counted against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.timeout {
			return false
		}
		cb.transitionTo(CircuitHalfOpen)
	}
	if cb.trials >= cb.halfOpenMax {
		return false
	}
	cb.trials++
	return true
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.trials--
	}

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.transitionTo(CircuitOpen)
		}
	case cb.state == CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.transitionTo(CircuitClosed)
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.trials = 0

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
