package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when a request is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
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

type Config struct {
	FailureThreshold    int           // consecutive failures that open the breaker
	SuccessThreshold    int           // half-open successes that close it again
	Timeout             time.Duration // how long the breaker stays open
	MaxRequestsHalfOpen int           // trial requests admitted while half-open

	// IsFailure decides whether an error counts against the breaker.
	// Nil means every error counts.
	IsFailure func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// Stats is a point-in-time copy of the breaker counters.
type Stats struct {
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenRequests int
	LastFailureTime  time.Time
	StateChangeTime  time.Time
}

// CircuitBreaker guards calls to a flaky dependency. It is safe for
// concurrent use.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	stats         Stats
	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	cb := &CircuitBreaker{config: config, now: time.Now}
	cb.stats.StateChangeTime = cb.now()
	return cb
}

// OnStateChange registers fn to run, in its own goroutine, after every
// transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn unless the breaker rejects it. Rejections wrap
// ErrOpen. Errors filtered out by Config.IsFailure count as successes.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if state, ok := cb.admit(); !ok {
		return zero, fmt.Errorf("%w: state %s", ErrOpen, state)
	}

	result, err := fn()
	cb.record(err == nil || (cb.config.IsFailure != nil && !cb.config.IsFailure(err)))
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (cb *CircuitBreaker) admit() (State, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stats.State {
	case StateOpen:
		if cb.now().Sub(cb.stats.StateChangeTime) < cb.config.Timeout {
			return StateOpen, false
		}
		cb.setState(StateHalfOpen)
		cb.stats.HalfOpenRequests = 1
		return StateHalfOpen, true
	case StateHalfOpen:
		if cb.stats.HalfOpenRequests >= cb.config.MaxRequestsHalfOpen {
			return StateHalfOpen, false
		}
		cb.stats.HalfOpenRequests++
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.stats.SuccessCount++
		cb.stats.FailureCount = 0
		if cb.stats.State == StateHalfOpen && cb.stats.SuccessCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	cb.stats.FailureCount++
	cb.stats.SuccessCount = 0
	cb.stats.LastFailureTime = cb.now()
	switch cb.stats.State {
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateClosed:
		if cb.stats.FailureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.stats.State
	if from == to {
		return
	}
	cb.stats.State = to
	cb.stats.StateChangeTime = cb.now()
	if to != StateOpen {
		cb.stats.FailureCount = 0
		cb.stats.SuccessCount = 0
		cb.stats.HalfOpenRequests = 0
	}
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}
