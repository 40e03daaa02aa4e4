// Package retry implements the orchestrator's transient-failure retry
// policy and a circuit breaker for repeated clone failures against the same
// repository.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy controls attempt count and backoff. The orchestrator's retry
// policy is at most 2 additional attempts (3 total) with exponential delay
// starting at 10s.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// OrchestratorPolicy is the policy named in §4.11: transient clone/fetch/
// checkout/diff failures get at most 2 extra attempts, exponential delay
// from 10s.
func OrchestratorPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      10 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2,
	}
}

// RetryableFunc is an operation Do can retry. Whether its failure is
// retried is decided by the shouldRetry function passed to Do.
type RetryableFunc func(ctx context.Context) error

// Do executes fn, retrying up to policy.MaxAttempts-1 additional times when
// shouldRetry(err) is true. It never retries after ctx is done, and it does
// not retry a non-retryable error at all.
func Do(ctx context.Context, policy Policy, shouldRetry func(error) bool, fn RetryableFunc) error {
	var lastErr error
	rng := rand.New(rand.NewSource(seed()))

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt >= policy.MaxAttempts-1 {
			break
		}

		delay := backoff(policy, attempt, rng)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func backoff(policy Policy, attempt int, rng *rand.Rand) time.Duration {
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	delay := time.Duration(float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay > 0 {
		delay += time.Duration(rng.Int63n(int64(delay) / 10))
	}
	return delay
}

// seed returns the wall-clock seed for Do's jitter source; callers needing
// determinism in tests pass their own shouldRetry/backoff expectations
// rather than relying on jitter.
func seed() int64 {
	return time.Now().UnixNano()
}

// CircuitState is a breaker's current state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker trips after a run of consecutive clone failures against
// the same repository, so a persistently-unreachable remote doesn't retry
// forever across jobs. Keyed per repo_url by the caller.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastFailure      time.Time
	successes        int
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
}

func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: 2,
	}
}

func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	if cb.state == CircuitHalfOpen && cb.successes >= cb.successThreshold {
		cb.state = CircuitClosed
		cb.failures = 0
		cb.successes = 0
	}
	if cb.state == CircuitClosed {
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	cb.successes = 0
	if cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
