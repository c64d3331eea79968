package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the connection state tracked by a Retrier
type State int

const (
	// StateConnected means the last operation succeeded (or none ran yet)
	StateConnected State = iota
	// StateReconnecting means a transient failure is being retried
	StateReconnecting
	// StateFailed means the retry bound was exhausted. It is terminal until Reset.
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy bounds retrying
type Policy struct {
	// MaxAttempts is the total number of tries of a transiently failing
	// operation, the first one included
	MaxAttempts int
	// InitialDelay is the wait after the first failure; it doubles per attempt
	InitialDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// RateLimitMaxWaits bounds how often a rate-limited operation is retried
	RateLimitMaxWaits int
	// DefaultRetryAfter is waited when a rate limit carries no hint
	DefaultRetryAfter time.Duration
}

// DefaultPolicy returns the engine's default policy
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		RateLimitMaxWaits: 100,
		DefaultRetryAfter: 5 * time.Second,
	}
}

// Backoff returns the wait before retry number attempt (1-based)
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReconnectFunc re-establishes the underlying connection before a retry
type ReconnectFunc func(ctx context.Context) error

// StateObserver is notified on every state transition
type StateObserver func(from, to State)

// Retrier runs I/O operations under the Connected -> Reconnecting ->
// Connected | Failed state machine.
//
// Transient failures back off exponentially and reconnect; rate limits wait
// for the upstream's hint without consuming attempts; fatal errors return
// immediately.
type Retrier struct {
	name      string
	policy    Policy
	logger    *zap.Logger
	sleep     SleepFunc
	reconnect ReconnectFunc
	observers []StateObserver

	mu    sync.Mutex
	state State
}

// Option configures a Retrier
type Option func(*Retrier)

// WithReconnect sets the hook run before retrying a transient failure
func WithReconnect(fn ReconnectFunc) Option {
	return func(r *Retrier) { r.reconnect = fn }
}

// WithSleep replaces the wait function (tests use it to skip real sleeps)
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// WithObserver registers a state transition observer
func WithObserver(fn StateObserver) Option {
	return func(r *Retrier) { r.observers = append(r.observers, fn) }
}

// NewRetrier creates a Retrier. name identifies the guarded resource in logs.
func NewRetrier(name string, policy Policy, logger *zap.Logger, opts ...Option) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{
		name:   name,
		policy: policy,
		logger: logger.Named("resilience").With(zap.String("resource", name)),
		sleep:  sleepContext,
		state:  StateConnected,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetReconnect installs the reconnect hook after construction
func (r *Retrier) SetReconnect(fn ReconnectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnect = fn
}

// State returns the current state
func (r *Retrier) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset returns a failed Retrier to Connected
func (r *Retrier) Reset() {
	r.transition(StateConnected)
}

func (r *Retrier) transition(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	observers := r.observers
	r.mu.Unlock()

	if from == to {
		return
	}
	r.logger.Debug("Connection state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	for _, obs := range observers {
		obs(from, to)
	}
}

// Do runs fn until it succeeds, fails fatally or exhausts the policy
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r.State() == StateFailed {
		return &ExhaustedError{Op: op, Attempts: 0, Err: fmt.Errorf("%s connection previously failed", r.name)}
	}

	attempts := 0
	waits := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if r.State() != StateConnected {
				r.logger.Info("Connection recovered",
					zap.String("op", op),
					zap.Int("attempts", attempts+1),
				)
			}
			r.transition(StateConnected)
			return nil
		}

		class, retryAfter := Classify(err)
		switch class {
		case RateLimited:
			waits++
			if waits > r.policy.RateLimitMaxWaits {
				return &ExhaustedError{Op: op, Attempts: waits, Err: err}
			}
			if retryAfter <= 0 {
				retryAfter = r.policy.DefaultRetryAfter
			}
			r.logger.Warn("Rate limited, waiting before retry",
				zap.String("op", op),
				zap.Duration("retry_after", retryAfter),
				zap.Int("wait", waits),
			)
			if serr := r.sleep(ctx, retryAfter); serr != nil {
				return serr
			}

		case Transient:
			attempts++
			if attempts >= r.policy.MaxAttempts {
				r.transition(StateFailed)
				r.logger.Error("Retry attempts exhausted",
					zap.String("op", op),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				return &ExhaustedError{Op: op, Attempts: attempts, Err: err}
			}
			r.transition(StateReconnecting)
			delay := r.policy.Backoff(attempts)
			r.logger.Warn("Transient failure, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if serr := r.sleep(ctx, delay); serr != nil {
				return serr
			}
			if r.reconnect != nil {
				if rerr := r.reconnect(ctx); rerr != nil {
					if c, _ := Classify(rerr); c == Fatal {
						r.transition(StateFailed)
						return fmt.Errorf("%s: reconnect failed: %w", op, rerr)
					}
					r.logger.Warn("Reconnect failed, will retry",
						zap.String("op", op),
						zap.Error(rerr),
					)
				}
			}

		default:
			return err
		}
	}
}

// DoValue is Do for operations returning a value
func DoValue[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
