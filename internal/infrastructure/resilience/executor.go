package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Observer receives per-dependency call outcomes. PipelineMetrics implements it.
type Observer interface {
	ObserveDependencyCall(dependency, operation, outcome string, attempts int)
	ObserveBreakerState(dependency, operation, state string)
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

// Executor guards the calls made to one dependency (the source bucket, the
// broker, Dify, an inference backend) with a breaker per operation and a
// bounded exponential retry. A nil *Executor calls fn directly.
type Executor struct {
	dependency string
	cfg        Config
	logger     *slog.Logger
	observer   Observer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(dependency string, cfg Config, opts ...Option) *Executor {
	dependency = strings.TrimSpace(dependency)
	if dependency == "" {
		dependency = "dependency"
	}
	e := &Executor{
		dependency: dependency,
		cfg:        cfg.normalize(),
		logger:     slog.Default(),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Dependency() string {
	if e == nil {
		return ""
	}
	return e.dependency
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if e == nil {
		return fn(ctx)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "call"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	var attempts int
	run := func() error {
		n, err := e.retry(ctx, op, fn, classifier)
		attempts = n
		return err
	}

	var err error
	if e.cfg.BreakerEnabled {
		_, err = e.breaker(op, classifier).Execute(func() (struct{}, error) {
			return struct{}{}, run()
		})
	} else {
		err = run()
	}
	e.observe(op, err, attempts)
	return err
}

// ExecuteValue is Execute for calls that produce a value.
func ExecuteValue[T any](
	ctx context.Context,
	e *Executor,
	operation string,
	fn func(context.Context) (T, error),
	classifier ErrorClassifier,
) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classifier)
	return out, err
}

func (e *Executor) retry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) (int, error) {
	wait := e.cfg.RetryInitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := e.attempt(ctx, fn)
		if err == nil {
			return attempt, nil
		}
		if attempt >= e.cfg.RetryMaxAttempts || !classifier(err).Retryable {
			return attempt, err
		}

		e.logger.Warn("dependency_retry",
			"dependency", e.dependency,
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if !sleep(ctx, wait) {
			return attempt, err
		}
		wait = e.cfg.nextBackoff(wait)
	}
}

func (e *Executor) attempt(ctx context.Context, fn func(context.Context) error) error {
	if e.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        e.dependency + "/" + operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: e.cfg.shouldTrip,
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("dependency_breaker_state",
				"dependency", e.dependency,
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if e.observer != nil {
				e.observer.ObserveBreakerState(e.dependency, operation, to.String())
			}
		},
	})
	e.breakers[operation] = cb
	return cb
}

func (e *Executor) observe(operation string, err error, attempts int) {
	if e.observer == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case IsCircuitOpen(err):
		outcome = "rejected"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	e.observer.ObserveDependencyCall(e.dependency, operation, outcome, attempts)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// IsCircuitOpen reports a call short-circuited by an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
