package reliability

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/circuitbreaker"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/retry"
)

// SignalingWrapper guards a SignalingTransport with retry logic and a circuit breaker.
// Subscribe is not retried here; callers poll with their own backoff.
type SignalingWrapper struct {
	transport ports.SignalingTransport
	logger    *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

var _ ports.SignalingTransport = (*SignalingWrapper)(nil)

// NewSignalingWrapper creates a new wrapper with retry and circuit breaker
func NewSignalingWrapper(
	transport ports.SignalingTransport,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SignalingWrapper {
	if cbConfig.IsFailure == nil {
		cbConfig.IsFailure = IsTransportFailure
	}
	if retryConfig.ShouldRetry == nil {
		retryConfig.ShouldRetry = func(err error) bool {
			return IsTransportFailure(err) && !errors.Is(err, circuitbreaker.ErrOpen)
		}
	}

	wrapper := &SignalingWrapper{
		transport:      transport,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("signaling circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// IsTransportFailure reports whether err indicates a broken transport rather
// than a missing signal, a bad request or a cancelled caller.
func IsTransportFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrSignalNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeNotFound:
		return false
	}
	return true
}

// Publish stores a signal with retry logic
func (w *SignalingWrapper) Publish(ctx context.Context, key domain.SignalKey, payload domain.SignalPayload) error {
	if !w.retryConfig.Enabled {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.transport.Publish(ctx, key, payload)
		})
	}

	return unwrapRetry(retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.transport.Publish(ctx, key, payload)
		})
	}))
}

// Subscribe waits for a signal behind the circuit breaker
func (w *SignalingWrapper) Subscribe(ctx context.Context, key domain.SignalKey, timeout time.Duration) (domain.SignalPayload, error) {
	return circuitbreaker.ExecuteWithResult(ctx, w.circuitBreaker, func() (domain.SignalPayload, error) {
		return w.transport.Subscribe(ctx, key, timeout)
	})
}

// Delete removes a signal with retry logic
func (w *SignalingWrapper) Delete(ctx context.Context, key domain.SignalKey) error {
	if !w.retryConfig.Enabled {
		return w.transport.Delete(ctx, key)
	}

	return unwrapRetry(retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.transport.Delete(ctx, key)
		})
	}))
}

func (w *SignalingWrapper) Close() error {
	return w.transport.Close()
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *SignalingWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

// unwrapRetry strips the retry policy marker so callers see the transport error.
func unwrapRetry(err error) error {
	multi, ok := err.(interface{ Unwrap() []error })
	if !ok || !errors.Is(err, retry.ErrNotRetryable) {
		return err
	}
	for _, e := range multi.Unwrap() {
		if e != retry.ErrNotRetryable {
			return e
		}
	}
	return err
}
