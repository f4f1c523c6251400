package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned by a Guard when the collaborator timed out, was
// rate limited past the deadline, or its breaker is open.
var ErrUnavailable = eris.New("collaborator unavailable")

// GuardConfig configures a Guard.
type GuardConfig struct {
	Name    string
	Timeout time.Duration
	// RatePerSec limits call starts. Zero disables limiting.
	RatePerSec float64
	Burst      int
	Breaker    BreakerConfig
	Retry      RetryPolicy
}

// Guard wraps every call to one external collaborator with a per-call
// timeout, rate limiter, circuit breaker and transient retry.
type Guard struct {
	name    string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *Breaker
	retry   RetryPolicy
}

// NewGuard builds a Guard from cfg.
func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		breaker: NewBreaker(cfg.Breaker),
		retry:   cfg.Retry,
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = LogRetry(cfg.Name, "call")
	}
	return g
}

// Breaker exposes the guard's breaker for observability.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Call runs fn under the guard. Timeouts, limiter waits that exceed the
// deadline and an open breaker all surface as ErrUnavailable. Other errors
// are returned as-is.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	v, err := Retry(ctx, g.retry, func(ctx context.Context) (T, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, eris.Wrap(ErrUnavailable, err.Error())
			}
		}
		return ExecuteVal(ctx, g.breaker, fn)
	})
	if err == nil {
		return v, nil
	}

	if errors.Is(err, ErrUnavailable) {
		return zero, err
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil || IsTransient(err) {
		zap.L().Warn("external call unavailable",
			zap.String("collaborator", g.name),
			zap.String("op", op),
			zap.Error(err),
		)
		return zero, eris.Wrapf(ErrUnavailable, "%s: %s: %v", g.name, op, err)
	}
	return zero, err
}
