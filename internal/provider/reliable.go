package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliableOptions tune the reliability wrapper. Zero values fall back to
// the defaults below.
type ReliableOptions struct {
	RatePerSecond float64
	Burst         int
	RetryAttempts uint
	BreakerTrips  uint32
	CallTimeout   time.Duration
}

// Reliable wraps a Provider with a rate limiter, a retry loop and a circuit
// breaker, in that order. Limiting happens before the breaker so that a
// saturated client does not count as upstream failures.
type Reliable struct {
	next    Provider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    ReliableOptions
	log     *zap.Logger
}

func NewReliable(next Provider, opts ReliableOptions, log *zap.Logger) *Reliable {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 100
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.BreakerTrips == 0 {
		opts.BreakerTrips = 5
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > opts.BreakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Reliable{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		log:     log,
	}
}

func (w *Reliable) Name() string { return w.next.Name() }

func (w *Reliable) Complete(ctx context.Context, req Request) (Response, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalResp Response

	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.opts.RetryAttempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Honor the upstream's Retry-After over exponential backoff.
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
			retry.OnRetry(func(n uint, err error) {
				w.log.Warn("provider call retry",
					zap.String("provider", w.next.Name()),
					zap.Uint("attempt", n+1),
					zap.Error(err))
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.opts.CallTimeout)
			defer cancel()

			var callErr error
			finalResp, callErr = w.next.Complete(tCtx, req)
			return callErr
		})

		return finalResp, retryErr
	})

	if err != nil {
		return Response{}, err
	}

	return cbResult.(Response), nil
}
