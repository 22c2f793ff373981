package directory

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/doctor-branch-service/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
)

type Options struct {
	// Timeout bounds each attempt.
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// CacheTTL applies to positive Exists answers only. Zero disables caching.
	CacheTTL time.Duration

	BreakerFailures int
	BreakerTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return o
}

// Resilient wraps a Directory with per-attempt timeouts, exponential backoff,
// a circuit breaker and a cache of known branches. Every failure it returns
// matches apperrors.ErrIntegrationFailure.
type Resilient struct {
	next    Directory
	opts    Options
	breaker *circuitbreaker.CircuitBreaker
	cache   *gocache.Cache
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewResilient(next Directory, opts Options, log *logger.Logger, m *metrics.Metrics) *Resilient {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	r := &Resilient{
		next:    next,
		opts:    opts,
		logger:  log,
		metrics: m,
	}
	r.breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:                "branch-directory",
		MaxRequests:         1,
		Timeout:             opts.BreakerTimeout,
		ConsecutiveFailures: opts.BreakerFailures,
		OnStateChange: func(name, from, to string) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})
	if opts.CacheTTL > 0 {
		r.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return r
}

func (r *Resilient) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxInterval = r.opts.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxRetries)), ctx)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func (r *Resilient) call(ctx context.Context, op string, branchID uuid.UUID, fn func(context.Context) (bool, error)) (bool, error) {
	start := time.Now()
	var result bool
	attempt := func() error {
		err := r.breaker.Execute(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
			ok, err := fn(attemptCtx)
			if err != nil {
				return err
			}
			result = ok
			return nil
		})
		if err == nil {
			return nil
		}
		if circuitbreaker.IsOpen(err) || !retryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		r.logger.Debug("directory call failed, retrying", "op", op, "branch_id", branchID.String(), "error", err.Error())
		return err
	}

	err := backoff.Retry(attempt, r.policy(ctx))
	r.metrics.ObserveDirectory(op, err, time.Since(start))
	if err != nil {
		r.logger.Error(err, "directory call failed", "op", op, "branch_id", branchID.String())
		return false, apperrors.Wrap(apperrors.ErrIntegrationFailure, err)
	}
	return result, nil
}

func (r *Resilient) Exists(ctx context.Context, branchID uuid.UUID) (bool, error) {
	key := branchID.String()
	if r.cache != nil {
		if _, ok := r.cache.Get(key); ok {
			return true, nil
		}
	}
	ok, err := r.call(ctx, "exists", branchID, func(ctx context.Context) (bool, error) {
		return r.next.Exists(ctx, branchID)
	})
	if err != nil {
		return false, err
	}
	if ok && r.cache != nil {
		r.cache.SetDefault(key, true)
	}
	return ok, nil
}

func (r *Resilient) HasCapacity(ctx context.Context, branchID uuid.UUID) (bool, error) {
	return r.call(ctx, "capacity", branchID, func(ctx context.Context) (bool, error) {
		return r.next.HasCapacity(ctx, branchID)
	})
}
