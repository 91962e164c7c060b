package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/observability"
)

// Decision describes the principal bucket after an admission
type Decision struct {
	Tier      string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window resets, at least one
func (d *Decision) RetryAfter(now time.Time) int {
	return retryAfterSeconds(d.ResetAt, now)
}

// Limiter admits requests against per-principal and per-origin fixed windows
type Limiter struct {
	store  Store
	cfg    Config
	logger *observability.Logger
	now    func() time.Time
	rand   func() float64
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithRand overrides the source used for probabilistic eviction
func WithRand(r func() float64) Option {
	return func(l *Limiter) {
		l.rand = r
	}
}

// New creates a limiter
func New(store Store, cfg Config, logger *observability.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.IPMultiplier < 1 {
		cfg.IPMultiplier = 1
	}

	l := &Limiter{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.Disabled {
		logger.Warn("Rate limiting is DISABLED; every request will be admitted")
	}
	return l
}

// Tiers returns the configured role tiers
func (l *Limiter) Tiers() Tiers {
	return l.cfg.Tiers
}

// Disabled reports whether enforcement is bypassed
func (l *Limiter) Disabled() bool {
	return l.cfg.Disabled
}

// IPLimit returns the per-origin limit derived from a principal limit
func (l *Limiter) IPLimit(limit int) int {
	return int(math.Ceil(float64(limit) * l.cfg.IPMultiplier))
}

// Admit counts one request for principalID and originIP. Both buckets are
// incremented; if either is over its limit the call fails with a rate limit
// error carrying the seconds until that bucket resets.
func (l *Limiter) Admit(ctx context.Context, principalID, originIP string, tier Tier) (*Decision, error) {
	now := l.now()
	if tier.Limit <= 0 {
		tier = l.cfg.Tiers.MostRestrictive()
	}

	if l.cfg.Disabled {
		return &Decision{
			Tier:      tier.Name,
			Limit:     tier.Limit,
			Remaining: tier.Limit,
			ResetAt:   now.Add(l.cfg.Window),
		}, nil
	}

	l.maybeSweep(ctx, now)

	decision := &Decision{Tier: tier.Name, Limit: tier.Limit}
	retryAfter := 0

	count, resetAt, err := l.store.Incr(ctx, "principal:"+principalID, l.cfg.Window, now)
	if err != nil {
		return l.storeFailure(decision, now, err)
	}
	decision.ResetAt = resetAt
	decision.Remaining = max(0, tier.Limit-count)
	if count > tier.Limit {
		retryAfter = retryAfterSeconds(resetAt, now)
	}

	if originIP != "" {
		ipCount, ipResetAt, err := l.store.Incr(ctx, "ip:"+originIP, l.cfg.Window, now)
		if err != nil {
			return l.storeFailure(decision, now, err)
		}
		if ipCount > l.IPLimit(tier.Limit) {
			retryAfter = max(retryAfter, retryAfterSeconds(ipResetAt, now))
		}
	}

	if retryAfter > 0 {
		l.logger.WithFields(map[string]interface{}{
			"principal_id": principalID,
			"origin_ip":    originIP,
			"tier":         tier.Name,
			"retry_after":  retryAfter,
		}).Debug("Rate limit exceeded")
		return decision, apperrors.RateLimited(retryAfter)
	}
	return decision, nil
}

func (l *Limiter) storeFailure(decision *Decision, now time.Time, err error) (*Decision, error) {
	if l.cfg.FailOpen {
		l.logger.WithError(err).Warn("Rate limit store unavailable, admitting request")
		decision.Remaining = decision.Limit
		decision.ResetAt = now.Add(l.cfg.Window)
		return decision, nil
	}
	return nil, apperrors.Internal("rate limit store", err)
}

func (l *Limiter) maybeSweep(ctx context.Context, now time.Time) {
	if l.cfg.SweepProbability <= 0 || l.rand() >= l.cfg.SweepProbability {
		return
	}
	if _, err := l.evict(ctx, now); err != nil {
		l.logger.WithError(err).Warn("Rate limit bucket sweep failed")
	}
}

// Evict removes buckets whose window reset more than EvictAfter ago
func (l *Limiter) Evict(ctx context.Context) (int, error) {
	return l.evict(ctx, l.now())
}

func (l *Limiter) evict(ctx context.Context, now time.Time) (int, error) {
	removed, err := l.store.Evict(ctx, now.Add(-l.cfg.EvictAfter))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		l.logger.WithField("removed", removed).Debug("Evicted stale rate limit buckets")
	}
	return removed, nil
}

func retryAfterSeconds(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
