// Package janitor runs the periodic housekeeping of the authorization core:
// sweeping idle sessions and evicting stale rate limit buckets.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/ratelimit"
	"github.com/platinummonkey/sitegate/pkg/session"
)

// Default intervals
const (
	DefaultSessionSweepInterval = 5 * time.Minute
	DefaultEvictInterval        = 5 * time.Minute
)

// Config holds the job intervals
type Config struct {
	SessionSweepInterval time.Duration
	EvictInterval        time.Duration
}

// Janitor schedules housekeeping jobs. Sessions, Limiter and Metrics may be
// nil, in which case the corresponding job is skipped.
type Janitor struct {
	cron     *cron.Cron
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// New creates a janitor with its jobs scheduled but not started
func New(cfg Config, sessions *session.Manager, limiter *ratelimit.Limiter, metrics *observability.Metrics, logger *observability.Logger) (*Janitor, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.SessionSweepInterval <= 0 {
		cfg.SessionSweepInterval = DefaultSessionSweepInterval
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = DefaultEvictInterval
	}

	j := &Janitor{
		cron:     cron.New(),
		sessions: sessions,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger.WithField("component", "janitor"),
	}

	if sessions != nil {
		if _, err := j.cron.AddFunc(every(cfg.SessionSweepInterval), func() {
			j.SweepSessions(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("schedule session sweep: %w", err)
		}
	}
	if limiter != nil {
		if _, err := j.cron.AddFunc(every(cfg.EvictInterval), func() {
			j.EvictBuckets(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("schedule bucket eviction: %w", err)
		}
	}
	return j, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Jobs returns the number of scheduled jobs
func (j *Janitor) Jobs() int {
	return len(j.cron.Entries())
}

// SweepSessions removes expired sessions and refreshes the active gauge
func (j *Janitor) SweepSessions(ctx context.Context) {
	defer observability.RecoverPanic(j.logger, "session sweep")
	if j.sessions == nil {
		return
	}

	if _, err := j.sessions.Sweep(ctx); err != nil {
		j.logger.WithError(err).Error("Session sweep failed")
		return
	}

	if j.metrics != nil {
		active, err := j.sessions.Count(ctx)
		if err != nil {
			j.logger.WithError(err).Warn("Failed to count sessions")
			return
		}
		j.metrics.SessionsActive.Set(float64(active))
	}
}

// EvictBuckets drops rate limit buckets idle for longer than the limiter's
// eviction age
func (j *Janitor) EvictBuckets(ctx context.Context) {
	defer observability.RecoverPanic(j.logger, "rate limit eviction")
	if j.limiter == nil {
		return
	}

	removed, err := j.limiter.Evict(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Rate limit eviction failed")
		return
	}
	if removed > 0 {
		j.logger.WithField("removed", removed).Debug("Evicted rate limit buckets")
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	j.logger.WithField("jobs", j.Jobs()).Info("Janitor started")

	<-ctx.Done()

	stopped := j.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		return errors.New("janitor: timed out waiting for running jobs")
	}
	j.logger.Info("Janitor stopped")
	return nil
}
