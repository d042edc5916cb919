package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/datakite/steward/internal/services"
	"github.com/datakite/steward/pkg/logger"
)

const (
	defaultRevokeSpec = "0 2 * * *"
	defaultTimeout    = 5 * time.Minute
)

// Sweeper periodically revokes access grants whose approved window has ended.
type Sweeper struct {
	access *services.AccessRequestService
	cron   *cron.Cron
	now    func() time.Time
	log    *zap.Logger

	revokeSchedule string
	timeout        time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRevokeSchedule overrides the cron specification for the revoke sweep.
func WithRevokeSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.revokeSchedule = spec
		}
	}
}

// WithTimeout bounds how long a single sweep may run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(access *services.AccessRequestService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		access:         access,
		now:            time.Now,
		revokeSchedule: defaultRevokeSpec,
		timeout:        defaultTimeout,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the revoke sweep with the scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.access == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.revokeSchedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("expired grant sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes a single sweep. Primarily used in tests and during graceful
// shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.access == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	revoked, err := s.access.RevokeExpired(ctx, s.now())
	if err != nil {
		return err
	}
	if revoked > 0 {
		s.log.Info("revoked expired grants", zap.Int("count", revoked))
	}
	return nil
}
