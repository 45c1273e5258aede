package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/funderhq/payments/internal/billing"
	"github.com/funderhq/payments/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type reconciler interface {
	Reconcile(ctx context.Context) (billing.Stats, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billing.Service
	Config     Config `optional:"true"`
}

// Scheduler drives the daily billing reconciliation.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	billing reconciler
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.BillingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler"),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		billing: p.BillingSvc,
	}, nil
}

// RunOnce performs a single reconciliation run under the configured timeout.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	start := s.clock.Now()
	stats, err := s.billing.Reconcile(ctx)
	if err != nil {
		s.log.Warn("reconciliation run failed",
			zap.Int("billed", stats.Billed),
			zap.Int("skipped", stats.Skipped),
			zap.Error(err),
		)
		return err
	}

	s.log.Info("reconciliation run complete",
		zap.Int("billed", stats.Billed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", s.clock.Now().Sub(start)),
	)
	return nil
}

// RunForever reconciles on the configured interval until ctx is canceled.
// A failed run is logged; the loop keeps going.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
