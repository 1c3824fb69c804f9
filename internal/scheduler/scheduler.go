// Package scheduler runs the daily overdue-invoice sweep across the
// configured scopes. Each scope is an independent job: its failures are
// logged and counted without stopping the others, and re-running
// against unchanged data is a no-op.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/classbridge/schoolops/internal/clock"
	obsmetrics "github.com/classbridge/schoolops/internal/observability/metrics"
	"github.com/classbridge/schoolops/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependencies")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billingdomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc billingdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.BillingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
	}, nil
}

// RunOnce sweeps every configured scope. The returned error is the
// first hard failure; conflict-level noise inside a sweep never
// surfaces here.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var firstErr error
	for _, scope := range s.cfg.Scopes {
		if err := s.runScope(parent, scope); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) runScope(parent context.Context, scope Scope) error {
	job := "overdue_sweep"
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = tenantctx.WithTenant(ctx, scope.TenantID)
	ctx = tenantctx.WithActor(ctx, tenantctx.SystemActor)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(job)

	report, err := s.billingSvc.SweepOverdue(ctx, scope.SchoolID, scope.AcademicYear)
	schedMetrics.ObserveJobDuration(job, s.clock.Now().Sub(start))

	log := s.log.With(
		zap.String("job", job),
		zap.String("tenant_id", scope.TenantID),
		zap.String("school_id", scope.SchoolID),
		zap.String("academic_year", scope.AcademicYear),
	)
	if err != nil {
		schedMetrics.IncJobError(job)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			log.Warn("sweep timed out", zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))
			return nil
		}
		log.Error("sweep failed", zap.Error(err))
		return fmt.Errorf("%s %s/%s: %w", job, scope.SchoolID, scope.AcademicYear, err)
	}

	log.Debug("sweep done",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
	)
	return nil
}

// RunForever loops RunOnce on the configured interval until ctx is
// cancelled.
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
