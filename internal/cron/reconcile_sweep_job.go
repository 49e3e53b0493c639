package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/reconciliation"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

type sweeper interface {
	SweepStalePending(ctx context.Context) (*reconciliation.SweepReport, error)
}

type ReconcileSweepJobParams struct {
	Logger   *logger.Logger
	Sweeper  sweeper
	Interval time.Duration
}

// NewReconcileSweepJob settles pending orders whose webhook never arrived and
// cancels the ones nobody paid for.
func NewReconcileSweepJob(params ReconcileSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("reconciliation service required")
	}
	return &reconcileSweepJob{
		logg:     params.Logger,
		sweeper:  params.Sweeper,
		interval: params.Interval,
	}, nil
}

type reconcileSweepJob struct {
	logg     *logger.Logger
	sweeper  sweeper
	interval time.Duration
}

func (j *reconcileSweepJob) Name() string { return "reconcile-sweep" }

func (j *reconcileSweepJob) Every() time.Duration { return j.interval }

func (j *reconcileSweepJob) Run(ctx context.Context) error {
	report, err := j.sweeper.SweepStalePending(ctx)
	if report != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"checked":    report.Checked,
			"settled":    report.Settled,
			"still_open": report.StillOpen,
			"cancelled":  report.Cancelled,
		})
		j.logg.Info(logCtx, "reconciliation sweep finished")
	}
	if err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	return nil
}
