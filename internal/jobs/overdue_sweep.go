package jobs

import (
	"context"
	"time"

	"bizledger/internal/metrics"
	"bizledger/internal/models"

	"go.uber.org/zap"
)

const OverdueSweepJob = "overdue-sweep"

// SummaryRefresher recomputes the dashboard summary.
type SummaryRefresher interface {
	RefreshSummary(ctx context.Context) (*models.InvoiceSummary, error)
}

// OverdueSweep periodically recomputes the invoice summary so the cached
// dashboard and the overdue/outstanding gauges follow the clock. Overdue is
// derived at read time, so no invoice rows change.
type OverdueSweep struct {
	refresher SummaryRefresher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	timeout   time.Duration
}

func NewOverdueSweep(refresher SummaryRefresher, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *OverdueSweep {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &OverdueSweep{
		refresher: refresher,
		metrics:   m,
		logger:    logger.Named(OverdueSweepJob),
		timeout:   timeout,
	}
}

// Run performs one sweep.
func (j *OverdueSweep) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	summary, err := j.refresher.RefreshSummary(ctx)
	j.metrics.JobRun(OverdueSweepJob, err)
	if err != nil {
		j.logger.Error("overdue sweep failed", zap.Error(err))
		return err
	}

	j.logger.Info("overdue sweep completed",
		zap.Int("overdue", summary.StatusCounts[models.InvoiceStatusOverdue]),
		zap.Stringer("outstanding", summary.Outstanding),
		zap.Duration("took", time.Since(start)))
	return nil
}
