package services

import (
	"context"
	"time"

	"bizledger/internal/apperrors"
)

const (
	DefaultSummaryTTL     = 5 * time.Minute
	DefaultIdempotencyTTL = 24 * time.Hour
)

// Options tune the ledger services. Zero durations take the defaults above.
//
// ConflictRetries is off by default: a store Conflict is returned to the caller,
// which decides whether to re-read and retry. A positive value makes the
// service rerun the operation that many extra times first.
type Options struct {
	SummaryTTL      time.Duration
	IdempotencyTTL  time.Duration
	ConflictRetries int
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SummaryTTL <= 0 {
		o.SummaryTTL = DefaultSummaryTTL
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if o.ConflictRetries < 0 {
		o.ConflictRetries = 0
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// retryOnConflict reruns fn while it fails with a retryable conflict. Each run
// re-reads the invoice, so a retry sees the winner's write.
func (o Options) retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= o.ConflictRetries; attempt++ {
		if err = fn(); err == nil || !apperrors.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
