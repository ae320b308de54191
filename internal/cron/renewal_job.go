package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/renewal"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type renewalRunner interface {
	Run(ctx context.Context, asOf time.Time) (*renewal.Summary, error)
}

type RenewalJobParams struct {
	Logger    *logger.Logger
	Scheduler renewalRunner
}

// NewRenewalJob wraps the renewal scheduler as a registry job. Each run
// bills every subscription whose period has closed by the time of the run.
func NewRenewalJob(params RenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("renewal scheduler required")
	}
	return &renewalJob{
		logg:      params.Logger,
		scheduler: params.Scheduler,
		now:       time.Now,
	}, nil
}

type renewalJob struct {
	logg      *logger.Logger
	scheduler renewalRunner
	now       func() time.Time
}

func (j *renewalJob) Name() string { return "subscription-renewal" }

func (j *renewalJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	summary, err := j.scheduler.Run(ctx, asOf)
	if err != nil {
		return fmt.Errorf("subscription renewal: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":     asOf,
		"processed": summary.Processed,
		"paid":      summary.Paid,
		"past_due":  summary.PastDue,
		"skipped":   summary.Skipped,
		"errors":    len(summary.Errors),
	})
	j.logg.Info(logCtx, "subscription renewal pass complete")
	if len(summary.Errors) > 0 {
		return fmt.Errorf("subscription renewal: %d of %d rows failed", len(summary.Errors), summary.Processed)
	}
	return nil
}
