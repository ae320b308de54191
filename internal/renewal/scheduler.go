package renewal

import (
	"context"
	"fmt"
	"time"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

// Summary reports one scheduler pass. Processed counts every row the scan
// handed to the generator; Skipped covers rows that needed no charge.
type Summary struct {
	Processed int      `json:"processed"`
	Paid      int      `json:"paid"`
	PastDue   int      `json:"past_due"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// SchedulerParams wires the renewal scheduler.
type SchedulerParams struct {
	Repo      billing.Repository
	Generator *Generator
	Logger    *logger.Logger
	Billing   config.BillingConfig
}

// Scheduler drives a batch of due subscriptions through the generator.
// One bad row never aborts the batch; its error lands in the summary.
type Scheduler struct {
	repo      billing.Repository
	generator *Generator
	logg      *logger.Logger
	batch     int
}

// NewScheduler validates dependencies and returns the scheduler.
func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository is required")
	}
	if params.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	batch := params.Billing.RenewalBatch
	if batch <= 0 {
		batch = 200
	}
	return &Scheduler{
		repo:      params.Repo,
		generator: params.Generator,
		logg:      params.Logger,
		batch:     batch,
	}, nil
}

// Run performs one renewal pass as of the given instant. Re-running with
// the same asOf is safe: windows already invoiced are skipped.
func (s *Scheduler) Run(ctx context.Context, asOf time.Time) (*Summary, error) {
	due, err := s.repo.ListDueSubscriptions(ctx, asOf, s.batch)
	if err != nil {
		return nil, fmt.Errorf("scanning due subscriptions: %w", err)
	}

	summary := &Summary{}
	for i := range due {
		sub := &due[i]
		summary.Processed++

		outcome, err := s.generator.Process(ctx, sub, asOf)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sub.ID, err))
			logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
			s.logg.Error(logCtx, "renewal failed", err)
			continue
		}
		switch outcome {
		case OutcomePaid:
			summary.Paid++
		case OutcomePastDue:
			summary.PastDue++
		default:
			summary.Skipped++
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"processed": summary.Processed,
		"paid":      summary.Paid,
		"past_due":  summary.PastDue,
		"skipped":   summary.Skipped,
		"errors":    len(summary.Errors),
	})
	s.logg.Info(logCtx, "renewal pass complete")
	return summary, nil
}
