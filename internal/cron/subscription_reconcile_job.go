package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

const defaultReconcileLimit = 250

type reconcileRepo interface {
	ListProviderEnrolledSubscriptions(ctx context.Context, limit int) ([]models.Subscription, error)
	AppendEvent(ctx context.Context, event *models.SubscriptionEvent) error
}

type providerStatusClient interface {
	RecurringBillingStatus(ctx context.Context, providerSubscriptionID string) (enums.SubscriptionStatus, error)
}

type SubscriptionReconcileJobParams struct {
	Logger  *logger.Logger
	Repo    reconcileRepo
	Gateway providerStatusClient
	Limit   int
	Now     func() time.Time
}

// NewSubscriptionReconcileJob builds the provider drift check. It compares
// each provider-enrolled subscription against the provider's view and flags
// rows the two sides disagree on.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionReconcileJob{
		logg:    params.Logger,
		repo:    params.Repo,
		gateway: params.Gateway,
		limit:   limit,
		now:     now,
	}, nil
}

type subscriptionReconcileJob struct {
	logg    *logger.Logger
	repo    reconcileRepo
	gateway providerStatusClient
	limit   int
	now     func() time.Time
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithField(ctx, "job", j.Name())
	subs, err := j.repo.ListProviderEnrolledSubscriptions(logCtx, j.limit)
	if err != nil {
		return fmt.Errorf("listing provider enrolled subscriptions: %w", err)
	}

	var errs error
	flagged := 0
	for i := range subs {
		drifted, err := j.reconcile(logCtx, &subs[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if drifted {
			flagged++
		}
	}

	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"scanned": len(subs),
		"flagged": flagged,
	})
	j.logg.Info(reportCtx, "subscription reconcile pass complete")
	return errs
}

// reconcile flags one row when the provider reports the subscription over
// while we still bill it. The flag is an append-only event for operators;
// the local state machine stays authoritative.
func (j *subscriptionReconcileJob) reconcile(ctx context.Context, sub *models.Subscription) (bool, error) {
	if sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID == "" {
		return false, nil
	}
	logCtx := j.logg.WithSubscriptionID(ctx, sub.ID.String())

	providerStatus, err := j.gateway.RecurringBillingStatus(logCtx, *sub.ProviderSubscriptionID)
	if err != nil {
		return false, fmt.Errorf("%s: fetching provider status: %w", sub.ID, err)
	}
	if providerStatus != enums.SubscriptionStatusCanceled || sub.Status == enums.SubscriptionStatusCanceled {
		return false, nil
	}

	if err := j.repo.AppendEvent(logCtx, &models.SubscriptionEvent{
		SubscriptionID: sub.ID,
		Event:          enums.SubscriptionEventReconciliationNeeded,
		Metadata: billing.EventMetadata(map[string]any{
			"operation":       "reconcile",
			"local_status":    sub.Status,
			"provider_status": providerStatus,
			"checked_at":      j.now().UTC(),
		}),
	}); err != nil {
		return false, fmt.Errorf("%s: recording reconciliation flag: %w", sub.ID, err)
	}
	j.logg.Warn(logCtx, "provider reports subscription canceled while local row is billable")
	return true, nil
}
