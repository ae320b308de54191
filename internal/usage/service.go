package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/outbox"
	"github.com/covercheck/covercheck-backend/pkg/outbox/payloads"
)

// TxRunner abstracts the database transaction entrypoint.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PlanLookup resolves catalog plans for quota fallbacks.
type PlanLookup interface {
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// Emitter queues outbox events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Summary reports one metric's position within the current window.
type Summary struct {
	Metric      enums.UsageMetric `json:"metric"`
	Used        int64             `json:"used"`
	Included    *int64            `json:"included,omitempty"`
	Remaining   int64             `json:"remaining"`
	Unlimited   bool              `json:"unlimited"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
}

// Service is the usage ledger: admission checks before metered work and
// the post-work increment.
type Service interface {
	CheckAdmission(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric) error
	RecordUsage(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric, actorUserID *uuid.UUID) (*models.SubscriptionUsage, error)
	CurrentSummary(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric) (*Summary, error)
}

// ServiceParams wires the usage service.
type ServiceParams struct {
	DB          TxRunner
	Repo        Repository
	BillingRepo billing.Repository
	Plans       PlanLookup
	Outbox      Emitter
	Logger      *logger.Logger
}

type service struct {
	db      TxRunner
	repo    Repository
	billing billing.Repository
	plans   PlanLookup
	outbox  Emitter
	logg    *logger.Logger
	now     func() time.Time
}

// NewService validates dependencies and returns the usage service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repository is required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository is required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan lookup is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		billing: params.BillingRepo,
		plans:   params.Plans,
		outbox:  params.Outbox,
		logg:    params.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) quotaFor(ctx context.Context, sub *models.Subscription) (Quota, error) {
	if sub.IncludedVerifications != nil {
		return ResolveQuota(sub, nil), nil
	}
	plan, err := s.plans.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return Quota{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan for quota")
	}
	return ResolveQuota(sub, plan), nil
}

// CheckAdmission rejects the request when the current window's counter has
// reached the included allowance. It does not reserve a unit; the caller
// increments after the metered work succeeds.
func (s *service) CheckAdmission(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric) error {
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	quota, err := s.quotaFor(ctx, sub)
	if err != nil {
		return err
	}
	if quota.Unlimited {
		return nil
	}

	row, err := s.repo.GetOrCreate(ctx, sub.ID, metric, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading usage counter")
	}
	if quota.Exhausted(row.Used) {
		return pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("verification quota of %d exhausted for the current period", quota.Included))
	}
	return nil
}

// RecordUsage adds one unit to the current window inside a transaction,
// appending the audit event and queueing the outbox row atomically.
func (s *service) RecordUsage(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric, actorUserID *uuid.UUID) (*models.SubscriptionUsage, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}

	var row *models.SubscriptionUsage
	now := s.now()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		row, err = repo.GetOrCreate(ctx, sub.ID, metric, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if err != nil {
			return err
		}
		oldUsed := row.Used
		if err := repo.Increment(ctx, row, now); err != nil {
			return err
		}

		if err := s.billing.WithTx(tx).AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			ActorUserID:    actorUserID,
			Event:          enums.SubscriptionEventUsageIncremented,
			Metadata:       billing.EventMetadata(map[string]any{"metric": metric}),
			OldValues:      billing.EventMetadata(map[string]any{"used": oldUsed}),
			NewValues:      billing.EventMetadata(map[string]any{"used": row.Used}),
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventUsageRecorded,
			AggregateType: enums.AggregateUsage,
			AggregateID:   row.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.UsageRecordedEvent{
				SubscriptionID: sub.ID,
				Metric:         metric,
				Used:           row.Used,
				PeriodStart:    row.PeriodStart,
				PeriodEnd:      row.PeriodEnd,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording usage")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID.String(),
		"metric":          metric,
		"used":            row.Used,
	})
	s.logg.Info(logCtx, "usage recorded")
	return row, nil
}

func (s *service) CurrentSummary(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric) (*Summary, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	quota, err := s.quotaFor(ctx, sub)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.GetOrCreate(ctx, sub.ID, metric, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading usage counter")
	}

	summary := &Summary{
		Metric:      metric,
		Used:        row.Used,
		Remaining:   quota.Remaining(row.Used),
		Unlimited:   quota.Unlimited,
		PeriodStart: row.PeriodStart,
		PeriodEnd:   row.PeriodEnd,
	}
	if !quota.Unlimited {
		included := quota.Included
		summary.Included = &included
	}
	return summary, nil
}
