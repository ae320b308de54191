package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/pkg/config"
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

// Emitter queues outbox events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PlanCatalog resolves catalog plans for snapshotting.
type PlanCatalog interface {
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// UserStore covers the user operations the lifecycle needs.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// CreateInput starts a subscription for a user.
type CreateInput struct {
	UserID       uuid.UUID
	PlanID       uuid.UUID
	CardSourceID *string
	TrialDays    int
}

// CancelInput ends a subscription, now or at the period boundary.
type CancelInput struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	AtPeriodEnd    bool
	Reason         string
}

// SwitchInput moves a subscriber onto a different plan.
type SwitchInput struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	NewPlanID      uuid.UUID
}

// Service drives the subscription lifecycle: signup, cancellation, plan
// switches, and pause/resume.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Subscription, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error)
	SwitchPlan(ctx context.Context, input SwitchInput) (*models.Subscription, error)
	Pause(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error)
	Resume(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error)
	ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// ServiceParams wires the lifecycle service. Gateway may be nil, in which
// case subscriptions run without provider enrollment.
type ServiceParams struct {
	DB      TxRunner
	Repo    billing.Repository
	Usage   usage.Repository
	Plans   PlanCatalog
	Users   UserStore
	Gateway PaymentGateway
	Outbox  Emitter
	Logger  *logger.Logger
	Billing config.BillingConfig
}

type service struct {
	db      TxRunner
	repo    billing.Repository
	usage   usage.Repository
	plans   PlanCatalog
	users   UserStore
	gateway PaymentGateway
	outbox  Emitter
	logg    *logger.Logger
	cfg     config.BillingConfig
	now     func() time.Time
}

// NewService validates dependencies and returns the lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository is required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage repository is required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan repository is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository is required")
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
		usage:   params.Usage,
		plans:   params.Plans,
		users:   params.Users,
		gateway: params.Gateway,
		outbox:  params.Outbox,
		logg:    params.Logger,
		cfg:     params.Billing,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, error) {
	user, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading user")
	}
	if user == nil || !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	existing, err := s.repo.FindActiveSubscriptionForUser(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "user already has an active subscription")
	}

	plan, err := s.plans.FindPlanByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is no longer offered")
	}
	if input.TrialDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial days cannot be negative")
	}

	now := s.now()
	sub := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             user.ID,
		PlanID:             plan.ID,
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   nextPeriodEnd(now, plan.Interval),
	}
	snapshotEconomics(sub, plan, s.cfg.Currency)
	renewsAt := sub.CurrentPeriodEnd
	sub.RenewsAt = &renewsAt
	if input.TrialDays > 0 {
		sub.Status = enums.SubscriptionStatusTrialing
		trialEnd := now.AddDate(0, 0, input.TrialDays)
		sub.TrialEndsAt = &trialEnd
	}

	if err := s.enrollWithProvider(ctx, user, plan, sub, input.CardSourceID); err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		if _, err := s.usage.WithTx(tx).GetOrCreate(ctx, sub.ID, enums.MetricVerifications, sub.CurrentPeriodStart, sub.CurrentPeriodEnd); err != nil {
			return err
		}
		actorID := user.ID
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			ActorUserID:    &actorID,
			Event:          enums.SubscriptionEventCreated,
			NewValues: billing.EventMetadata(map[string]any{
				"plan_id":             sub.PlanID,
				"status":              sub.Status,
				"price_monthly_cents": sub.PriceMonthlyCents,
				"period_start":        sub.CurrentPeriodStart,
				"period_end":          sub.CurrentPeriodEnd,
			}),
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCreated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID, Role: string(user.Role)},
			Version:       1,
			OccurredAt:    now,
			Data: payloads.SubscriptionCreatedEvent{
				SubscriptionID: sub.ID,
				UserID:         user.ID,
				PlanID:         plan.ID,
				Status:         sub.Status,
				PeriodStart:    sub.CurrentPeriodStart,
				PeriodEnd:      sub.CurrentPeriodEnd,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating subscription")
	}

	logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
	s.logg.Info(logCtx, "subscription created")
	return sub, nil
}

// enrollWithProvider vaults the card and records provider identities before
// the local row is written. Enrollment failures abort signup so we never
// hold an active subscription we cannot charge.
func (s *service) enrollWithProvider(ctx context.Context, user *models.User, plan *models.Plan, sub *models.Subscription, cardSourceID *string) error {
	if cardSourceID == nil || *cardSourceID == "" || s.gateway == nil {
		return nil
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, user)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enrolling customer with payment provider")
	}
	cardholder := fmt.Sprintf("%s %s", user.FirstName, user.LastName)
	cardID, err := s.gateway.VaultCard(ctx, customerID, *cardSourceID, cardholder)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "vaulting payment card")
	}

	user.ProviderCustomerID = &customerID
	user.ProviderCardID = &cardID
	if err := s.users.Update(ctx, user); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving provider identities")
	}

	provider := ProviderSquare
	sub.Provider = &provider
	sub.ProviderCustomerID = &customerID
	s.startRecurringBilling(ctx, user, plan, sub)
	return nil
}

// startRecurringBilling mirrors the local subscription into the provider's
// recurring engine. Best effort: our scheduler owns collection, so a
// provider failure here only loses the mirror, never the subscription. The
// reconcile job picks up any drift later.
func (s *service) startRecurringBilling(ctx context.Context, user *models.User, plan *models.Plan, sub *models.Subscription) {
	if s.gateway == nil || plan == nil || plan.ProviderVariationID == nil || *plan.ProviderVariationID == "" {
		return
	}
	if user.ProviderCustomerID == nil || user.ProviderCardID == nil {
		return
	}

	id, err := s.gateway.CreateRecurringBilling(ctx, RecurringBillingParams{
		CustomerID:      *user.ProviderCustomerID,
		CardID:          *user.ProviderCardID,
		PlanVariationID: *plan.ProviderVariationID,
		PlanName:        plan.Name,
		AmountCents:     sub.PriceMonthlyCents,
		Currency:        sub.Currency,
		Interval:        plan.Interval,
		ReferenceID:     sub.ID.String(),
	})
	if err != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
		s.logg.Warn(logCtx, "provider recurring billing enrollment failed")
		return
	}

	provider := ProviderSquare
	sub.Provider = &provider
	sub.ProviderCustomerID = user.ProviderCustomerID
	sub.ProviderSubscriptionID = &id
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, input.UserID, input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusCanceled {
		return sub, nil
	}

	now := s.now()
	if input.AtPeriodEnd {
		if sub.CancelAtPeriodEnd {
			return sub, nil
		}
		sub.CancelAtPeriodEnd = true
		sub.RenewsAt = nil
		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if err := repo.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			actorID := input.UserID
			return repo.AppendEvent(ctx, &models.SubscriptionEvent{
				SubscriptionID: sub.ID,
				ActorUserID:    &actorID,
				Event:          enums.SubscriptionEventCanceled,
				Metadata: billing.EventMetadata(map[string]any{
					"at_period_end": true,
					"effective_at":  sub.CurrentPeriodEnd,
					"reason":        input.Reason,
				}),
			})
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scheduling cancellation")
		}
		return sub, nil
	}

	gatewayErr := s.cancelWithProvider(ctx, sub)

	sub.Status = enums.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	sub.RenewsAt = nil
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		actorID := input.UserID
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			ActorUserID:    &actorID,
			Event:          enums.SubscriptionEventCanceled,
			Metadata:       billing.EventMetadata(map[string]any{"reason": input.Reason}),
		}); err != nil {
			return err
		}
		if gatewayErr != nil {
			if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
				SubscriptionID: sub.ID,
				Event:          enums.SubscriptionEventReconciliationNeeded,
				Metadata:       billing.EventMetadata(map[string]any{"error": gatewayErr.Error(), "operation": "cancel"}),
			}); err != nil {
				return err
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				CanceledAt:     now,
				Reason:         input.Reason,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "canceling subscription")
	}

	logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
	s.logg.Info(logCtx, "subscription canceled")
	return sub, nil
}

// cancelWithProvider is best effort: a provider outage must never block a
// local cancellation. The caller records reconciliation_needed on failure.
func (s *service) cancelWithProvider(ctx context.Context, sub *models.Subscription) error {
	if s.gateway == nil || sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID == "" {
		return nil
	}
	if err := s.gateway.CancelSubscription(ctx, *sub.ProviderSubscriptionID); err != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
		s.logg.Warn(logCtx, "provider cancel failed, flagging for reconciliation")
		return err
	}
	return nil
}

func (s *service) SwitchPlan(ctx context.Context, input SwitchInput) (*models.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, input.UserID, input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.Status.IsBillable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only active subscriptions can switch plans")
	}
	if sub.PlanID == input.NewPlanID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is already on that plan")
	}

	plan, err := s.plans.FindPlanByID(ctx, input.NewPlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is no longer offered")
	}

	gatewayErr := s.cancelWithProvider(ctx, sub)

	now := s.now()
	replacement := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             sub.UserID,
		PlanID:             plan.ID,
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   nextPeriodEnd(now, plan.Interval),
		Provider:           sub.Provider,
		ProviderCustomerID: sub.ProviderCustomerID,
	}
	snapshotEconomics(replacement, plan, s.cfg.Currency)
	renewsAt := replacement.CurrentPeriodEnd
	replacement.RenewsAt = &renewsAt
	if user, userErr := s.users.FindByID(ctx, input.UserID); userErr == nil && user != nil {
		s.startRecurringBilling(ctx, user, plan, replacement)
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		sub.Status = enums.SubscriptionStatusCanceled
		sub.CanceledAt = &now
		sub.RenewsAt = nil
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		actorID := input.UserID
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			ActorUserID:    &actorID,
			Event:          enums.SubscriptionEventCanceled,
			Metadata:       billing.EventMetadata(map[string]any{"reason": "plan_switch", "replacement_id": replacement.ID}),
		}); err != nil {
			return err
		}
		if gatewayErr != nil {
			if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
				SubscriptionID: sub.ID,
				Event:          enums.SubscriptionEventReconciliationNeeded,
				Metadata:       billing.EventMetadata(map[string]any{"error": gatewayErr.Error(), "operation": "switch_plan"}),
			}); err != nil {
				return err
			}
		}

		if err := repo.CreateSubscription(ctx, replacement); err != nil {
			return err
		}
		if _, err := s.usage.WithTx(tx).GetOrCreate(ctx, replacement.ID, enums.MetricVerifications, replacement.CurrentPeriodStart, replacement.CurrentPeriodEnd); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: replacement.ID,
			ActorUserID:    &actorID,
			Event:          enums.SubscriptionEventCreated,
			NewValues: billing.EventMetadata(map[string]any{
				"plan_id":       replacement.PlanID,
				"status":        replacement.Status,
				"switched_from": sub.ID,
			}),
		}); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				CanceledAt:     now,
				Reason:         "plan_switch",
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCreated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   replacement.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.SubscriptionCreatedEvent{
				SubscriptionID: replacement.ID,
				UserID:         replacement.UserID,
				PlanID:         plan.ID,
				Status:         replacement.Status,
				PeriodStart:    replacement.CurrentPeriodStart,
				PeriodEnd:      replacement.CurrentPeriodEnd,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "switching plan")
	}

	logCtx := s.logg.WithSubscriptionID(ctx, replacement.ID.String())
	s.logg.Info(logCtx, "subscription switched plans")
	return replacement, nil
}

func (s *service) Pause(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusPaused {
		return sub, nil
	}
	if sub.Status != enums.SubscriptionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only active subscriptions can be paused")
	}

	sub.Status = enums.SubscriptionStatusPaused
	err = s.transitionWithEvent(ctx, sub, userID, enums.SubscriptionEventPaused, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pausing subscription")
	}
	return sub, nil
}

func (s *service) Resume(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusActive {
		return sub, nil
	}
	if sub.Status != enums.SubscriptionStatusPaused {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only paused subscriptions can be resumed")
	}

	sub.Status = enums.SubscriptionStatusActive
	err = s.transitionWithEvent(ctx, sub, userID, enums.SubscriptionEventResumed, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resuming subscription")
	}
	return sub, nil
}

func (s *service) ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindActiveSubscriptionForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	return sub, nil
}

func (s *service) ownedSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil || sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) transitionWithEvent(ctx context.Context, sub *models.Subscription, actorID uuid.UUID, event enums.SubscriptionEventType, metadata map[string]any) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		return repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			ActorUserID:    &actorID,
			Event:          event,
			Metadata:       billing.EventMetadata(metadata),
		})
	})
}
