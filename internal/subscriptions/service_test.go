package subscriptions

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/outbox"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubBillingRepo struct {
	billing.Repository
	subs    map[uuid.UUID]*models.Subscription
	active  map[uuid.UUID]*models.Subscription
	events  []*models.SubscriptionEvent
	updates int
}

func newStubBillingRepo() *stubBillingRepo {
	return &stubBillingRepo{
		subs:   map[uuid.UUID]*models.Subscription{},
		active: map[uuid.UUID]*models.Subscription{},
	}
}

func (s *stubBillingRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubBillingRepo) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.subs[sub.ID] = sub
	if sub.Status.IsBillable() {
		s.active[sub.UserID] = sub
	}
	return nil
}

func (s *stubBillingRepo) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.subs[sub.ID] = sub
	s.updates++
	if !sub.Status.IsBillable() {
		if current, ok := s.active[sub.UserID]; ok && current.ID == sub.ID {
			delete(s.active, sub.UserID)
		}
	}
	return nil
}

func (s *stubBillingRepo) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.subs[id], nil
}

func (s *stubBillingRepo) FindActiveSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.active[userID], nil
}

func (s *stubBillingRepo) AppendEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubBillingRepo) eventsOf(kind enums.SubscriptionEventType) []*models.SubscriptionEvent {
	var out []*models.SubscriptionEvent
	for _, ev := range s.events {
		if ev.Event == kind {
			out = append(out, ev)
		}
	}
	return out
}

type stubUsageRepo struct {
	usage.Repository
	rows []*models.SubscriptionUsage
}

func (s *stubUsageRepo) WithTx(tx *gorm.DB) usage.Repository { return s }

func (s *stubUsageRepo) GetOrCreate(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error) {
	row := &models.SubscriptionUsage{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Metric:         metric,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	s.rows = append(s.rows, row)
	return row, nil
}

type stubPlanCatalog struct {
	plans map[uuid.UUID]*models.Plan
}

func (s *stubPlanCatalog) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plans[id], nil
}

type stubUserRepo struct {
	users map[uuid.UUID]*models.User
}

func (s *stubUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users[id], nil
}

func (s *stubUserRepo) Update(ctx context.Context, user *models.User) error {
	s.users[user.ID] = user
	return nil
}

type stubGateway struct {
	cancelErr      error
	cancelCalls    []string
	customerID     string
	cardID         string
	enrollErr      error
	enrollCalls    []RecurringBillingParams
	providerSubID  string
	providerStatus enums.SubscriptionStatus
}

func (s *stubGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if s.customerID == "" {
		s.customerID = "cust-" + uuid.NewString()[:8]
	}
	return s.customerID, nil
}

func (s *stubGateway) VaultCard(ctx context.Context, customerID, sourceID, cardholderName string) (string, error) {
	if s.cardID == "" {
		s.cardID = "card-" + uuid.NewString()[:8]
	}
	return s.cardID, nil
}

func (s *stubGateway) CreateRecurringBilling(ctx context.Context, params RecurringBillingParams) (string, error) {
	s.enrollCalls = append(s.enrollCalls, params)
	if s.enrollErr != nil {
		return "", s.enrollErr
	}
	if s.providerSubID == "" {
		s.providerSubID = "sqsub-" + uuid.NewString()[:8]
	}
	return s.providerSubID, nil
}

func (s *stubGateway) RecurringBillingStatus(ctx context.Context, providerSubscriptionID string) (enums.SubscriptionStatus, error) {
	if s.providerStatus == "" {
		return enums.SubscriptionStatusActive, nil
	}
	return s.providerStatus, nil
}

func (s *stubGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	s.cancelCalls = append(s.cancelCalls, providerSubscriptionID)
	return s.cancelErr
}

func (s *stubGateway) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	return &ChargeResult{Succeeded: true, Status: "COMPLETED"}, nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type lifecycleFixture struct {
	svc     Service
	repo    *stubBillingRepo
	usage   *stubUsageRepo
	users   *stubUserRepo
	catalog *stubPlanCatalog
	gateway *stubGateway
	emitter *stubEmitter
	user    *models.User
	plan    *models.Plan
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	price := decimal.NewFromFloat(29.99)
	included := int64(100)
	overage := int64(25)
	variation := "sq-var-pro"
	plan := &models.Plan{
		ID:                       uuid.New(),
		Name:                     "Pro",
		Slug:                     "pro",
		Price:                    &price,
		Interval:                 enums.BillingIntervalMonthly,
		VerificationsIncluded:    &included,
		OveragePricePerUnitCents: &overage,
		ProviderVariationID:      &variation,
		Visibility:               enums.PlanVisibilityPublic,
		IsActive:                 true,
	}
	user := &models.User{
		ID:        uuid.New(),
		Email:     "subscriber@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Role:      enums.UserRoleCustomer,
		IsActive:  true,
	}

	repo := newStubBillingRepo()
	usageRepo := &stubUsageRepo{}
	userRepo := &stubUserRepo{users: map[uuid.UUID]*models.User{user.ID: user}}
	catalog := &stubPlanCatalog{plans: map[uuid.UUID]*models.Plan{plan.ID: plan}}
	gateway := &stubGateway{}
	emitter := &stubEmitter{}

	svc, err := NewService(ServiceParams{
		DB:      stubTxRunner{},
		Repo:    repo,
		Usage:   usageRepo,
		Plans:   catalog,
		Users:   userRepo,
		Gateway: gateway,
		Outbox:  emitter,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Billing: config.BillingConfig{Currency: "usd", InvoiceDueDays: 7},
	})
	require.NoError(t, err)

	return &lifecycleFixture{
		svc:     svc,
		repo:    repo,
		usage:   usageRepo,
		users:   userRepo,
		catalog: catalog,
		gateway: gateway,
		emitter: emitter,
		user:    user,
		plan:    plan,
	}
}

func TestCreateSubscription_SnapshotsPlanEconomics(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(2999), sub.PriceMonthlyCents)
	require.NotNil(t, sub.IncludedVerifications)
	assert.Equal(t, int64(100), *sub.IncludedVerifications)
	require.NotNil(t, sub.OveragePricePerUnitCents)
	assert.Equal(t, int64(25), *sub.OveragePricePerUnitCents)
	assert.Equal(t, "usd", sub.Currency)
	assert.True(t, sub.CurrentPeriodEnd.Equal(sub.CurrentPeriodStart.AddDate(0, 1, 0)))

	require.Len(t, f.usage.rows, 1)
	assert.Equal(t, sub.ID, f.usage.rows[0].SubscriptionID)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventCreated), 1)
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, enums.EventSubscriptionCreated, f.emitter.events[0].EventType)
	require.NotNil(t, f.emitter.events[0].Actor)
	assert.Equal(t, f.user.ID, f.emitter.events[0].Actor.UserID)
	assert.Equal(t, string(f.user.Role), f.emitter.events[0].Actor.Role)
}

func TestCreateSubscription_TrialStartsTrialing(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID, TrialDays: 14})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	assert.True(t, sub.TrialEndsAt.After(sub.CurrentPeriodStart))
}

func TestCreateSubscription_SecondActiveConflicts(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestCreateSubscription_InactivePlanRejected(t *testing.T) {
	f := newLifecycleFixture(t)
	f.plan.IsActive = false

	_, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestCreateSubscription_CardEnrollsProvider(t *testing.T) {
	f := newLifecycleFixture(t)

	source := "cnon-token"
	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID, CardSourceID: &source})
	require.NoError(t, err)

	require.NotNil(t, sub.Provider)
	assert.Equal(t, ProviderSquare, *sub.Provider)
	require.NotNil(t, f.user.ProviderCustomerID)
	require.NotNil(t, f.user.ProviderCardID)
	assert.Equal(t, f.gateway.customerID, *f.user.ProviderCustomerID)

	require.Len(t, f.gateway.enrollCalls, 1)
	enroll := f.gateway.enrollCalls[0]
	assert.Equal(t, f.gateway.customerID, enroll.CustomerID)
	assert.Equal(t, f.gateway.cardID, enroll.CardID)
	assert.Equal(t, "sq-var-pro", enroll.PlanVariationID)
	assert.Equal(t, int64(2999), enroll.AmountCents)
	require.NotNil(t, sub.ProviderSubscriptionID)
	assert.Equal(t, f.gateway.providerSubID, *sub.ProviderSubscriptionID)
}

func TestCreateSubscription_RecurringBillingFailureDegrades(t *testing.T) {
	f := newLifecycleFixture(t)
	f.gateway.enrollErr = errors.New("square unavailable")

	source := "cnon-token"
	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID, CardSourceID: &source})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, f.user.ProviderCardID)
	assert.Nil(t, sub.ProviderSubscriptionID)
}

func TestCancelSubscription_EnrolledCancelsWithProvider(t *testing.T) {
	f := newLifecycleFixture(t)

	source := "cnon-token"
	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID, CardSourceID: &source})
	require.NoError(t, err)
	require.NotNil(t, sub.ProviderSubscriptionID)

	canceled, err := f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusCanceled, canceled.Status)
	require.Len(t, f.gateway.cancelCalls, 1)
	assert.Equal(t, *sub.ProviderSubscriptionID, f.gateway.cancelCalls[0])
	assert.Empty(t, f.repo.eventsOf(enums.SubscriptionEventReconciliationNeeded))
}

func TestCancelSubscription_Immediate(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID, Reason: "too expensive"})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.Nil(t, canceled.RenewsAt)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventCanceled), 1)
}

func TestCancelSubscription_Idempotent(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID})
	require.NoError(t, err)
	eventsAfterFirst := len(f.repo.events)

	again, err := f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, again.Status)
	assert.Len(t, f.repo.events, eventsAfterFirst)
}

func TestCancelSubscription_GatewayFailureFlagsReconciliation(t *testing.T) {
	f := newLifecycleFixture(t)
	f.gateway.cancelErr = errors.New("square unavailable")

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)
	providerID := "square-sub-1"
	sub.ProviderSubscriptionID = &providerID

	canceled, err := f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusCanceled, canceled.Status)
	require.Len(t, f.gateway.cancelCalls, 1)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventReconciliationNeeded), 1)
}

func TestCancelSubscription_AtPeriodEnd(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	scheduled, err := f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID, AtPeriodEnd: true})
	require.NoError(t, err)

	assert.True(t, scheduled.CancelAtPeriodEnd)
	assert.Equal(t, enums.SubscriptionStatusActive, scheduled.Status)
	assert.Nil(t, scheduled.CanceledAt)
}

func TestCancelSubscription_WrongOwnerNotFound(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), CancelInput{UserID: uuid.New(), SubscriptionID: sub.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestSwitchPlan_CancelsOldAndCreatesNew(t *testing.T) {
	f := newLifecycleFixture(t)

	newPrice := decimal.NewFromFloat(99.00)
	newIncluded := int64(1000)
	newPlan := &models.Plan{
		ID:                    uuid.New(),
		Name:                  "Enterprise",
		Slug:                  "enterprise",
		Price:                 &newPrice,
		Interval:              enums.BillingIntervalMonthly,
		VerificationsIncluded: &newIncluded,
		IsActive:              true,
	}
	f.catalog.plans[newPlan.ID] = newPlan

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	replacement, err := f.svc.SwitchPlan(context.Background(), SwitchInput{
		UserID:         f.user.ID,
		SubscriptionID: sub.ID,
		NewPlanID:      newPlan.ID,
	})
	require.NoError(t, err)

	assert.NotEqual(t, sub.ID, replacement.ID)
	assert.Equal(t, newPlan.ID, replacement.PlanID)
	assert.Equal(t, int64(9900), replacement.PriceMonthlyCents)
	require.NotNil(t, replacement.IncludedVerifications)
	assert.Equal(t, int64(1000), *replacement.IncludedVerifications)

	old := f.repo.subs[sub.ID]
	assert.Equal(t, enums.SubscriptionStatusCanceled, old.Status)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventCanceled), 1)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventCreated), 2)
}

func TestSwitchPlan_SamePlanRejected(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	_, err = f.svc.SwitchPlan(context.Background(), SwitchInput{
		UserID:         f.user.ID,
		SubscriptionID: sub.ID,
		NewPlanID:      f.plan.ID,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestPauseAndResume(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)

	paused, err := f.svc.Pause(context.Background(), f.user.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusPaused, paused.Status)

	resumed, err := f.svc.Resume(context.Background(), f.user.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, resumed.Status)

	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventPaused), 1)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventResumed), 1)
}

func TestPause_CanceledRejected(t *testing.T) {
	f := newLifecycleFixture(t)

	sub, err := f.svc.Create(context.Background(), CreateInput{UserID: f.user.ID, PlanID: f.plan.ID})
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), CancelInput{UserID: f.user.ID, SubscriptionID: sub.ID})
	require.NoError(t, err)

	_, err = f.svc.Pause(context.Background(), f.user.ID, sub.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}
