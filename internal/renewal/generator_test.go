package renewal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/internal/subscriptions"
	"github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/outbox"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubBillingRepo struct {
	billing.Repository
	subs              map[uuid.UUID]*models.Subscription
	invoices          map[uuid.UUID]*models.Invoice
	payments          []*models.Payment
	events            []*models.SubscriptionEvent
	nextSeq           int64
	createInvoiceErrs []error
}

func newStubBillingRepo() *stubBillingRepo {
	return &stubBillingRepo{
		subs:     map[uuid.UUID]*models.Subscription{},
		invoices: map[uuid.UUID]*models.Invoice{},
	}
}

func (s *stubBillingRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubBillingRepo) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.subs[sub.ID] = sub
	return nil
}

func (s *stubBillingRepo) ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	var due []models.Subscription
	for _, sub := range s.subs {
		if sub.Status.IsBillable() && !sub.CurrentPeriodEnd.After(asOf) {
			due = append(due, *sub)
		}
	}
	return due, nil
}

func (s *stubBillingRepo) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	if len(s.createInvoiceErrs) > 0 {
		err := s.createInvoiceErrs[0]
		s.createInvoiceErrs = s.createInvoiceErrs[1:]
		if err != nil {
			return err
		}
	}
	s.invoices[invoice.ID] = invoice
	return nil
}

func (s *stubBillingRepo) UpdateInvoice(ctx context.Context, invoice *models.Invoice) error {
	s.invoices[invoice.ID] = invoice
	return nil
}

func (s *stubBillingRepo) FindInvoiceForPeriod(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.Invoice, error) {
	for _, invoice := range s.invoices {
		if invoice.SubscriptionID == subscriptionID && invoice.PeriodStart.Equal(periodStart) {
			return invoice, nil
		}
	}
	return nil, nil
}

func (s *stubBillingRepo) NextInvoiceNumber(ctx context.Context, issuedAt time.Time) (string, error) {
	s.nextSeq++
	return billing.FormatInvoiceNumber(issuedAt.Year(), s.nextSeq), nil
}

func (s *stubBillingRepo) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.payments = append(s.payments, payment)
	return nil
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

func (s *stubBillingRepo) invoiceList() []*models.Invoice {
	var out []*models.Invoice
	for _, invoice := range s.invoices {
		out = append(out, invoice)
	}
	return out
}

type usageKey struct {
	sub   uuid.UUID
	start int64
}

type stubUsageRepo struct {
	usage.Repository
	rows map[usageKey]*models.SubscriptionUsage
}

func newStubUsageRepo() *stubUsageRepo {
	return &stubUsageRepo{rows: map[usageKey]*models.SubscriptionUsage{}}
}

func (s *stubUsageRepo) WithTx(tx *gorm.DB) usage.Repository { return s }

func (s *stubUsageRepo) Find(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error) {
	return s.rows[usageKey{subscriptionID, periodStart.Unix()}], nil
}

func (s *stubUsageRepo) GetOrCreate(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error) {
	key := usageKey{subscriptionID, periodStart.Unix()}
	if row, ok := s.rows[key]; ok {
		return row, nil
	}
	row := &models.SubscriptionUsage{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Metric:         metric,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	s.rows[key] = row
	return row, nil
}

func (s *stubUsageRepo) seed(sub *models.Subscription, used int64) {
	key := usageKey{sub.ID, sub.CurrentPeriodStart.Unix()}
	s.rows[key] = &models.SubscriptionUsage{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Metric:         enums.MetricVerifications,
		Used:           used,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
	}
}

type stubUserStore struct {
	users map[uuid.UUID]*models.User
	err   error
}

func (s *stubUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.users[id], nil
}

type stubGateway struct {
	chargeErr error
	declined  bool
	charges   []subscriptions.ChargeParams
}

func (s *stubGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubGateway) VaultCard(ctx context.Context, customerID, sourceID, cardholderName string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubGateway) CreateRecurringBilling(ctx context.Context, params subscriptions.RecurringBillingParams) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubGateway) RecurringBillingStatus(ctx context.Context, providerSubscriptionID string) (enums.SubscriptionStatus, error) {
	return enums.SubscriptionStatusActive, nil
}

func (s *stubGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return nil
}

func (s *stubGateway) Charge(ctx context.Context, params subscriptions.ChargeParams) (*subscriptions.ChargeResult, error) {
	s.charges = append(s.charges, params)
	if s.chargeErr != nil {
		return nil, s.chargeErr
	}
	if s.declined {
		return &subscriptions.ChargeResult{Status: "FAILED"}, nil
	}
	return &subscriptions.ChargeResult{ProviderPaymentID: fmt.Sprintf("pay-%d", len(s.charges)), Status: "COMPLETED", Succeeded: true}, nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubEmitter) eventsOf(kind enums.OutboxEventType) []outbox.DomainEvent {
	var out []outbox.DomainEvent
	for _, ev := range s.events {
		if ev.EventType == kind {
			out = append(out, ev)
		}
	}
	return out
}

type renewalFixture struct {
	generator *Generator
	scheduler *Scheduler
	repo      *stubBillingRepo
	usage     *stubUsageRepo
	users     *stubUserStore
	gateway   *stubGateway
	emitter   *stubEmitter
	user      *models.User
}

func newRenewalFixture(t *testing.T) *renewalFixture {
	t.Helper()

	customerID := "cust-1"
	cardID := "card-1"
	user := &models.User{
		ID:                 uuid.New(),
		Email:              "subscriber@example.com",
		IsActive:           true,
		ProviderCustomerID: &customerID,
		ProviderCardID:     &cardID,
	}

	repo := newStubBillingRepo()
	usageRepo := newStubUsageRepo()
	userStore := &stubUserStore{users: map[uuid.UUID]*models.User{user.ID: user}}
	gateway := &stubGateway{}
	emitter := &stubEmitter{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := config.BillingConfig{Currency: "usd", InvoiceDueDays: 7, RenewalBatch: 200}

	generator, err := NewGenerator(GeneratorParams{
		DB:      stubTxRunner{},
		Repo:    repo,
		Usage:   usageRepo,
		Users:   userStore,
		Gateway: gateway,
		Outbox:  emitter,
		Logger:  logg,
		Billing: cfg,
	})
	require.NoError(t, err)

	scheduler, err := NewScheduler(SchedulerParams{
		Repo:      repo,
		Generator: generator,
		Logger:    logg,
		Billing:   cfg,
	})
	require.NoError(t, err)

	return &renewalFixture{
		generator: generator,
		scheduler: scheduler,
		repo:      repo,
		usage:     usageRepo,
		users:     userStore,
		gateway:   gateway,
		emitter:   emitter,
		user:      user,
	}
}

func (f *renewalFixture) dueSubscription(included, overageCents *int64) *models.Subscription {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		ID:                       uuid.New(),
		UserID:                   f.user.ID,
		PlanID:                   uuid.New(),
		Status:                   enums.SubscriptionStatusActive,
		CurrentPeriodStart:       start,
		CurrentPeriodEnd:         start.AddDate(0, 1, 0),
		Currency:                 "usd",
		PriceMonthlyCents:        2999,
		IncludedVerifications:    included,
		OveragePricePerUnitCents: overageCents,
	}
	f.repo.subs[sub.ID] = sub
	return sub
}

func int64Ptr(v int64) *int64 { return &v }

func asOfJune() time.Time {
	return time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
}

func TestProcess_PaidRenewalAdvancesPeriod(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(int64Ptr(100), int64Ptr(25))
	f.usage.seed(sub, 40)
	oldEnd := sub.CurrentPeriodEnd

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	invoices := f.repo.invoiceList()
	require.Len(t, invoices, 1)
	invoice := invoices[0]
	assert.Equal(t, enums.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, int64(2999), invoice.TotalCents)
	require.Len(t, invoice.Items, 1)
	assert.Equal(t, enums.InvoiceItemTypeBaseFee, invoice.Items[0].Type)

	assert.True(t, sub.CurrentPeriodStart.Equal(oldEnd))
	assert.True(t, sub.CurrentPeriodEnd.Equal(oldEnd.AddDate(0, 1, 0)))
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)

	fresh := f.usage.rows[usageKey{sub.ID, sub.CurrentPeriodStart.Unix()}]
	require.NotNil(t, fresh)
	assert.Equal(t, int64(0), fresh.Used)

	require.Len(t, f.repo.payments, 1)
	assert.Equal(t, enums.PaymentStatusSucceeded, f.repo.payments[0].Status)
	require.Len(t, f.emitter.eventsOf(enums.EventInvoicePaid), 1)
	require.Len(t, f.emitter.eventsOf(enums.EventSubscriptionRenewed), 1)
}

func TestProcess_OverageBilledAboveIncluded(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(int64Ptr(100), int64Ptr(25))
	f.usage.seed(sub, 130)

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	invoices := f.repo.invoiceList()
	require.Len(t, invoices, 1)
	invoice := invoices[0]
	require.Len(t, invoice.Items, 2)

	var overage *models.InvoiceItem
	for i := range invoice.Items {
		if invoice.Items[i].Type == enums.InvoiceItemTypeOverage {
			overage = &invoice.Items[i]
		}
	}
	require.NotNil(t, overage)
	assert.Equal(t, int64(30), overage.Quantity)
	assert.Equal(t, int64(25), overage.UnitPriceCents)
	assert.Equal(t, int64(750), overage.AmountCents)
	assert.Equal(t, int64(2999+750), invoice.TotalCents)
	assert.Equal(t, invoice.TotalCents, invoice.SubtotalCents)
	assert.Equal(t, int64(0), invoice.TaxCents)
}

func TestProcess_FailedChargeParksPastDue(t *testing.T) {
	f := newRenewalFixture(t)
	f.gateway.declined = true
	sub := f.dueSubscription(int64Ptr(100), nil)
	oldStart := sub.CurrentPeriodStart
	oldEnd := sub.CurrentPeriodEnd

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePastDue, outcome)

	assert.Equal(t, enums.SubscriptionStatusPastDue, sub.Status)
	assert.True(t, sub.CurrentPeriodStart.Equal(oldStart))
	assert.True(t, sub.CurrentPeriodEnd.Equal(oldEnd))
	assert.Nil(t, sub.RenewsAt)

	invoices := f.repo.invoiceList()
	require.Len(t, invoices, 1)
	assert.Equal(t, enums.InvoiceStatusOpen, invoices[0].Status)

	require.Len(t, f.repo.payments, 1)
	assert.Equal(t, enums.PaymentStatusFailed, f.repo.payments[0].Status)
	require.Len(t, f.emitter.eventsOf(enums.EventPaymentFailed), 1)
	require.Len(t, f.emitter.eventsOf(enums.EventSubscriptionPastDue), 1)
	require.Len(t, f.repo.eventsOf(enums.SubscriptionEventPaymentFailed), 1)
}

func TestProcess_NoPaymentMethodFailsCharge(t *testing.T) {
	f := newRenewalFixture(t)
	f.user.ProviderCardID = nil
	sub := f.dueSubscription(int64Ptr(100), nil)

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePastDue, outcome)
	require.Len(t, f.repo.payments, 1)
	require.NotNil(t, f.repo.payments[0].ErrorMessage)
	assert.Contains(t, *f.repo.payments[0].ErrorMessage, "no payment method")
	assert.Empty(t, f.gateway.charges)
}

func TestProcess_ZeroTotalAutoPaid(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(nil, nil)
	sub.PriceMonthlyCents = 0
	oldEnd := sub.CurrentPeriodEnd

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	invoices := f.repo.invoiceList()
	require.Len(t, invoices, 1)
	assert.Equal(t, enums.InvoiceStatusPaid, invoices[0].Status)
	assert.Equal(t, int64(0), invoices[0].TotalCents)
	require.Len(t, invoices[0].Items, 1)
	assert.Equal(t, enums.InvoiceItemTypeBaseFee, invoices[0].Items[0].Type)
	assert.Equal(t, int64(0), invoices[0].Items[0].AmountCents)
	assert.Empty(t, f.gateway.charges)
	assert.Empty(t, f.repo.payments)
	assert.True(t, sub.CurrentPeriodStart.Equal(oldEnd))
}

func TestProcess_UserLookupFailurePropagates(t *testing.T) {
	f := newRenewalFixture(t)
	f.users.err = errors.New("db connection reset")
	sub := f.dueSubscription(int64Ptr(100), nil)

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db connection reset")
	assert.Equal(t, OutcomeSkipped, outcome)

	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Empty(t, f.repo.payments)
	assert.Empty(t, f.repo.eventsOf(enums.SubscriptionEventPaymentFailed))

	invoices := f.repo.invoiceList()
	require.Len(t, invoices, 1)
	assert.Equal(t, enums.InvoiceStatusOpen, invoices[0].Status)
}

func TestScheduler_UserLookupFailureLandsInErrors(t *testing.T) {
	f := newRenewalFixture(t)
	f.users.err = errors.New("db connection reset")
	sub := f.dueSubscription(int64Ptr(100), nil)

	summary, err := f.scheduler.Run(context.Background(), asOfJune())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.PastDue)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "db connection reset")
	assert.Equal(t, enums.SubscriptionStatusActive, f.repo.subs[sub.ID].Status)
}

func TestProcess_InvoiceNumberCollisionRetriesOnce(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(int64Ptr(100), nil)
	f.repo.createInvoiceErrs = []error{errors.New(`duplicate key value violates unique constraint "idx_invoices_number"`)}

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	invoices := f.repo.invoiceList()
	require.Len(t, invoices, 1)
	assert.Equal(t, billing.FormatInvoiceNumber(2026, 2), invoices[0].Number)
}

func TestProcess_InvoiceCreateFailurePropagates(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(int64Ptr(100), nil)
	f.repo.createInvoiceErrs = []error{errors.New("connection refused")}

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.Error(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, f.repo.invoiceList())
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
}

func TestProcess_NotDueSkipped(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(int64Ptr(100), nil)
	sub.CurrentPeriodEnd = asOfJune().AddDate(0, 0, 10)

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, f.repo.invoiceList())
}

func TestProcess_RerunSameWindowSkips(t *testing.T) {
	f := newRenewalFixture(t)
	f.gateway.declined = true
	sub := f.dueSubscription(int64Ptr(100), nil)

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePastDue, outcome)

	// Reset to billable as a dunning path would, then re-run: the open
	// invoice for the window is reused, not duplicated.
	sub.Status = enums.SubscriptionStatusActive
	f.gateway.declined = false
	outcome, err = f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)
	assert.Len(t, f.repo.invoiceList(), 1)
}

func TestProcess_CancelAtPeriodEndFinalizes(t *testing.T) {
	f := newRenewalFixture(t)
	sub := f.dueSubscription(int64Ptr(100), nil)
	sub.CancelAtPeriodEnd = true
	periodEnd := sub.CurrentPeriodEnd

	outcome, err := f.generator.Process(context.Background(), sub, asOfJune())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	assert.Equal(t, enums.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.CanceledAt.Equal(periodEnd))
	assert.Empty(t, f.repo.invoiceList())
	require.Len(t, f.emitter.eventsOf(enums.EventSubscriptionCanceled), 1)
}

func TestScheduler_SummaryCounts(t *testing.T) {
	f := newRenewalFixture(t)

	paid := f.dueSubscription(int64Ptr(100), nil)
	f.usage.seed(paid, 10)

	scheduled := f.dueSubscription(int64Ptr(100), nil)
	scheduled.CancelAtPeriodEnd = true

	// Second fixture user with no card so this row goes past_due.
	noCard := f.dueSubscription(int64Ptr(100), nil)
	orphanID := uuid.New()
	noCard.UserID = orphanID

	summary, err := f.scheduler.Run(context.Background(), asOfJune())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Paid)
	assert.Equal(t, 1, summary.PastDue)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, summary.Errors)
}

func TestScheduler_InvoiceNumbersStayUnique(t *testing.T) {
	f := newRenewalFixture(t)
	for i := 0; i < 5; i++ {
		sub := f.dueSubscription(int64Ptr(100), nil)
		f.usage.seed(sub, int64(i))
	}

	summary, err := f.scheduler.Run(context.Background(), asOfJune())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Paid)

	seen := map[string]bool{}
	for _, invoice := range f.repo.invoiceList() {
		require.NotEmpty(t, invoice.Number)
		assert.False(t, seen[invoice.Number], "duplicate invoice number %s", invoice.Number)
		seen[invoice.Number] = true
	}
	assert.Len(t, seen, 5)
}
