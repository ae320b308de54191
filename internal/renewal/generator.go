package renewal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/internal/subscriptions"
	"github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/pkg/config"
	dbpkg "github.com/covercheck/covercheck-backend/pkg/db"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/money"
	"github.com/covercheck/covercheck-backend/pkg/outbox"
	"github.com/covercheck/covercheck-backend/pkg/outbox/payloads"
)

// Outcome classifies what happened to one due subscription.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomePastDue Outcome = "past_due"
	OutcomeSkipped Outcome = "skipped"
)

// TxRunner abstracts the database transaction entrypoint.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Emitter queues outbox events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// UserStore resolves the subscriber for charging.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// GeneratorParams wires the renewal generator.
type GeneratorParams struct {
	DB      TxRunner
	Repo    billing.Repository
	Usage   usage.Repository
	Users   UserStore
	Gateway subscriptions.PaymentGateway
	Outbox  Emitter
	Logger  *logger.Logger
	Billing config.BillingConfig
}

// Generator closes one billing window: it prices the window into an
// invoice, attempts collection, and either advances the period or parks
// the subscription in past_due.
type Generator struct {
	db      TxRunner
	repo    billing.Repository
	usage   usage.Repository
	users   UserStore
	gateway subscriptions.PaymentGateway
	outbox  Emitter
	logg    *logger.Logger
	cfg     config.BillingConfig
	now     func() time.Time
}

// NewGenerator validates dependencies and returns the generator.
func NewGenerator(params GeneratorParams) (*Generator, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository is required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage repository is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Generator{
		db:      params.DB,
		repo:    params.Repo,
		usage:   params.Usage,
		users:   params.Users,
		gateway: params.Gateway,
		outbox:  params.Outbox,
		logg:    params.Logger,
		cfg:     params.Billing,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Process renews one subscription. The caller has already selected rows
// that look due; Process re-checks so a row mutated between the scan and
// now is skipped rather than double billed.
func (g *Generator) Process(ctx context.Context, sub *models.Subscription, asOf time.Time) (Outcome, error) {
	if sub == nil {
		return OutcomeSkipped, nil
	}
	if !sub.Status.IsBillable() || sub.CurrentPeriodEnd.After(asOf) {
		return OutcomeSkipped, nil
	}
	if sub.CancelAtPeriodEnd {
		if err := g.finalizeScheduledCancel(ctx, sub); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeSkipped, nil
	}

	invoice, err := g.issueInvoice(ctx, sub)
	if err != nil {
		return OutcomeSkipped, err
	}
	if invoice.Status == enums.InvoiceStatusPaid {
		// A previous run already collected this window.
		return OutcomeSkipped, nil
	}

	if invoice.TotalCents == 0 {
		if err := g.settleZeroInvoice(ctx, sub, invoice); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomePaid, nil
	}

	// A failing user store is an infrastructure fault, not a decline. It
	// propagates to the scheduler's error list and leaves the subscription
	// in its prior state instead of parking it past_due.
	user, err := g.users.FindByID(ctx, sub.UserID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("loading subscriber %s: %w", sub.UserID, err)
	}

	payment, chargeErr := g.charge(ctx, user, sub, invoice)
	if chargeErr == nil && payment.Status == enums.PaymentStatusSucceeded {
		if err := g.settlePaid(ctx, sub, invoice, payment); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomePaid, nil
	}
	if err := g.settleFailed(ctx, sub, invoice, payment, chargeErr); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomePastDue, nil
}

// finalizeScheduledCancel flips a cancel_at_period_end row to canceled once
// its window closes. No invoice is generated for the next window.
func (g *Generator) finalizeScheduledCancel(ctx context.Context, sub *models.Subscription) error {
	now := g.now()
	canceledAt := sub.CurrentPeriodEnd
	sub.Status = enums.SubscriptionStatusCanceled
	sub.CanceledAt = &canceledAt
	sub.RenewsAt = nil
	return g.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			Event:          enums.SubscriptionEventCanceled,
			Metadata:       billing.EventMetadata(map[string]any{"at_period_end": true}),
		}); err != nil {
			return err
		}
		return g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				CanceledAt:     canceledAt,
				Reason:         "cancel_at_period_end",
			},
		})
	})
}

// issueInvoice prices the closing window. Re-running for the same window
// returns the invoice already on file instead of issuing a second one.
func (g *Generator) issueInvoice(ctx context.Context, sub *models.Subscription) (*models.Invoice, error) {
	existing, err := g.repo.FindInvoiceForPeriod(ctx, sub.ID, sub.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := g.now()
	items := g.priceWindow(ctx, sub)
	var subtotal int64
	for _, item := range items {
		subtotal += item.AmountCents
	}

	dueDays := g.cfg.InvoiceDueDays
	if dueDays <= 0 {
		dueDays = 7
	}

	invoice := &models.Invoice{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Status:         enums.InvoiceStatusOpen,
		Currency:       money.NormalizeCurrency(sub.Currency),
		SubtotalCents:  subtotal,
		DiscountCents:  0,
		TaxCents:       0,
		TotalCents:     subtotal,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		IssuedAt:       now,
		DueAt:          now.AddDate(0, 0, dueDays),
		Items:          items,
	}

	// Two schedulers racing the same year can both read the latest number
	// before either commits; the unique index on invoices.number rejects
	// the loser. One retry re-allocates against the winner's row.
	err = g.persistInvoice(ctx, sub, invoice, now)
	if err != nil && dbpkg.IsUniqueViolation(err, "") {
		err = g.persistInvoice(ctx, sub, invoice, now)
	}
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (g *Generator) persistInvoice(ctx context.Context, sub *models.Subscription, invoice *models.Invoice, now time.Time) error {
	return g.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		number, err := repo.NextInvoiceNumber(ctx, now)
		if err != nil {
			return err
		}
		invoice.Number = number
		if err := repo.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			Event:          enums.SubscriptionEventInvoiceGenerated,
			Metadata: billing.EventMetadata(map[string]any{
				"invoice_id":  invoice.ID,
				"number":      invoice.Number,
				"total_cents": invoice.TotalCents,
			}),
		}); err != nil {
			return err
		}
		return g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.InvoiceIssuedEvent{
				InvoiceID:      invoice.ID,
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Number:         invoice.Number,
				TotalCents:     invoice.TotalCents,
				Currency:       invoice.Currency,
				DueAt:          invoice.DueAt,
			},
		})
	})
}

// priceWindow builds the line items for the closing window: the base fee
// plus metered overage above the snapshot allowance. Every ordinary renewal
// carries the base fee item, even at amount zero, so the invoice always
// states what window it covers.
func (g *Generator) priceWindow(ctx context.Context, sub *models.Subscription) []models.InvoiceItem {
	items := []models.InvoiceItem{{
		ID:             uuid.New(),
		Type:           enums.InvoiceItemTypeBaseFee,
		Description:    fmt.Sprintf("Subscription %s to %s", sub.CurrentPeriodStart.Format("2006-01-02"), sub.CurrentPeriodEnd.Format("2006-01-02")),
		Quantity:       1,
		UnitPriceCents: sub.PriceMonthlyCents,
		AmountCents:    sub.PriceMonthlyCents,
	}}

	quota := usage.ResolveQuota(sub, nil)
	if quota.Unlimited || sub.OveragePricePerUnitCents == nil || *sub.OveragePricePerUnitCents <= 0 {
		return items
	}
	row, err := g.usage.Find(ctx, sub.ID, enums.MetricVerifications, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil || row == nil {
		return items
	}
	over := quota.Overage(row.Used)
	if over <= 0 {
		return items
	}
	unit := *sub.OveragePricePerUnitCents
	items = append(items, models.InvoiceItem{
		ID:             uuid.New(),
		Type:           enums.InvoiceItemTypeOverage,
		Description:    fmt.Sprintf("%d verifications over the included %d", over, quota.Included),
		Quantity:       over,
		UnitPriceCents: unit,
		AmountCents:    over * unit,
	})
	return items
}

// charge attempts collection against the vaulted card. A missing payment
// method is a failed attempt, not an abort: the subscription still needs
// to go past_due.
func (g *Generator) charge(ctx context.Context, user *models.User, sub *models.Subscription, invoice *models.Invoice) (*models.Payment, error) {
	payment := &models.Payment{
		ID:          uuid.New(),
		InvoiceID:   invoice.ID,
		Provider:    subscriptions.ProviderSquare,
		Status:      enums.PaymentStatusPending,
		AmountCents: invoice.TotalCents,
		Currency:    invoice.Currency,
	}

	if g.gateway == nil || user == nil || user.ProviderCustomerID == nil || user.ProviderCardID == nil {
		return payment, fmt.Errorf("no payment method on file")
	}

	result, err := g.gateway.Charge(ctx, subscriptions.ChargeParams{
		CustomerID:     *user.ProviderCustomerID,
		CardID:         *user.ProviderCardID,
		AmountCents:    invoice.TotalCents,
		Currency:       invoice.Currency,
		Note:           fmt.Sprintf("Invoice %s", invoice.Number),
		ReferenceID:    invoice.ID.String(),
		IdempotencyKey: fmt.Sprintf("renewal-%s", invoice.ID),
	})
	if err != nil {
		return payment, err
	}
	if result.ProviderPaymentID != "" {
		payment.ProviderPaymentIntentID = &result.ProviderPaymentID
	}
	if !result.Succeeded {
		return payment, fmt.Errorf("charge declined with status %s", result.Status)
	}
	payment.Status = enums.PaymentStatusSucceeded
	return payment, nil
}

// settleZeroInvoice marks a free window paid and advances the period
// without touching the gateway.
func (g *Generator) settleZeroInvoice(ctx context.Context, sub *models.Subscription, invoice *models.Invoice) error {
	now := g.now()
	return g.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		invoice.Status = enums.InvoiceStatusPaid
		invoice.PaidAt = &now
		if err := repo.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}
		return g.advancePeriod(ctx, tx, sub, invoice, now)
	})
}

// settlePaid records the successful payment, advances the window, and
// resets the usage counter for the new one.
func (g *Generator) settlePaid(ctx context.Context, sub *models.Subscription, invoice *models.Invoice, payment *models.Payment) error {
	now := g.now()
	payment.PaidAt = &now
	return g.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		invoice.Status = enums.InvoiceStatusPaid
		invoice.PaidAt = &now
		if err := repo.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			Event:          enums.SubscriptionEventPaymentSucceeded,
			Metadata: billing.EventMetadata(map[string]any{
				"invoice_id":   invoice.ID,
				"payment_id":   payment.ID,
				"amount_cents": payment.AmountCents,
			}),
		}); err != nil {
			return err
		}
		if err := g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoicePaid,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.InvoicePaidEvent{
				InvoiceID:      invoice.ID,
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Number:         invoice.Number,
				TotalCents:     invoice.TotalCents,
				PaidAt:         now,
			},
		}); err != nil {
			return err
		}
		return g.advancePeriod(ctx, tx, sub, invoice, now)
	})
}

// advancePeriod rolls the subscription into its next window and seeds a
// zeroed usage counter for it.
func (g *Generator) advancePeriod(ctx context.Context, tx *gorm.DB, sub *models.Subscription, invoice *models.Invoice, now time.Time) error {
	repo := g.repo.WithTx(tx)

	oldEnd := sub.CurrentPeriodEnd
	sub.CurrentPeriodStart = oldEnd
	sub.CurrentPeriodEnd = oldEnd.AddDate(0, 1, 0)
	renewsAt := sub.CurrentPeriodEnd
	sub.RenewsAt = &renewsAt
	if sub.Status == enums.SubscriptionStatusTrialing {
		sub.Status = enums.SubscriptionStatusActive
	}
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	if _, err := g.usage.WithTx(tx).GetOrCreate(ctx, sub.ID, enums.MetricVerifications, sub.CurrentPeriodStart, sub.CurrentPeriodEnd); err != nil {
		return err
	}
	if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
		SubscriptionID: sub.ID,
		Event:          enums.SubscriptionEventPeriodRenewed,
		Metadata: billing.EventMetadata(map[string]any{
			"period_start": sub.CurrentPeriodStart,
			"period_end":   sub.CurrentPeriodEnd,
			"invoice_id":   invoice.ID,
		}),
	}); err != nil {
		return err
	}
	return g.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionRenewed,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Version:       1,
		OccurredAt:    now,
		Data: payloads.SubscriptionRenewedEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			InvoiceID:      invoice.ID,
			PeriodStart:    sub.CurrentPeriodStart,
			PeriodEnd:      sub.CurrentPeriodEnd,
		},
	})
}

// settleFailed records the failed attempt and parks the subscription in
// past_due. The window is deliberately not advanced: the subscriber owes
// for the closed window before a new one opens.
func (g *Generator) settleFailed(ctx context.Context, sub *models.Subscription, invoice *models.Invoice, payment *models.Payment, chargeErr error) error {
	now := g.now()
	payment.Status = enums.PaymentStatusFailed
	if chargeErr != nil {
		msg := chargeErr.Error()
		payment.ErrorMessage = &msg
	}

	sub.Status = enums.SubscriptionStatusPastDue
	sub.RenewsAt = nil

	return g.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			Event:          enums.SubscriptionEventPaymentFailed,
			Metadata: billing.EventMetadata(map[string]any{
				"invoice_id":   invoice.ID,
				"payment_id":   payment.ID,
				"amount_cents": payment.AmountCents,
				"error":        payment.ErrorMessage,
			}),
		}); err != nil {
			return err
		}
		if err := g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.PaymentFailedEvent{
				PaymentID:      payment.ID,
				InvoiceID:      invoice.ID,
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				AmountCents:    payment.AmountCents,
				ErrorMessage:   stringValue(payment.ErrorMessage),
			},
		}); err != nil {
			return err
		}
		return g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionPastDue,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.SubscriptionPastDueEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				InvoiceID:      invoice.ID,
				AmountCents:    invoice.TotalCents,
			},
		})
	})
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
