package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/pagination"
)

// Repository handles billing persistence: subscriptions, invoices,
// payments, and the append-only event log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindActiveSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
	ListProviderEnrolledSubscriptions(ctx context.Context, limit int) ([]models.Subscription, error)

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	UpdateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindInvoiceForPeriod(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.Invoice, error)
	ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error)
	NextInvoiceNumber(ctx context.Context, issuedAt time.Time) (string, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)

	AppendEvent(ctx context.Context, event *models.SubscriptionEvent) error
	ListEventsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error)
}

type repository struct {
	db *gorm.DB
}

// ListInvoicesQuery configures invoice list queries.
type ListInvoicesQuery struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Status         *enums.InvoiceStatus
	Limit          int
	Cursor         *pagination.Cursor
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindActiveSubscriptionForUser returns the most recently created row in a
// billable status, or nil when the user has none.
func (r *repository) FindActiveSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN (?)", userID, statuses).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListDueSubscriptions selects billable rows whose period has closed.
// past_due rows are intentionally excluded: a failed renewal is not retried
// automatically, it waits for a manual or dunning path.
func (r *repository) ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN (?) AND current_period_end <= ?", statuses, asOf).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListProviderEnrolledSubscriptions selects rows mirrored into the payment
// provider's recurring engine. Canceled rows are excluded; once both sides
// agree the subscription is over there is nothing left to reconcile.
func (r *repository) ListProviderEnrolledSubscriptions(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("provider_subscription_id IS NOT NULL AND status <> ?", enums.SubscriptionStatusCanceled).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) UpdateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Omit("Items").Save(invoice).Error
}

func (r *repository) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindInvoiceForPeriod returns the invoice already issued for one billing
// window, making renewal generation idempotent per window.
func (r *repository) FindInvoiceForPeriod(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("subscription_id = ? AND period_start = ?", subscriptionID, periodStart).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("user_id = ?", params.UserID)
	if params.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *params.SubscriptionID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var invoices []models.Invoice
	if err := query.
		Preload("Items").
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&invoices).Error; err != nil {
		return nil, nil, err
	}

	var next *pagination.Cursor
	if len(invoices) > limit {
		last := invoices[limit-1]
		invoices = invoices[:limit]
		next = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return invoices, next, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEventsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error) {
	var events []models.SubscriptionEvent
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
