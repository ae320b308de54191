package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/covercheck/covercheck-backend/pkg/db"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// uniqueConstraint matches the four-column tuple index on
// subscription_usages.
const uniqueConstraint = "subscription_usage_unique"

// Repository persists per-period usage counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetOrCreate(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error)
	Find(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error)
	Increment(ctx context.Context, row *models.SubscriptionUsage, at time.Time) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionUsage, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// GetOrCreate returns the counter row for the window, inserting a zeroed
// one when absent. Losing the insert race to a concurrent writer is fine:
// the unique violation means the winner's row exists, so re-read it.
func (r *repository) GetOrCreate(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error) {
	row, err := r.Find(ctx, subscriptionID, metric, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}

	fresh := &models.SubscriptionUsage{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Metric:         metric,
		Used:           0,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	if err := r.db.WithContext(ctx).Create(fresh).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, uniqueConstraint) || dbpkg.IsUniqueViolation(err, "") {
			return r.Find(ctx, subscriptionID, metric, periodStart, periodEnd)
		}
		return nil, err
	}
	return fresh, nil
}

func (r *repository) Find(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart, periodEnd time.Time) (*models.SubscriptionUsage, error) {
	var row models.SubscriptionUsage
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND metric = ? AND period_start = ? AND period_end = ?",
			subscriptionID, metric, periodStart, periodEnd).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Increment bumps the counter by one directly in SQL so concurrent
// increments never lose updates, then refreshes the in-memory row.
func (r *repository) Increment(ctx context.Context, row *models.SubscriptionUsage, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.SubscriptionUsage{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"used":                gorm.Expr("used + 1"),
			"last_incremented_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	return r.db.WithContext(ctx).Where("id = ?", row.ID).First(row).Error
}

func (r *repository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionUsage, error) {
	var rows []models.SubscriptionUsage
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("period_start DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
