package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// SubscriptionUsage is one metered counter for one billing window. The
// four-column unique tuple makes get-or-create race safe: the loser of a
// concurrent insert re-reads the winner's row.
type SubscriptionUsage struct {
	ID                uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID    uuid.UUID         `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:subscription_usage_unique"`
	Metric            enums.UsageMetric `gorm:"column:metric;not null;uniqueIndex:subscription_usage_unique"`
	Used              int64             `gorm:"column:used;not null;default:0"`
	PeriodStart       time.Time         `gorm:"column:period_start;not null;uniqueIndex:subscription_usage_unique"`
	PeriodEnd         time.Time         `gorm:"column:period_end;not null;uniqueIndex:subscription_usage_unique"`
	LastIncrementedAt *time.Time        `gorm:"column:last_incremented_at"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
