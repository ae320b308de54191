package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// Plan is a catalog entry. Price is the monthly sticker price; nil means
// the plan is free. VerificationsIncluded nil means unlimited usage.
type Plan struct {
	ID                       uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name                     string                `gorm:"column:name;not null"`
	Slug                     string                `gorm:"column:slug;not null;uniqueIndex"`
	Description              *string               `gorm:"column:description"`
	Price                    *decimal.Decimal      `gorm:"column:price;type:numeric(10,2)"`
	Interval                 enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null;default:'monthly'"`
	VerificationsIncluded    *int64                `gorm:"column:verifications_included"`
	OveragePricePerUnitCents *int64                `gorm:"column:overage_price_per_unit_cents"`
	// ProviderVariationID points at the Square catalog plan variation that
	// mirrors this plan. Nil means the plan is billed locally only.
	ProviderVariationID *string `gorm:"column:provider_variation_id"`
	// ImageLimit predates verifications_included and is only consulted
	// as a quota fallback for grandfathered plans.
	ImageLimit *int64               `gorm:"column:image_limit"`
	Features   pq.StringArray       `gorm:"column:features;type:text[]"`
	SortOrder  int                  `gorm:"column:sort_order;not null;default:0"`
	Visibility enums.PlanVisibility `gorm:"column:visibility;type:plan_visibility;not null;default:'public'"`
	IsActive   bool                 `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
