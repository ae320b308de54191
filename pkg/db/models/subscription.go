package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// Subscription is the billing state machine row for one user/plan pair.
// Plan economics are snapshotted at creation so later catalog edits never
// change what an existing subscriber pays.
type Subscription struct {
	ID     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index:idx_subscriptions_user_status"`
	PlanID uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete';index:idx_subscriptions_user_status;index:idx_subscriptions_status_period_end"`

	TrialEndsAt        *time.Time `gorm:"column:trial_ends_at"`
	CurrentPeriodStart time.Time  `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   time.Time  `gorm:"column:current_period_end;not null;index:idx_subscriptions_status_period_end"`
	RenewsAt           *time.Time `gorm:"column:renews_at"`
	CanceledAt         *time.Time `gorm:"column:canceled_at"`
	CancelAtPeriodEnd  bool       `gorm:"column:cancel_at_period_end;not null;default:false"`

	// Snapshot economics copied from the plan at creation time.
	Currency                 string `gorm:"column:currency;not null;default:'usd'"`
	PriceMonthlyCents        int64  `gorm:"column:price_monthly_cents;not null;default:0"`
	IncludedVerifications    *int64 `gorm:"column:included_verifications"`
	OveragePricePerUnitCents *int64 `gorm:"column:overage_price_per_unit_cents"`

	Provider               *string `gorm:"column:provider"`
	ProviderCustomerID     *string `gorm:"column:provider_customer_id"`
	ProviderSubscriptionID *string `gorm:"column:provider_subscription_id;uniqueIndex"`

	Metadata  json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
