package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// Invoice is a priced statement for one billing window. All amounts are
// integer cents; Total = Subtotal - Discount + Tax.
type Invoice struct {
	ID             uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Number         string              `gorm:"column:number;not null;uniqueIndex"`
	Status         enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`
	Currency       string              `gorm:"column:currency;not null;default:'usd'"`

	SubtotalCents int64 `gorm:"column:subtotal_cents;not null;default:0"`
	DiscountCents int64 `gorm:"column:discount_cents;not null;default:0"`
	TaxCents      int64 `gorm:"column:tax_cents;not null;default:0"`
	TotalCents    int64 `gorm:"column:total_cents;not null;default:0"`

	PeriodStart time.Time `gorm:"column:period_start;not null"`
	PeriodEnd   time.Time `gorm:"column:period_end;not null"`

	Provider          *string `gorm:"column:provider"`
	ProviderInvoiceID *string `gorm:"column:provider_invoice_id"`

	Metadata json.RawMessage `gorm:"column:metadata;type:jsonb"`

	IssuedAt  time.Time  `gorm:"column:issued_at;not null"`
	DueAt     time.Time  `gorm:"column:due_at;not null"`
	PaidAt    *time.Time `gorm:"column:paid_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID"`
}
