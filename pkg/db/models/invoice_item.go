package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// InvoiceItem is one invoice line. Amount = Quantity * UnitPriceCents.
type InvoiceItem struct {
	ID             uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID      uuid.UUID             `gorm:"column:invoice_id;type:uuid;not null;index"`
	Type           enums.InvoiceItemType `gorm:"column:type;type:invoice_item_type;not null"`
	Description    string                `gorm:"column:description;not null"`
	Quantity       int64                 `gorm:"column:quantity;not null;default:1"`
	UnitPriceCents int64                 `gorm:"column:unit_price_cents;not null;default:0"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null;default:0"`
	Metadata       json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}
