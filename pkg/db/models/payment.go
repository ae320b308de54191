package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// Payment is one attempt to collect an invoice.
type Payment struct {
	ID                      uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID               uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null;index"`
	Provider                string              `gorm:"column:provider;not null"`
	ProviderPaymentIntentID *string             `gorm:"column:provider_payment_intent_id"`
	Status                  enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	AmountCents             int64               `gorm:"column:amount_cents;not null"`
	Currency                string              `gorm:"column:currency;not null;default:'usd'"`
	ErrorCode               *string             `gorm:"column:error_code"`
	ErrorMessage            *string             `gorm:"column:error_message"`
	PaidAt                  *time.Time          `gorm:"column:paid_at"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
