package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// SubscriptionCreatedEvent signals a new subscription row, either from
// signup or a plan switch.
type SubscriptionCreatedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	PlanID         uuid.UUID                `json:"plan_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	PeriodStart    time.Time                `json:"period_start"`
	PeriodEnd      time.Time                `json:"period_end"`
}

// SubscriptionCanceledEvent is emitted when a subscription reaches its
// terminal state.
type SubscriptionCanceledEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	CanceledAt     time.Time `json:"canceled_at"`
	Reason         string    `json:"reason,omitempty"`
}

// SubscriptionPastDueEvent reports a failed renewal charge.
type SubscriptionPastDueEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	InvoiceID      uuid.UUID `json:"invoice_id"`
	AmountCents    int64     `json:"amount_cents"`
}

// SubscriptionRenewedEvent reports a successful renewal and the new window.
type SubscriptionRenewedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	InvoiceID      uuid.UUID `json:"invoice_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

// InvoiceIssuedEvent carries everything the notification worker needs to
// message the subscriber without re-reading billing tables.
type InvoiceIssuedEvent struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Number         string    `json:"number"`
	TotalCents     int64     `json:"total_cents"`
	Currency       string    `json:"currency"`
	DueAt          time.Time `json:"due_at"`
}

// InvoicePaidEvent is emitted once a payment settles an invoice.
type InvoicePaidEvent struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Number         string    `json:"number"`
	TotalCents     int64     `json:"total_cents"`
	PaidAt         time.Time `json:"paid_at"`
}

// PaymentFailedEvent surfaces a declined or errored charge attempt.
type PaymentFailedEvent struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	InvoiceID      uuid.UUID `json:"invoice_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	AmountCents    int64     `json:"amount_cents"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// UsageRecordedEvent mirrors one metered increment.
type UsageRecordedEvent struct {
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	Metric         enums.UsageMetric `json:"metric"`
	Used           int64             `json:"used"`
	PeriodStart    time.Time         `json:"period_start"`
	PeriodEnd      time.Time         `json:"period_end"`
}
