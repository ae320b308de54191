package enums

import "fmt"

// SubscriptionEventType labels entries in the append-only subscription
// event log.
type SubscriptionEventType string

const (
	SubscriptionEventCreated              SubscriptionEventType = "created"
	SubscriptionEventCanceled             SubscriptionEventType = "canceled"
	SubscriptionEventPaused               SubscriptionEventType = "paused"
	SubscriptionEventResumed              SubscriptionEventType = "resumed"
	SubscriptionEventPeriodRenewed        SubscriptionEventType = "period_renewed"
	SubscriptionEventInvoiceGenerated     SubscriptionEventType = "invoice_generated"
	SubscriptionEventPaymentSucceeded     SubscriptionEventType = "payment_succeeded"
	SubscriptionEventPaymentFailed        SubscriptionEventType = "payment_failed"
	SubscriptionEventUsageIncremented     SubscriptionEventType = "usage_incremented"
	SubscriptionEventReconciliationNeeded SubscriptionEventType = "reconciliation_needed"
)

var validSubscriptionEventTypes = []SubscriptionEventType{
	SubscriptionEventCreated,
	SubscriptionEventCanceled,
	SubscriptionEventPaused,
	SubscriptionEventResumed,
	SubscriptionEventPeriodRenewed,
	SubscriptionEventInvoiceGenerated,
	SubscriptionEventPaymentSucceeded,
	SubscriptionEventPaymentFailed,
	SubscriptionEventUsageIncremented,
	SubscriptionEventReconciliationNeeded,
}

// String implements fmt.Stringer.
func (s SubscriptionEventType) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SubscriptionEventType.
func (s SubscriptionEventType) IsValid() bool {
	for _, candidate := range validSubscriptionEventTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionEventType converts raw input into a SubscriptionEventType.
func ParseSubscriptionEventType(value string) (SubscriptionEventType, error) {
	for _, candidate := range validSubscriptionEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription event type %q", value)
}
