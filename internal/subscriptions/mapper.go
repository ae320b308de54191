package subscriptions

import (
	"time"

	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/money"
)

// nextPeriodEnd computes the exclusive end of a billing window starting at
// the given instant. Calendar months, not fixed 30-day blocks, so a window
// opened January 31st closes March 3rd per Go's date normalization.
func nextPeriodEnd(start time.Time, interval enums.BillingInterval) time.Time {
	if interval == enums.BillingIntervalAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// snapshotEconomics copies the plan's pricing onto the subscription so
// later catalog edits never change what an existing subscriber pays.
func snapshotEconomics(sub *models.Subscription, plan *models.Plan, currency string) {
	sub.Currency = money.NormalizeCurrency(currency)
	sub.PriceMonthlyCents = money.CentsFromDecimalPtr(plan.Price)
	if plan.VerificationsIncluded != nil {
		included := *plan.VerificationsIncluded
		sub.IncludedVerifications = &included
	}
	if plan.OveragePricePerUnitCents != nil {
		overage := *plan.OveragePricePerUnitCents
		sub.OveragePricePerUnitCents = &overage
	}
}

// statusFromProvider maps Square subscription statuses onto our state
// machine. Unknown statuses map to incomplete rather than guessing.
func statusFromProvider(status string) enums.SubscriptionStatus {
	switch status {
	case "ACTIVE":
		return enums.SubscriptionStatusActive
	case "CANCELED", "DEACTIVATED":
		return enums.SubscriptionStatusCanceled
	case "PAUSED":
		return enums.SubscriptionStatusPaused
	case "PENDING":
		return enums.SubscriptionStatusIncomplete
	default:
		return enums.SubscriptionStatusIncomplete
	}
}
