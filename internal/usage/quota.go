package usage

import (
	"github.com/covercheck/covercheck-backend/pkg/db/models"
)

// Quota is the resolved verification allowance for one subscription.
// Unlimited quotas never block admission and never produce overage.
type Quota struct {
	Unlimited bool
	Included  int64
}

// ResolveQuota walks the fallback chain: the subscription snapshot wins,
// then the plan's current allowance, then the legacy image_limit column.
// When every source is nil the quota is unlimited.
func ResolveQuota(sub *models.Subscription, plan *models.Plan) Quota {
	if sub != nil && sub.IncludedVerifications != nil {
		return Quota{Included: *sub.IncludedVerifications}
	}
	if plan != nil {
		if plan.VerificationsIncluded != nil {
			return Quota{Included: *plan.VerificationsIncluded}
		}
		if plan.ImageLimit != nil && *plan.ImageLimit > 0 {
			return Quota{Included: *plan.ImageLimit}
		}
	}
	return Quota{Unlimited: true}
}

// Remaining returns how many units are left; unlimited quotas report -1.
func (q Quota) Remaining(used int64) int64 {
	if q.Unlimited {
		return -1
	}
	remaining := q.Included - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether admission should be denied at the given count.
func (q Quota) Exhausted(used int64) bool {
	if q.Unlimited {
		return false
	}
	return used >= q.Included
}

// Overage returns the billable unit count above the included allowance.
func (q Quota) Overage(used int64) int64 {
	if q.Unlimited {
		return 0
	}
	over := used - q.Included
	if over < 0 {
		return 0
	}
	return over
}
