package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/covercheck/covercheck-backend/pkg/db/models"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func TestResolveQuota_SnapshotWins(t *testing.T) {
	sub := &models.Subscription{IncludedVerifications: int64Ptr(50)}
	plan := &models.Plan{VerificationsIncluded: int64Ptr(200)}

	quota := ResolveQuota(sub, plan)

	assert.False(t, quota.Unlimited)
	assert.Equal(t, int64(50), quota.Included)
}

func TestResolveQuota_PlanFallback(t *testing.T) {
	sub := &models.Subscription{}
	plan := &models.Plan{VerificationsIncluded: int64Ptr(200)}

	quota := ResolveQuota(sub, plan)

	assert.False(t, quota.Unlimited)
	assert.Equal(t, int64(200), quota.Included)
}

func TestResolveQuota_LegacyImageLimit(t *testing.T) {
	sub := &models.Subscription{}
	plan := &models.Plan{ImageLimit: int64Ptr(25)}

	quota := ResolveQuota(sub, plan)

	assert.False(t, quota.Unlimited)
	assert.Equal(t, int64(25), quota.Included)
}

func TestResolveQuota_ZeroImageLimitIsUnlimited(t *testing.T) {
	sub := &models.Subscription{}
	plan := &models.Plan{ImageLimit: int64Ptr(0)}

	quota := ResolveQuota(sub, plan)

	assert.True(t, quota.Unlimited)
}

func TestResolveQuota_AllNilIsUnlimited(t *testing.T) {
	quota := ResolveQuota(&models.Subscription{}, nil)

	assert.True(t, quota.Unlimited)
	assert.Equal(t, int64(-1), quota.Remaining(999))
	assert.False(t, quota.Exhausted(999))
	assert.Equal(t, int64(0), quota.Overage(999))
}

func TestQuota_RemainingFloorsAtZero(t *testing.T) {
	quota := Quota{Included: 10}

	assert.Equal(t, int64(10), quota.Remaining(0))
	assert.Equal(t, int64(1), quota.Remaining(9))
	assert.Equal(t, int64(0), quota.Remaining(10))
	assert.Equal(t, int64(0), quota.Remaining(15))
}

func TestQuota_Exhausted(t *testing.T) {
	quota := Quota{Included: 10}

	assert.False(t, quota.Exhausted(9))
	assert.True(t, quota.Exhausted(10))
	assert.True(t, quota.Exhausted(11))
}

func TestQuota_Overage(t *testing.T) {
	quota := Quota{Included: 10}

	assert.Equal(t, int64(0), quota.Overage(10))
	assert.Equal(t, int64(5), quota.Overage(15))
	assert.Equal(t, int64(0), quota.Overage(3))
}
