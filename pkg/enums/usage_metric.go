package enums

import "fmt"

// UsageMetric names a metered counter tracked per billing period.
type UsageMetric string

const (
	MetricVerifications UsageMetric = "verifications"
)

var validUsageMetrics = []UsageMetric{
	MetricVerifications,
}

// String implements fmt.Stringer.
func (u UsageMetric) String() string {
	return string(u)
}

// IsValid reports whether the value is a known UsageMetric.
func (u UsageMetric) IsValid() bool {
	for _, candidate := range validUsageMetrics {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUsageMetric converts raw input into a UsageMetric.
func ParseUsageMetric(value string) (UsageMetric, error) {
	for _, candidate := range validUsageMetrics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage metric %q", value)
}
