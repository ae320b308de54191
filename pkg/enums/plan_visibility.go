package enums

import "fmt"

// PlanVisibility controls whether a plan shows up in the public catalog.
type PlanVisibility string

const (
	PlanVisibilityPublic PlanVisibility = "public"
	PlanVisibilityHidden PlanVisibility = "hidden"
)

var validPlanVisibilities = []PlanVisibility{
	PlanVisibilityPublic,
	PlanVisibilityHidden,
}

// String implements fmt.Stringer.
func (p PlanVisibility) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanVisibility.
func (p PlanVisibility) IsValid() bool {
	for _, candidate := range validPlanVisibilities {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanVisibility converts raw input into a PlanVisibility.
func ParsePlanVisibility(value string) (PlanVisibility, error) {
	for _, candidate := range validPlanVisibilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan visibility %q", value)
}
