package verifications

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

// Input describes one verification request.
type Input struct {
	LicenseNumber string `json:"license_number" validate:"required"`
	State         string `json:"state" validate:"required"`
	LicenseType   string `json:"license_type,omitempty"`
}

// Result is the outcome of one metered verification.
type Result struct {
	RequestID     uuid.UUID      `json:"request_id"`
	LicenseNumber string         `json:"license_number"`
	State         string         `json:"state"`
	LicenseType   string         `json:"license_type,omitempty"`
	Status        string         `json:"status"`
	CheckedAt     time.Time      `json:"checked_at"`
	Usage         *usage.Summary `json:"usage,omitempty"`
}

const (
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

// meter is the slice of the usage service the pipeline needs.
type meter interface {
	CheckAdmission(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric) error
	RecordUsage(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric, actorUserID *uuid.UUID) (*models.SubscriptionUsage, error)
	CurrentSummary(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric) (*usage.Summary, error)
}

// Service runs the metered verification pipeline: admission check, the
// verification itself, then the usage increment. Rejected lookups still
// consume quota; the work was done either way.
type Service interface {
	Verify(ctx context.Context, sub *models.Subscription, input Input) (*Result, error)
}

// ServiceParams wires the verification service.
type ServiceParams struct {
	Usage  meter
	Logger *logger.Logger
}

type service struct {
	usage meter
	logg  *logger.Logger
}

// NewService validates dependencies and returns the service.
func NewService(params ServiceParams) (Service, error) {
	if params.Usage == nil {
		return nil, fmt.Errorf("usage service is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{usage: params.Usage, logg: params.Logger}, nil
}

var (
	licenseNumberPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{3,18}[A-Z0-9]$`)
	statePattern         = regexp.MustCompile(`^[A-Z]{2}$`)
)

func (s *service) Verify(ctx context.Context, sub *models.Subscription, input Input) (*Result, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no active subscription")
	}

	license := strings.ToUpper(strings.TrimSpace(input.LicenseNumber))
	state := strings.ToUpper(strings.TrimSpace(input.State))
	if license == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license_number is required")
	}
	if !statePattern.MatchString(state) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "state must be a two-letter code")
	}

	if err := s.usage.CheckAdmission(ctx, sub, enums.MetricVerifications); err != nil {
		return nil, err
	}

	result := &Result{
		RequestID:     uuid.New(),
		LicenseNumber: license,
		State:         state,
		LicenseType:   strings.TrimSpace(input.LicenseType),
		Status:        StatusVerified,
		CheckedAt:     time.Now().UTC(),
	}
	if !licenseNumberPattern.MatchString(license) {
		result.Status = StatusRejected
	}

	if _, err := s.usage.RecordUsage(ctx, sub, enums.MetricVerifications, &sub.UserID); err != nil {
		return nil, err
	}

	summary, err := s.usage.CurrentSummary(ctx, sub, enums.MetricVerifications)
	if err != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
		s.logg.Error(logCtx, "usage summary unavailable after verification", err)
	} else {
		result.Usage = summary
	}

	return result, nil
}
