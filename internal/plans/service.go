package plans

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	dbpkg "github.com/covercheck/covercheck-backend/pkg/db"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

// CreatePlanInput carries the admin-supplied fields for a new plan.
type CreatePlanInput struct {
	Name                     string
	Slug                     string
	Description              *string
	Price                    *decimal.Decimal
	Interval                 enums.BillingInterval
	VerificationsIncluded    *int64
	OveragePricePerUnitCents *int64
	ProviderVariationID      *string
	Features                 []string
	SortOrder                int
	Visibility               enums.PlanVisibility
}

// UpdatePlanInput updates only the fields that are set.
type UpdatePlanInput struct {
	Name                     *string
	Description              *string
	Price                    *decimal.Decimal
	VerificationsIncluded    *int64
	OveragePricePerUnitCents *int64
	ProviderVariationID      *string
	Features                 []string
	SortOrder                *int
	Visibility               *enums.PlanVisibility
	IsActive                 *bool
}

// Service exposes the plan catalog: the public storefront list plus the
// admin-side CRUD.
type Service interface {
	ListPublic(ctx context.Context) ([]models.Plan, error)
	ListAll(ctx context.Context) ([]models.Plan, error)
	PlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	PlanBySlug(ctx context.Context, slug string) (*models.Plan, error)
	Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error)
	Update(ctx context.Context, id uuid.UUID, input UpdatePlanInput) (*models.Plan, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// ServiceParams wires the plan service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and returns the plan service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("plan repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) ListPublic(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.ListPublic(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing plans")
	}
	return plans, nil
}

func (s *service) ListAll(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing plans")
	}
	return plans, nil
}

func (s *service) PlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.repo.FindPlanByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *service) PlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	plan, err := s.repo.FindPlanBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *service) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	name := strings.TrimSpace(input.Name)
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan slug is required")
	}
	if input.Price != nil && input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan price cannot be negative")
	}
	if input.VerificationsIncluded != nil && *input.VerificationsIncluded < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "included verifications cannot be negative")
	}
	if input.OveragePricePerUnitCents != nil && *input.OveragePricePerUnitCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "overage price cannot be negative")
	}
	interval := input.Interval
	if interval == "" {
		interval = enums.BillingIntervalMonthly
	}
	if !interval.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing interval")
	}
	visibility := input.Visibility
	if visibility == "" {
		visibility = enums.PlanVisibilityPublic
	}
	if !visibility.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan visibility")
	}

	plan := &models.Plan{
		ID:                       uuid.New(),
		Name:                     name,
		Slug:                     slug,
		Description:              input.Description,
		Price:                    input.Price,
		Interval:                 interval,
		VerificationsIncluded:    input.VerificationsIncluded,
		OveragePricePerUnitCents: input.OveragePricePerUnitCents,
		ProviderVariationID:      input.ProviderVariationID,
		Features:                 pq.StringArray(input.Features),
		SortOrder:                input.SortOrder,
		Visibility:               visibility,
		IsActive:                 true,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("plan slug %q already exists", slug))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating plan")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"plan_id": plan.ID.String(), "slug": plan.Slug})
	s.logg.Info(logCtx, "plan created")
	return plan, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdatePlanInput) (*models.Plan, error) {
	plan, err := s.PlanByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name cannot be empty")
		}
		plan.Name = name
	}
	if input.Description != nil {
		plan.Description = input.Description
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan price cannot be negative")
		}
		plan.Price = input.Price
	}
	if input.VerificationsIncluded != nil {
		if *input.VerificationsIncluded < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "included verifications cannot be negative")
		}
		plan.VerificationsIncluded = input.VerificationsIncluded
	}
	if input.OveragePricePerUnitCents != nil {
		if *input.OveragePricePerUnitCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "overage price cannot be negative")
		}
		plan.OveragePricePerUnitCents = input.OveragePricePerUnitCents
	}
	if input.ProviderVariationID != nil {
		plan.ProviderVariationID = input.ProviderVariationID
	}
	if input.Features != nil {
		plan.Features = pq.StringArray(input.Features)
	}
	if input.SortOrder != nil {
		plan.SortOrder = *input.SortOrder
	}
	if input.Visibility != nil {
		if !input.Visibility.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan visibility")
		}
		plan.Visibility = *input.Visibility
	}
	if input.IsActive != nil {
		plan.IsActive = *input.IsActive
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating plan")
	}
	return plan, nil
}

// Deactivate retires a plan from sale. Existing subscriptions keep their
// snapshot pricing and are unaffected.
func (s *service) Deactivate(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.PlanByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return plan, nil
	}
	plan.IsActive = false
	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivating plan")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"plan_id": plan.ID.String()})
	s.logg.Info(logCtx, "plan deactivated")
	return plan, nil
}
