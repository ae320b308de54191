package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/covercheck/covercheck-backend/api/responses"
	"github.com/covercheck/covercheck-backend/api/validators"
	"github.com/covercheck/covercheck-backend/internal/plans"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

type planPayload struct {
	Name                     string           `json:"name" validate:"required"`
	Slug                     string           `json:"slug" validate:"required"`
	Description              *string          `json:"description,omitempty"`
	Price                    *decimal.Decimal `json:"price,omitempty"`
	Interval                 string           `json:"interval,omitempty"`
	VerificationsIncluded    *int64           `json:"verifications_included,omitempty"`
	OveragePricePerUnitCents *int64           `json:"overage_price_per_unit_cents,omitempty"`
	ProviderVariationID      *string          `json:"provider_variation_id,omitempty"`
	Features                 []string         `json:"features,omitempty"`
	SortOrder                int              `json:"sort_order,omitempty"`
	Visibility               string           `json:"visibility,omitempty"`
}

type planUpdatePayload struct {
	Name                     *string          `json:"name,omitempty"`
	Description              *string          `json:"description,omitempty"`
	Price                    *decimal.Decimal `json:"price,omitempty"`
	VerificationsIncluded    *int64           `json:"verifications_included,omitempty"`
	OveragePricePerUnitCents *int64           `json:"overage_price_per_unit_cents,omitempty"`
	ProviderVariationID      *string          `json:"provider_variation_id,omitempty"`
	Features                 []string         `json:"features,omitempty"`
	SortOrder                *int             `json:"sort_order,omitempty"`
	Visibility               *string          `json:"visibility,omitempty"`
	IsActive                 *bool            `json:"is_active,omitempty"`
}

// ListPublicPlans returns the storefront plan catalog.
func ListPublicPlans(svc plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plans service unavailable"))
			return
		}
		rows, err := svc.ListPublic(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"plans": rows})
	}
}

// ListAllPlans returns every plan, hidden and inactive included.
func ListAllPlans(svc plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plans service unavailable"))
			return
		}
		rows, err := svc.ListAll(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"plans": rows})
	}
}

// GetPlan resolves one plan by id.
func GetPlan(svc plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plans service unavailable"))
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "planID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}
		plan, err := svc.PlanByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

// CreatePlan adds a plan to the catalog.
func CreatePlan(svc plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plans service unavailable"))
			return
		}
		var body planPayload
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := plans.CreatePlanInput{
			Name:                     body.Name,
			Slug:                     body.Slug,
			Description:              body.Description,
			Price:                    body.Price,
			VerificationsIncluded:    body.VerificationsIncluded,
			OveragePricePerUnitCents: body.OveragePricePerUnitCents,
			ProviderVariationID:      body.ProviderVariationID,
			Features:                 body.Features,
			SortOrder:                body.SortOrder,
		}
		if body.Interval != "" {
			interval, err := enums.ParseBillingInterval(body.Interval)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid interval"))
				return
			}
			input.Interval = interval
		}
		if body.Visibility != "" {
			visibility, err := enums.ParsePlanVisibility(body.Visibility)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid visibility"))
				return
			}
			input.Visibility = visibility
		}

		plan, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, plan)
	}
}

// UpdatePlan edits catalog fields on one plan.
func UpdatePlan(svc plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plans service unavailable"))
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "planID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}
		var body planUpdatePayload
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := plans.UpdatePlanInput{
			Name:                     body.Name,
			Description:              body.Description,
			Price:                    body.Price,
			VerificationsIncluded:    body.VerificationsIncluded,
			OveragePricePerUnitCents: body.OveragePricePerUnitCents,
			ProviderVariationID:      body.ProviderVariationID,
			Features:                 body.Features,
			SortOrder:                body.SortOrder,
			IsActive:                 body.IsActive,
		}
		if body.Visibility != nil {
			visibility, err := enums.ParsePlanVisibility(*body.Visibility)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid visibility"))
				return
			}
			input.Visibility = &visibility
		}

		plan, err := svc.Update(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

// DeactivatePlan retires a plan from sale without touching live subscriptions.
func DeactivatePlan(svc plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plans service unavailable"))
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "planID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}
		plan, err := svc.Deactivate(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}
