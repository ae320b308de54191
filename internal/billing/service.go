package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/db/models"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/pagination"
)

// Service exposes the read side of billing: the caller's subscription,
// invoice history, and the audit trail.
type Service interface {
	CurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListInvoices(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Invoice, *pagination.Cursor, error)
	InvoiceByID(ctx context.Context, userID, invoiceID uuid.UUID) (*models.Invoice, error)
	History(ctx context.Context, userID, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error)
}

// ServiceParams wires the billing read service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and returns a billing read service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) CurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindActiveSubscriptionForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	return sub, nil
}

func (s *service) ListInvoices(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Invoice, *pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	invoices, next, err := s.repo.ListInvoices(ctx, ListInvoicesQuery{
		UserID: userID,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing invoices")
	}
	return invoices, next, nil
}

func (s *service) InvoiceByID(ctx context.Context, userID, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading invoice")
	}
	if invoice == nil || invoice.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) History(ctx context.Context, userID, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil || sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	events, err := s.repo.ListEventsBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing subscription events")
	}
	return events, nil
}
