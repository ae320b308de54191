package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/square"
)

// ProviderSquare is the provider label stored on subscriptions and payments.
const ProviderSquare = "square"

// ChargeParams describes one off-session charge against a vaulted card.
type ChargeParams struct {
	CustomerID     string
	CardID         string
	AmountCents    int64
	Currency       string
	Note           string
	ReferenceID    string
	IdempotencyKey string
}

// ChargeResult is the provider's verdict on a charge attempt.
type ChargeResult struct {
	ProviderPaymentID string
	Status            string
	Succeeded         bool
}

// RecurringBillingParams describes the provider-side subscription mirroring
// a local one. AmountCents and Interval restate the plan snapshot for
// providers that price server side; Square prices from the catalog
// variation instead.
type RecurringBillingParams struct {
	CustomerID      string
	CardID          string
	PlanVariationID string
	PlanName        string
	AmountCents     int64
	Currency        string
	Interval        enums.BillingInterval
	ReferenceID     string
}

// PaymentGateway is the subset of provider interactions the lifecycle,
// renewal, and reconciliation paths rely on.
type PaymentGateway interface {
	EnsureCustomer(ctx context.Context, user *models.User) (string, error)
	VaultCard(ctx context.Context, customerID, sourceID, cardholderName string) (string, error)
	CreateRecurringBilling(ctx context.Context, params RecurringBillingParams) (string, error)
	RecurringBillingStatus(ctx context.Context, providerSubscriptionID string) (enums.SubscriptionStatus, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
	Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error)
}

// NewSquareGateway wraps the shared pkg/square client.
func NewSquareGateway(client *square.Client) PaymentGateway {
	return &squareGateway{client: client}
}

type squareGateway struct {
	client *square.Client
}

func (g *squareGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("square client required")
	}
	if user == nil {
		return "", fmt.Errorf("user required")
	}
	if user.ProviderCustomerID != nil && strings.TrimSpace(*user.ProviderCustomerID) != "" {
		return *user.ProviderCustomerID, nil
	}

	cust, err := g.client.CreateCustomer(ctx, square.CustomerCreateParams{
		Email:       user.Email,
		GivenName:   user.FirstName,
		FamilyName:  user.LastName,
		ReferenceID: user.ID.String(),
	})
	if err != nil {
		return "", err
	}
	id := cust.GetID()
	if id == nil || *id == "" {
		return "", fmt.Errorf("square returned customer without id")
	}
	return *id, nil
}

func (g *squareGateway) VaultCard(ctx context.Context, customerID, sourceID, cardholderName string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("square client required")
	}
	card, err := g.client.CreateCard(ctx, square.CardCreateParams{
		CustomerID:     customerID,
		SourceID:       sourceID,
		CardholderName: cardholderName,
	})
	if err != nil {
		return "", err
	}
	id := card.GetID()
	if id == nil || *id == "" {
		return "", fmt.Errorf("square returned card without id")
	}
	return *id, nil
}

func (g *squareGateway) CreateRecurringBilling(ctx context.Context, params RecurringBillingParams) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("square client required")
	}
	if strings.TrimSpace(params.PlanVariationID) == "" {
		return "", fmt.Errorf("plan variation id required")
	}
	sub, err := g.client.CreateSubscription(ctx, square.SubscriptionCreateParams{
		LocationID:      g.client.LocationID(),
		PlanVariationID: params.PlanVariationID,
		CustomerID:      params.CustomerID,
		CardID:          params.CardID,
		IdempotencyKey:  fmt.Sprintf("enroll-%s", params.ReferenceID),
	})
	if err != nil {
		return "", err
	}
	id := sub.GetID()
	if id == nil || *id == "" {
		return "", fmt.Errorf("square returned subscription without id")
	}
	return *id, nil
}

func (g *squareGateway) RecurringBillingStatus(ctx context.Context, providerSubscriptionID string) (enums.SubscriptionStatus, error) {
	if g.client == nil {
		return "", fmt.Errorf("square client required")
	}
	sub, err := g.client.GetSubscription(ctx, providerSubscriptionID)
	if err != nil {
		return "", err
	}
	raw := ""
	if status := sub.GetStatus(); status != nil {
		raw = string(*status)
	}
	return statusFromProvider(raw), nil
}

func (g *squareGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	if g.client == nil {
		return fmt.Errorf("square client required")
	}
	_, err := g.client.CancelSubscription(ctx, providerSubscriptionID)
	return err
}

func (g *squareGateway) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	if g.client == nil {
		return nil, fmt.Errorf("square client required")
	}
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		LocationID:     g.client.LocationID(),
		CustomerID:     params.CustomerID,
		SourceID:       params.CardID,
		IdempotencyKey: params.IdempotencyKey,
		Note:           params.Note,
		ReferenceID:    params.ReferenceID,
	})
	if err != nil {
		return nil, err
	}

	result := &ChargeResult{}
	if id := payment.GetID(); id != nil {
		result.ProviderPaymentID = *id
	}
	if status := payment.GetStatus(); status != nil {
		result.Status = *status
		result.Succeeded = *status == "COMPLETED" || *status == "APPROVED"
	}
	return result, nil
}
