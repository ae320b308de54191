package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercheck/covercheck-backend/internal/subscriptions"
	"github.com/covercheck/covercheck-backend/internal/users"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/db"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/security"
)

// RegisterRequest contains the payload required to open a new account.
// PlanID and CardSourceID are optional: when present the account starts
// on that plan immediately.
type RegisterRequest struct {
	FirstName    string     `json:"first_name" validate:"required"`
	LastName     string     `json:"last_name" validate:"required"`
	Email        string     `json:"email" validate:"required,email"`
	Password     string     `json:"password" validate:"required"`
	Phone        *string    `json:"phone,omitempty"`
	PlanID       *uuid.UUID `json:"plan_id,omitempty"`
	CardSourceID *string    `json:"card_source_id,omitempty"`
	AcceptTOS    bool       `json:"accept_tos"`
}

// RegisterService handles account onboarding.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
}

type registerTxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type registerUserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type subscriptionStarter interface {
	Create(ctx context.Context, input subscriptions.CreateInput) (*models.Subscription, error)
}

// RegisterServiceParams packages the dependencies for the registration flow.
// Subscriptions may be nil when signup-with-plan is disabled. UserRepoFactory
// defaults to the GORM-backed repository.
type RegisterServiceParams struct {
	TxRunner        registerTxRunner
	UserRepoFactory func(tx *gorm.DB) registerUserRepository
	Subscriptions   subscriptionStarter
	PasswordConfig  config.PasswordConfig
}

type registerService struct {
	tx            registerTxRunner
	userRepo      func(tx *gorm.DB) registerUserRepository
	subscriptions subscriptionStarter
	passwordCfg   config.PasswordConfig
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	userRepo := params.UserRepoFactory
	if userRepo == nil {
		userRepo = func(tx *gorm.DB) registerUserRepository {
			return users.NewRepository(tx)
		}
	}
	return &registerService{
		tx:            params.TxRunner,
		userRepo:      userRepo,
		subscriptions: params.Subscriptions,
		passwordCfg:   params.PasswordConfig,
	}, nil
}

func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if !req.AcceptTOS {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "accept_tos must be true")
	}
	if req.PlanID != nil && s.subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signup with a plan is not available")
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        req.Phone,
		Role:         enums.UserRoleCustomer,
		IsActive:     true,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.userRepo(tx)

		existing, err := repo.FindByEmail(ctx, email)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}

		if err := repo.Create(ctx, user); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &RegisterResult{User: users.FromModel(user)}
	if req.PlanID == nil {
		return result, nil
	}

	// Subscription creation runs outside the user transaction: it talks to
	// the payment provider and manages its own transactional boundary. A
	// failed signup-with-plan leaves a valid account the user can finish
	// from the billing page.
	sub, err := s.subscriptions.Create(ctx, subscriptions.CreateInput{
		UserID:       user.ID,
		PlanID:       *req.PlanID,
		CardSourceID: req.CardSourceID,
	})
	if err != nil {
		return result, err
	}
	result.Subscription = sub
	return result, nil
}
