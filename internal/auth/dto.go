package auth

import (
	"github.com/covercheck/covercheck-backend/internal/users"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
)

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse contains the tokens and user produced by a successful login.
type LoginResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	User         *users.UserDTO `json:"user"`
}

// RegisterResult returns the created account and, when a plan was chosen
// during signup, the subscription that was started.
type RegisterResult struct {
	User         *users.UserDTO       `json:"user"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}
