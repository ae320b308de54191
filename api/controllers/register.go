package controllers

import (
	"net/http"

	"github.com/covercheck/covercheck-backend/api/responses"
	"github.com/covercheck/covercheck-backend/api/validators"
	"github.com/covercheck/covercheck-backend/internal/auth"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

// AuthRegister handles onboarding new accounts, optionally starting them
// on a plan, and logs the new user in.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body.FirstName = validators.SanitizeString(body.FirstName, 64)
		body.LastName = validators.SanitizeString(body.LastName, 64)

		result, err := reg.Register(r.Context(), body)
		if err != nil {
			if logg != nil {
				logg.Error(r.Context(), "register failed", err)
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		login, err := svc.Login(r.Context(), auth.LoginRequest{Email: body.Email, Password: body.Password})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("X-CC-Token", login.AccessToken)
		responses.WriteSuccess(w, map[string]any{
			"user":         login.User,
			"subscription": result.Subscription,
			"tokens": map[string]string{
				"access_token":  login.AccessToken,
				"refresh_token": login.RefreshToken,
			},
		})
	}
}
