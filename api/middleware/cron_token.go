package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/covercheck/covercheck-backend/api/responses"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

const cronTokenHeader = "X-Cron-Token"

// CronToken guards operational trigger endpoints with a shared secret.
// The comparison is constant time so the token cannot be probed byte
// by byte.
func CronToken(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cron trigger disabled"))
				return
			}
			provided := strings.TrimSpace(r.Header.Get(cronTokenHeader))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid cron token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
