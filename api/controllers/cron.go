package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/covercheck/covercheck-backend/api/responses"
	"github.com/covercheck/covercheck-backend/internal/renewal"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/logger"
)

type renewalRunner interface {
	Run(ctx context.Context, asOf time.Time) (*renewal.Summary, error)
}

// TriggerRenewals runs one renewal pass on demand and returns the summary.
// The route is guarded by the cron token middleware.
func TriggerRenewals(scheduler renewalRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewal scheduler unavailable"))
			return
		}
		summary, err := scheduler.Run(r.Context(), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "renewal pass"))
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
