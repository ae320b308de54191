package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/covercheck/covercheck-backend/api/controllers"
	"github.com/covercheck/covercheck-backend/api/middleware"
	"github.com/covercheck/covercheck-backend/internal/auth"
	billingsvc "github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/internal/notifications"
	"github.com/covercheck/covercheck-backend/internal/plans"
	"github.com/covercheck/covercheck-backend/internal/renewal"
	subscriptionsvc "github.com/covercheck/covercheck-backend/internal/subscriptions"
	usagesvc "github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/internal/verifications"
	"github.com/covercheck/covercheck-backend/pkg/auth/session"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	pkgredis "github.com/covercheck/covercheck-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

type redisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type renewalRunner interface {
	Run(ctx context.Context, asOf time.Time) (*renewal.Summary, error)
}

// Deps collects everything the router wires into handlers.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	Redis         redisStore
	Sessions      sessionManager
	AuthService   auth.Service
	Register      auth.RegisterService
	Plans         plans.Service
	Subscriptions subscriptionsvc.Service
	Billing       billingsvc.Service
	Usage         usagesvc.Service
	Verifications verifications.Service
	Notifications notifications.Service
	Renewals      renewalRunner
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/plans", controllers.ListPublicPlans(deps.Plans, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.AuthLogin(deps.AuthService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, deps.Redis, logg)).Post("/register", controllers.AuthRegister(deps.Register, deps.AuthService, logg))
		r.Post("/logout", controllers.AuthLogout(deps.Sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Sessions, cfg.JWT, logg))
	})

	r.Route("/api/admin/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.AdminAuthLogin(deps.AuthService, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/billing", func(r chi.Router) {
			r.Get("/subscription", controllers.CurrentSubscription(deps.Billing, logg))
			r.Post("/subscriptions", controllers.Subscribe(deps.Subscriptions, logg))
			r.Post("/subscriptions/{subscriptionID}/cancel", controllers.CancelSubscription(deps.Subscriptions, logg))
			r.Post("/subscriptions/{subscriptionID}/switch", controllers.SwitchPlan(deps.Subscriptions, logg))
			r.Post("/subscriptions/{subscriptionID}/pause", controllers.PauseSubscription(deps.Subscriptions, logg))
			r.Post("/subscriptions/{subscriptionID}/resume", controllers.ResumeSubscription(deps.Subscriptions, logg))
			r.Get("/subscriptions/{subscriptionID}/history", controllers.SubscriptionHistory(deps.Billing, logg))
			r.Get("/invoices", controllers.ListInvoices(deps.Billing, logg))
			r.Get("/invoices/{invoiceID}", controllers.GetInvoice(deps.Billing, logg))
			r.Get("/usage", controllers.UsageSummary(deps.Subscriptions, deps.Usage, logg))
		})

		r.Post("/v1/verifications", controllers.VerifyLicense(deps.Subscriptions, deps.Verifications, logg))

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/v1/plans", func(r chi.Router) {
			r.Get("/", controllers.ListAllPlans(deps.Plans, logg))
			r.Post("/", controllers.CreatePlan(deps.Plans, logg))
			r.Get("/{planID}", controllers.GetPlan(deps.Plans, logg))
			r.Patch("/{planID}", controllers.UpdatePlan(deps.Plans, logg))
			r.Post("/{planID}/deactivate", controllers.DeactivatePlan(deps.Plans, logg))
		})
	})

	r.Route("/api/cron", func(r chi.Router) {
		r.Use(middleware.CronToken(cfg.Cron.TriggerToken, logg))
		r.Post("/v1/renewals/run", controllers.TriggerRenewals(deps.Renewals, logg))
	})

	return r
}
