package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/covercheck/covercheck-backend/api/routes"
	"github.com/covercheck/covercheck-backend/internal/auth"
	billingsvc "github.com/covercheck/covercheck-backend/internal/billing"
	"github.com/covercheck/covercheck-backend/internal/notifications"
	"github.com/covercheck/covercheck-backend/internal/plans"
	"github.com/covercheck/covercheck-backend/internal/renewal"
	subscriptionsvc "github.com/covercheck/covercheck-backend/internal/subscriptions"
	usagesvc "github.com/covercheck/covercheck-backend/internal/usage"
	"github.com/covercheck/covercheck-backend/internal/users"
	"github.com/covercheck/covercheck-backend/internal/verifications"
	"github.com/covercheck/covercheck-backend/pkg/auth/session"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/db"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/migrate"
	"github.com/covercheck/covercheck-backend/pkg/outbox"
	"github.com/covercheck/covercheck-backend/pkg/redis"
	"github.com/covercheck/covercheck-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}
	gateway := subscriptionsvc.NewSquareGateway(squareClient)

	gormDB := dbClient.DB()
	usersRepo := users.NewRepository(gormDB)
	plansRepo := plans.NewRepository(gormDB)
	billingRepo := billingsvc.NewRepository(gormDB)
	usageRepo := usagesvc.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       usersRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	plansService, err := plans.NewService(plans.ServiceParams{
		Repo:   plansRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plans service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptionsvc.NewService(subscriptionsvc.ServiceParams{
		DB:      dbClient,
		Repo:    billingRepo,
		Usage:   usageRepo,
		Plans:   plansRepo,
		Users:   usersRepo,
		Gateway: gateway,
		Outbox:  outboxService,
		Logger:  logg,
		Billing: cfg.Billing,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		TxRunner:       dbClient,
		Subscriptions:  subscriptionsService,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}

	billingService, err := billingsvc.NewService(billingsvc.ServiceParams{
		Repo:   billingRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	usageService, err := usagesvc.NewService(usagesvc.ServiceParams{
		DB:          dbClient,
		Repo:        usageRepo,
		BillingRepo: billingRepo,
		Plans:       plansRepo,
		Outbox:      outboxService,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	verificationsService, err := verifications.NewService(verifications.ServiceParams{
		Usage:  usageService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create verifications service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	renewalGenerator, err := renewal.NewGenerator(renewal.GeneratorParams{
		DB:      dbClient,
		Repo:    billingRepo,
		Usage:   usageRepo,
		Users:   usersRepo,
		Gateway: gateway,
		Outbox:  outboxService,
		Logger:  logg,
		Billing: cfg.Billing,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal generator", err)
		os.Exit(1)
	}

	renewalScheduler, err := renewal.NewScheduler(renewal.SchedulerParams{
		Repo:      billingRepo,
		Generator: renewalGenerator,
		Logger:    logg,
		Billing:   cfg.Billing,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal scheduler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			Redis:         redisClient,
			Sessions:      sessionManager,
			AuthService:   authService,
			Register:      registerService,
			Plans:         plansService,
			Subscriptions: subscriptionsService,
			Billing:       billingService,
			Usage:         usageService,
			Verifications: verificationsService,
			Notifications: notificationsService,
			Renewals:      renewalScheduler,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
