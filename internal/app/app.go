package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"signcast/internal/config"
	"signcast/internal/infrastructure"
	customMiddleware "signcast/internal/middleware"
	"signcast/internal/services"
	"signcast/internal/store"
	"signcast/internal/token"
	handlers "signcast/internal/transport/http"
	"signcast/pkg/contracts"
)

const AppName = "SignCast Licensing Service"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	DB            *gorm.DB
	Ledger        *store.AuditLedger
	Entitlements  services.EntitlementService
	Admin         services.AdminService
	OTelProviders *infrastructure.OTelProviders
	Logger        *slog.Logger
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version))

	otelProviders, err := infrastructure.InitializeOTel(contracts.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices wires the store, token codec and domain services
func (a *Application) initializeServices() error {
	db, err := store.Open(a.Config.Database, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db

	keys, err := token.NewKeyProvider(a.Config.Signing)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}
	codec := token.NewCodec(keys, a.Config.Entitlement.TokenTTL)

	licenses := store.NewLicenseRegistry(db, a.Logger)
	devices := store.NewDeviceRegistry(db, a.Logger)
	a.Ledger = store.NewAuditLedger(db, a.Logger)

	metrics, err := infrastructure.NewEntitlementMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Warn("entitlement metrics unavailable", slog.String("error", err.Error()))
	}

	a.Entitlements = services.NewEntitlementService(licenses, devices, a.Ledger, codec, a.Logger, metrics)
	a.Admin = services.NewAdminService(licenses, a.Ledger, a.Config.Admin.APIKey, a.Logger)

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Ordering: RequestID → RealIP → Logger → Recoverer → SecurityHeaders
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StripSlashes)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.ContentTypeJSON)
	r.Use(customMiddleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		healthHandler := handlers.NewHealthHandler(a.DB, a.Logger)
		r.Mount("/health", healthHandler.Routes())

		// Device-facing entitlement endpoints, rate-limited so a fleet
		// reconnecting after an outage cannot stampede the store.
		r.Group(func(r chi.Router) {
			if a.Config.Server.RateLimit.Enabled {
				limiter := customMiddleware.NewRateLimiter(
					a.Config.Server.RateLimit.RPS,
					a.Config.Server.RateLimit.Burst,
					a.Logger,
				)
				r.Use(limiter.Handler)
			}

			licenseHandler := handlers.NewLicenseHandler(a.Entitlements, a.Logger)
			r.Mount("/license", licenseHandler.Routes())
		})

		adminHandler := handlers.NewAdminHandler(a.Admin, a.Logger)
		r.Mount("/admin", adminHandler.Routes())
	})

	// Prometheus metrics endpoint outside the JSON middleware group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start starts the HTTP server in the supplied errgroup
func (a *Application) Start(ctx context.Context, g *errgroup.Group) {
	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", a.Server.Addr),
		slog.String("database", a.Config.Database.Driver),
		slog.String("level", a.Config.Logging.Level))

	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Drain pending audit writes before the process exits
	if a.Ledger != nil {
		a.Ledger.Close()
	}

	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	a.Start(gctx, g)

	g.Go(func() error {
		select {
		case sig := <-sigChan:
			a.Logger.InfoContext(ctx, "Received signal", slog.String("signal", sig.String()))
		case <-gctx.Done():
		}
		return a.Stop(context.Background())
	})

	return g.Wait()
}
