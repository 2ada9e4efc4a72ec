// Package app wires the application together: configuration, logging,
// storage, the license domain, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gbtlicense/internal/benefits"
	"gbtlicense/internal/client"
	"gbtlicense/internal/config"
	"gbtlicense/internal/connector"
	"gbtlicense/internal/hostenv"
	"gbtlicense/internal/infrastructure"
	"gbtlicense/internal/license"
	custommw "gbtlicense/internal/middleware"
	"gbtlicense/internal/services"
	"gbtlicense/internal/store"
	handlers "gbtlicense/internal/transport/http"
)

// Version is the server version, overridable at build time with
// -ldflags "-X gbtlicense/internal/app.Version=...".
var Version = "dev"

// reverifyTick is how often the background loop asks the manager whether a
// re-verification is due. The manager applies the real 30-day gate; this
// only bounds how stale the gate check can get.
const reverifyTick = time.Hour

// Application is the dependency container for the license server.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Router  *chi.Mux
	Server  *http.Server
	Store   store.Store
	Manager *license.Manager
	Service services.LicenseService
	Gate    *custommw.LicenseGate

	metrics  *infrastructure.Metrics
	registry *prometheus.Registry
}

// New creates a fully wired application.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", Version),
		slog.String("theme_slug", cfg.License.ThemeSlug),
		slog.Bool("development", cfg.License.Development),
	)

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infrastructure.NewMetrics(registry)

	detector := hostenv.NewDetector(cfg.Host)
	fallback := client.NewFallback(cfg.Endpoints.RequestTimeout, logger, metrics)
	verifier := client.NewVerifier(fallback, cfg.VerificationURLs(), cfg.License.Development, logger)
	conn := connector.New(fallback, cfg.ServerURLs(), detector.Domain(), cfg.License.AdminEmail, cfg.License.ThemeSlug, cfg.License.Development, logger)

	manager := license.NewManager(st, verifier, conn, detector, cfg.License, logger, metrics)
	special := benefits.NewSpecialManager(fallback, cfg.Endpoints.SpecialLicense, st, logger)
	reviews := benefits.NewReviewChecker(fallback, cfg.Endpoints.BuyerReview, st, logger)
	gate := benefits.NewGate(cfg.Benefits, reviews, logger, metrics)

	app := &Application{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Manager:  manager,
		Service:  services.NewLicenseService(manager, special, reviews, gate, logger),
		Gate:     custommw.NewLicenseGate(manager, logger),
		metrics:  metrics,
		registry: registry,
	}
	app.Router = app.setupRouter()
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("using redis store", slog.String("addr", cfg.RedisAddr))
		return store.NewRedisStore(ctx, cfg)
	}
	logger.Info("using file store", slog.String("path", cfg.FilePath))
	return store.NewFileStore(cfg.FilePath)
}

func (a *Application) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.Trace)
	r.Use(custommw.RequestLogger(a.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(a.Gate.Handler)

	r.Get("/healthz", handlers.NewHealthHandler(Version).Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	licenseHandler := handlers.NewLicenseHandler(a.Service, a.Logger)
	benefitsHandler := handlers.NewBenefitsHandler(a.Service, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/license", func(r chi.Router) {
			r.Use(custommw.RateLimit(a.Config.Server.RateLimitRPS, a.Config.Server.RateLimitBurst))
			r.Use(a.invalidateGateAfterWrites)
			r.Mount("/", licenseHandler.Routes())
		})
		r.Mount("/benefits", benefitsHandler.Routes())
	})

	return r
}

// invalidateGateAfterWrites drops the license gate's cached decision once a
// state-changing license call finishes, so activation takes effect on the
// very next request.
func (a *Application) invalidateGateAfterWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if r.Method == http.MethodPost {
			a.Gate.Invalidate()
		}
	})
}

// Run starts the HTTP server and the background re-verification loop, and
// blocks until the context is cancelled or a termination signal arrives.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.reverifyLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return err
	}
	return nil
}

// reverifyLoop periodically offers the manager a chance to re-verify the
// stored license. The manager decides whether the check is actually due.
func (a *Application) reverifyLoop(ctx context.Context) {
	ticker := time.NewTicker(reverifyTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx := infrastructure.EnsureTraceID(ctx)
			if result := a.Service.MaybeReverify(tickCtx); result != nil {
				a.Logger.InfoContext(tickCtx, "periodic re-verification ran",
					slog.String("operation", "maybe_reverify"),
					slog.Bool("success", result.Success),
					slog.String("message", result.Message),
				)
			}
		}
	}
}
