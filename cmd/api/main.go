// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dangerclosesec/strategist"
	"github.com/dangerclosesec/strategist/internal/agent"
	"github.com/dangerclosesec/strategist/internal/auth"
	"github.com/dangerclosesec/strategist/internal/config"
	"github.com/dangerclosesec/strategist/internal/database"
	"github.com/dangerclosesec/strategist/internal/email"
	"github.com/dangerclosesec/strategist/internal/email/mailer"
	"github.com/dangerclosesec/strategist/internal/handler"
	"github.com/dangerclosesec/strategist/internal/middleware"
	"github.com/dangerclosesec/strategist/internal/observability"
	"github.com/dangerclosesec/strategist/internal/orchestrator"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     parseLevel(cfg.Log.Level),
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   a.Key,
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	// Initialize metrics
	telemetry, err := observability.Setup(cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("setting up metrics: %w", err)
	}
	defer telemetry.Shutdown(context.Background())
	metrics := telemetry.Metrics

	// Initialize database
	db, mode, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("setting up database: %w", err)
	}
	defer database.Close(db)
	logger.Info("database ready", "driver", cfg.Database.Driver, "row_policy", mode)

	// Initialize repositories
	store := repository.NewStore(db, mode)
	directory := repository.NewDirectory(db, mode)
	securityEvents := repository.NewSecurityEventRepository(db)

	// Initialize auth services
	passwordHasher, err := auth.NewPasswordHasher(cfg.PasswordParams())
	if err != nil {
		return fmt.Errorf("setting up password hashing: %w", err)
	}
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpiryPeriod)

	// Initialize email service
	var sender mailer.Sender
	if cfg.Notify.Provider != "none" {
		emailService, err := email.NewEmailService(cfg, email.Provider(cfg.Notify.Provider))
		if err != nil {
			return fmt.Errorf("setting up email: %w", err)
		}
		sender = emailService
	}

	// Initialize agents
	catalog, err := agent.LoadCatalog(cfg.Agents.CatalogPath, strategist.DefaultAgentCatalog)
	if err != nil {
		return err
	}
	worker, err := newWorker(cfg, logger)
	if err != nil {
		return err
	}

	auditService := service.NewSecurityAuditService(securityEvents, logger)

	var notifier orchestrator.Notifier = orchestrator.NoopNotifier{}
	if sender != nil {
		notifier = service.NewAnalysisNotifier(sender, cfg.BaseURL, logger)
	}

	// Initialize orchestrator
	runner := orchestrator.NewRunner(store, worker, catalog, notifier, auditService, metrics, logger)
	runner.SetConcurrency(cfg.Agents.Concurrency)

	dispatcher := orchestrator.NewDispatcher(runner, orchestrator.DispatcherConfig{
		QueueSize: cfg.Worker.QueueSize,
		Workers:   cfg.Worker.Count,
	}, logger)
	dispatcher.Start()

	if err := telemetry.ObserveQueueDepth(func() int64 {
		return int64(dispatcher.QueueDepth())
	}); err != nil {
		return fmt.Errorf("registering queue depth gauge: %w", err)
	}

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	recovery := orchestrator.NewRecovery(directory, store, dispatcher, orchestrator.RecoveryConfig{
		Interval:   cfg.Worker.RecoveryInterval,
		StaleAfter: cfg.Worker.StaleAfter,
	}, logger)
	recovery.Start(backgroundCtx)

	retention := service.NewRetentionService(directory, store, cfg.Retention.Interval, logger)
	retention.SetBatchSize(cfg.Retention.BatchSize)
	retention.Start()

	// Initialize services
	analysisService := service.NewAnalysisService(store, catalog, dispatcher, metrics, logger)
	orgService := service.NewOrganizationService(store, directory, passwordHasher, tokenManager, sender, cfg.BaseURL, logger)

	// Initialize handlers
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	orgHandler := handler.NewOrganizationHandler(orgService)

	// Create router
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger, metrics))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if telemetry.Enabled() {
		r.Handle("/metrics", telemetry.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Route("/auth", func(r chi.Router) {
			r.Use(chimw.AllowContentType("application/json"))

			r.Post("/register", orgHandler.Register)
			r.Post("/login", orgHandler.Login)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.TenantAuth(tokenManager, directory, store, auditService, logger))

			r.Get("/agents", analysisHandler.Agents)
			r.Get("/usage", analysisHandler.Usage)
			r.Get("/organization", orgHandler.Current)

			r.Route("/analyses", func(r chi.Router) {
				r.Get("/", analysisHandler.List)
				r.With(chimw.AllowContentType("application/json")).Post("/", analysisHandler.Submit)
				r.Get("/{id}", analysisHandler.Get)
				r.Get("/{id}/outputs", analysisHandler.Outputs)
				r.Get("/{id}/export", analysisHandler.Export)
				r.Post("/{id}/cancel", analysisHandler.Cancel)
				r.With(middleware.RequireManager).Delete("/{id}", analysisHandler.Delete)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", orgHandler.ListUsers)
				r.With(middleware.RequireManager, chimw.AllowContentType("application/json")).Post("/", orgHandler.AddUser)
				r.With(middleware.RequireManager).Post("/{id}/deactivate", orgHandler.DeactivateUser)
			})
		})
	})

	// Create server
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Server error channel
	serverErrors := make(chan error, 1)

	// Start server
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	// Shutdown channel
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown or error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown started", "signal", sig)

		// Give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			// If shutdown times out, forcefully close
			srv.Close()
			logger.Error("could not stop server gracefully", "error", err)
		}

		recovery.Stop()
		retention.Stop()

		if err := dispatcher.Stop(ctx); err != nil {
			logger.Warn("analyses still running at shutdown were aborted", "error", err)
		}
	}

	return nil
}

func newWorker(cfg *config.Config, logger *slog.Logger) (agent.Worker, error) {
	if cfg.Agents.ServiceURL == "" {
		logger.Warn("AGENT_SERVICE_URL not set, using the local echo worker")
		return agent.EchoWorker{}, nil
	}
	return agent.NewHTTPWorker(&agent.Config{
		BaseURL: cfg.Agents.ServiceURL,
		APIKey:  cfg.Agents.APIKey,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
