package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/trackline/platform/internal/adapters/legacy"
	"github.com/trackline/platform/internal/audit"
	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/lifecycle"
	"github.com/trackline/platform/internal/notification"
	"github.com/trackline/platform/internal/org"
	"github.com/trackline/platform/internal/project"
	"github.com/trackline/platform/internal/shared/auth"
	"github.com/trackline/platform/internal/shared/config"
	"github.com/trackline/platform/internal/shared/database"
	"github.com/trackline/platform/internal/shared/metrics"
	secmiddleware "github.com/trackline/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config    *config.Config
	DB        *database.DB
	AuditRepo audit.Repository
	Notifier  *notification.Service
	Legacy    *legacy.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	// Audit backend: KurrentDB when reachable, memory otherwise. The memory
	// fallback keeps local development working without the event store.
	app.AuditRepo = newAuditRepository(ctx, cfg.KurrentDB)
	auditSink := audit.NewSink(app.AuditRepo)

	// In-process notifications
	app.Notifier = notification.NewService(notification.NewLogProvider("NOTIFY"), notification.DefaultServiceConfig())
	if err := app.Notifier.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start notifier: %v\n", err)
		os.Exit(1)
	}
	defer app.Notifier.Stop()

	// Repositories and domain services
	orgRepo := org.NewRepository(db.Pool)
	projectRepo := project.NewRepository(db.Pool)

	resolver := authz.NewResolver(orgRepo, projectRepo)
	authorizer := authz.NewAuthorizer(resolver, orgRepo)
	promoter := authz.NewPromoter(orgRepo)
	cascader := lifecycle.NewCascader(projectRepo)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RateLimiter(100, 200))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		orgHandler := org.NewHandler(orgRepo, promoter, auditSink, app.Notifier)
		r.Mount("/org", orgHandler.Routes())

		projectHandler := project.NewHandler(projectRepo, authorizer, cascader, auditSink, app.Notifier)
		r.Mount("/", projectHandler.Routes())

		auditHandler := audit.NewHandler(app.AuditRepo)
		r.Mount("/audit", auditHandler.Routes())
	})

	// Legacy tracker import
	if cfg.Legacy.Enabled {
		app.Legacy = legacy.New(cfg.Legacy)
		if err := app.Legacy.Start(ctx); err != nil {
			fmt.Printf("Warning: legacy tracker adapter failed to start: %v\n", err)
			app.Legacy = nil
		} else {
			go consumeLegacyImports(ctx, app.Legacy)
			fmt.Printf("Legacy tracker adapter started (%s:%d)\n", cfg.Legacy.Host, cfg.Legacy.Port)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if app.Legacy != nil {
			if err := app.Legacy.Stop(shutdownCtx); err != nil {
				fmt.Printf("Legacy adapter shutdown error: %v\n", err)
			}
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Trackline Project Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("KurrentDB:      %s:%d\n", cfg.KurrentDB.Host, cfg.KurrentDB.Port)
	fmt.Printf("Legacy import:  %v\n", cfg.Legacy.Enabled)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

// newAuditRepository connects to KurrentDB, falling back to memory
func newAuditRepository(ctx context.Context, cfg config.KurrentDBConfig) audit.Repository {
	settings, err := esdb.ParseConnectionString(cfg.ConnectionString())
	if err != nil {
		fmt.Printf("Warning: invalid KurrentDB connection string: %v\n", err)
		return audit.NewMemoryRepository()
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		fmt.Printf("Warning: KurrentDB not available: %v\n", err)
		return audit.NewMemoryRepository()
	}

	repo := audit.NewKurrentDBRepository(client)
	if err := repo.Initialize(ctx); err != nil {
		fmt.Printf("Warning: audit stream initialization failed, using memory repository: %v\n", err)
		client.Close()
		return audit.NewMemoryRepository()
	}

	fmt.Println("Audit log connected to KurrentDB")
	return repo
}

// consumeLegacyImports drains the adapter channels. Imported rows are logged
// for operators to reconcile; automatic creation in the project tree needs an
// area mapping that the legacy tracker does not carry.
func consumeLegacyImports(ctx context.Context, adapter *legacy.Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-adapter.Projects():
			if !ok {
				return
			}
			log.Printf("legacy import: project %s (%s) archived=%v", p.LegacyID, p.Name, p.Archived)
		case t, ok := <-adapter.Tasks():
			if !ok {
				return
			}
			log.Printf("legacy import: task %s project=%s status=%s", t.LegacyID, t.LegacyProjectID, t.Status)
		}
	}
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Trackline Project Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if app.Legacy != nil {
			if err := app.Legacy.Health(r.Context()); err != nil {
				checks["legacy"] = "not ready: " + err.Error()
			} else {
				checks["legacy"] = "ready"
			}
		} else {
			checks["legacy"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
