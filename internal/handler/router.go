package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services groups what the HTTP surface calls into. A nil Store reports the
// storage dependency as unhealthy.
type Services struct {
	Store      port.PhaseStore
	Scheduler  *service.TransitionScheduler
	Override   *service.OverrideService
	Onboarding *service.OnboardingService
	Progress   *service.ProgressService
}

// NewRouter creates the HTTP router with all routes and middleware.
// Admin routes require a coach token signed with jwtSecret.
func NewRouter(svc Services, jwtSecret string, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Store))
	r.Get("/readyz", readyzHandler(svc.Store))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Subscriber read model
		// =============================================
		r.Get("/subscribers/{subscriberId}/progress", progressHandler(svc.Progress, logger))
		r.Get("/subscribers/{subscriberId}/projection", projectionHandler(svc.Progress, logger))
		r.Get("/subscribers/{subscriberId}/phases", phasesHandler(svc.Progress, logger))
		r.Get("/subscribers/{subscriberId}/channels", channelsHandler(svc.Progress, logger))

		// =============================================
		// 2. Shopping list
		// =============================================
		r.Post("/shopping-list", shoppingListHandler(logger))

		// =============================================
		// 3. Coach administration (JWT, coach or admin role)
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(CoachAuthMiddleware(jwtSecret, logger))

			r.Post("/subscribers", registerHandler(svc.Onboarding, logger))
			r.Post("/subscribers/{subscriberId}/program", startProgramHandler(svc.Onboarding, logger))
			r.Post("/subscribers/{subscriberId}/weigh-ins", weighInHandler(svc.Onboarding, logger))
			r.Put("/subscribers/{subscriberId}/channels/{channel}", grantChannelHandler(svc.Onboarding, logger))

			r.Put("/subscribers/{subscriberId}/manual-mode", enableManualModeHandler(svc.Override, logger))
			r.Delete("/subscribers/{subscriberId}/manual-mode", disableManualModeHandler(svc.Override, logger))
			r.Post("/subscribers/{subscriberId}/phase", forcePhaseHandler(svc.Override, logger))

			r.Post("/scheduler/run", runSchedulerHandler(svc.Scheduler, logger))
			r.Get("/scheduler/stats", schedulerStatsHandler(metrics))

			r.Put("/content/{phase}", putContentHandler(svc.Progress, logger))
		})
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(store port.PhaseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "phase-lifecycle", Status: "healthy", LastChecked: now},
		}

		storage := domain.ServiceHealth{Name: "storage", Status: "unhealthy", LastChecked: now}
		if store != nil {
			start := time.Now()
			err := store.Ping(r.Context())
			storage.LatencyMs = time.Since(start).Milliseconds()
			storage.Status = "healthy"
			if err != nil {
				storage.Status = "degraded"
			}
		}
		services = append(services, storage)

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(store port.PhaseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "storage not configured")
			return
		}
		if err := store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
