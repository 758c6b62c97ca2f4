package handler

import (
	"net/http"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/service"
	"github.com/boddenberg/phase-lifecycle-go/internal/shopping"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Subscriber read model
// ============================================================

func progressHandler(svc *service.ProgressService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscribers/{subscriberId}/progress")
		defer span.End()

		subscriberID := chi.URLParam(r, "subscriberId")
		span.SetAttributes(attribute.String("subscriber.id", subscriberID))

		progress, err := svc.Progress(ctx, subscriberID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

func projectionHandler(svc *service.ProgressService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscribers/{subscriberId}/projection")
		defer span.End()

		subscriberID := chi.URLParam(r, "subscriberId")
		sessions, err := svc.Projection(ctx, subscriberID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subscriber_id": subscriberID,
			"sessions":      sessions,
		})
	}
}

func phasesHandler(svc *service.ProgressService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscribers/{subscriberId}/phases")
		defer span.End()

		views, err := svc.Phases(ctx, chi.URLParam(r, "subscriberId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func channelsHandler(svc *service.ProgressService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscribers/{subscriberId}/channels")
		defer span.End()

		channels, err := svc.Channels(ctx, chi.URLParam(r, "subscriberId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
	}
}

// ============================================================
// Shopping list
// ============================================================

func shoppingListHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/shopping-list")
		defer span.End()

		var req domain.ShoppingListRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("recipes.count", len(req.Recipes)))

		categories, err := shopping.Aggregate(req.Recipes)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ShoppingListResponse{Categories: categories})
	}
}
