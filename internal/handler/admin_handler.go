package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxContentBytes bounds a phase content document.
const maxContentBytes = 1 << 20

// ============================================================
// Onboarding
// ============================================================

func registerHandler(svc *service.OnboardingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/subscribers")
		defer span.End()

		var req domain.RegisterSubscriberRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		sub, err := svc.Register(ctx, domain.Subscriber{
			ID:             req.ID,
			DisplayName:    req.DisplayName,
			Tier:           req.Tier,
			StartWeightKg:  req.StartWeightKg,
			TargetWeightKg: req.TargetWeightKg,
			HeightCm:       req.HeightCm,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("subscriber registered",
			zap.String("subscriber_id", sub.ID),
			zap.String("coach_id", CoachIDFromContext(ctx)),
		)
		writeJSON(w, http.StatusCreated, sub)
	}
}

func startProgramHandler(svc *service.OnboardingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/subscribers/{subscriberId}/program")
		defer span.End()

		subscriberID := chi.URLParam(r, "subscriberId")
		var req domain.StartProgramRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		phases, err := svc.StartProgram(ctx, subscriberID, req.StartDate)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ProgramStartedResponse{SubscriberID: subscriberID, Phases: phases})
	}
}

func weighInHandler(svc *service.OnboardingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/subscribers/{subscriberId}/weigh-ins")
		defer span.End()

		var req domain.WeighInRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		sub, err := svc.RecordWeighIn(ctx, chi.URLParam(r, "subscriberId"), req.WeightKg, req.MeasuredAt)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func grantChannelHandler(svc *service.OnboardingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/subscribers/{subscriberId}/channels/{channel}")
		defer span.End()

		var req domain.ChannelGrantRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		grant := domain.ChannelGrant{
			SubscriberID: chi.URLParam(r, "subscriberId"),
			Channel:      domain.Channel(chi.URLParam(r, "channel")),
			Active:       req.Active,
			GrantedBy:    CoachIDFromContext(ctx),
			ExpiresAt:    req.ExpiresAt,
		}
		if err := svc.GrantChannel(ctx, grant); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, grant)
	}
}

// ============================================================
// Manual override
// ============================================================

func enableManualModeHandler(svc *service.OverrideService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/subscribers/{subscriberId}/manual-mode")
		defer span.End()

		var req domain.ManualModeRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		sub, err := svc.EnableManualMode(ctx, chi.URLParam(r, "subscriberId"), req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func disableManualModeHandler(svc *service.OverrideService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/subscribers/{subscriberId}/manual-mode")
		defer span.End()

		sub, err := svc.DisableManualMode(ctx, chi.URLParam(r, "subscriberId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func forcePhaseHandler(svc *service.OverrideService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/subscribers/{subscriberId}/phase")
		defer span.End()

		var req domain.ForcePhaseRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("phase.requested", req.PhaseType))

		rec, err := svc.ForcePhase(ctx, chi.URLParam(r, "subscriberId"), domain.PhaseType(req.PhaseType), req.AdminNote)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("phase forced by coach",
			zap.String("subscriber_id", rec.SubscriberID),
			zap.String("phase", string(rec.Type)),
			zap.String("coach_id", CoachIDFromContext(ctx)),
		)
		writeJSON(w, http.StatusCreated, rec)
	}
}

// ============================================================
// Scheduler
// ============================================================

func runSchedulerHandler(svc *service.TransitionScheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/scheduler/run")
		defer span.End()

		report, err := svc.Run(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func schedulerStatsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/admin/scheduler/stats")
		defer span.End()

		writeJSON(w, http.StatusOK, metrics.SchedulerSnapshot())
	}
}

// ============================================================
// Phase content
// ============================================================

func putContentHandler(svc *service.ProgressService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/content/{phase}")
		defer span.End()

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxContentBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot read body")
			return
		}

		content, err := svc.PutContent(ctx, domain.PhaseType(chi.URLParam(r, "phase")), json.RawMessage(raw))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, content)
	}
}
