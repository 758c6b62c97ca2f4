package domain

import "time"

// ============================================================
// Admin API requests
// ============================================================

// RegisterSubscriberRequest is the body for POST /v1/admin/subscribers.
type RegisterSubscriberRequest struct {
	ID             string           `json:"id"`
	DisplayName    string           `json:"display_name,omitempty"`
	Tier           SubscriptionTier `json:"tier"`
	StartWeightKg  float64          `json:"start_weight_kg"`
	TargetWeightKg float64          `json:"target_weight_kg"`
	HeightCm       float64          `json:"height_cm"`
}

// StartProgramRequest is the body for POST /v1/admin/subscribers/{id}/program.
// The program starts now when StartDate is omitted.
type StartProgramRequest struct {
	StartDate *time.Time `json:"start_date,omitempty"`
}

// WeighInRequest is the body for POST /v1/admin/subscribers/{id}/weigh-ins.
type WeighInRequest struct {
	WeightKg   float64    `json:"weight_kg"`
	MeasuredAt *time.Time `json:"measured_at,omitempty"`
}

// ManualModeRequest is the body for PUT /v1/admin/subscribers/{id}/manual-mode.
type ManualModeRequest struct {
	Reason string `json:"reason"`
}

// ForcePhaseRequest is the body for POST /v1/admin/subscribers/{id}/phase.
type ForcePhaseRequest struct {
	PhaseType string `json:"phase_type"`
	AdminNote string `json:"admin_note,omitempty"`
}

// ChannelGrantRequest is the body for PUT /v1/admin/subscribers/{id}/channels/{channel}.
type ChannelGrantRequest struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ProgramStartedResponse lists the phase records laid out by onboarding.
type ProgramStartedResponse struct {
	SubscriberID string        `json:"subscriber_id"`
	Phases       []PhaseRecord `json:"phases"`
}
