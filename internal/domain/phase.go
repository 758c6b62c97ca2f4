// Package domain defines the core entities of the phase lifecycle engine.
// These models are independent of storage and transport and represent the
// canonical data structures used throughout the service.
package domain

import (
	"strings"
	"time"
)

// ============================================================
// Phases
// ============================================================

// PhaseType is one named stage of the coaching lifecycle.
type PhaseType string

const (
	PhaseDetox         PhaseType = "DETOX"
	PhaseDetoxVIP      PhaseType = "DETOX_VIP"
	PhaseEquilibre     PhaseType = "EQUILIBRE"
	PhaseConsolidation PhaseType = "CONSOLIDATION"
	PhaseEntretien     PhaseType = "ENTRETIEN"
)

// AllPhaseTypes lists the closed set of phase types in lifecycle order.
var AllPhaseTypes = []PhaseType{
	PhaseDetox,
	PhaseDetoxVIP,
	PhaseEquilibre,
	PhaseConsolidation,
	PhaseEntretien,
}

// ParsePhaseType accepts the canonical names, case-insensitively, plus the
// legacy "ECE" alias for EQUILIBRE.
func ParsePhaseType(s string) (PhaseType, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "ECE" {
		return PhaseEquilibre, nil
	}
	for _, p := range AllPhaseTypes {
		if string(p) == v {
			return p, nil
		}
	}
	return "", &ErrValidation{Field: "phase_type", Message: "unknown phase type '" + s + "'"}
}

// IsDetox reports whether p is one of the detox variants.
func (p PhaseType) IsDetox() bool {
	return p == PhaseDetox || p == PhaseDetoxVIP
}

// IsLoss reports whether p belongs to the weight-loss part of the program.
func (p PhaseType) IsLoss() bool {
	return p.IsDetox() || p == PhaseEquilibre
}

// PhaseStatus is the lifecycle state of a single phase record.
type PhaseStatus string

const (
	PhaseStatusPlanned   PhaseStatus = "planned"
	PhaseStatusActive    PhaseStatus = "active"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusCancelled PhaseStatus = "cancelled"
)

// PhaseRecord is one persisted phase of a subscriber's lifecycle.
// At most one record per subscriber is active at any time.
type PhaseRecord struct {
	ID               string      `json:"id"`
	SubscriberID     string      `json:"subscriber_id"`
	Type             PhaseType   `json:"type"`
	SessionNumber    int         `json:"session_number"`
	Status           PhaseStatus `json:"status"`
	StartDate        time.Time   `json:"start_date"`
	PlannedEndDate   time.Time   `json:"planned_end_date"`
	ActualEndDate    *time.Time  `json:"actual_end_date,omitempty"`
	IsManualOverride bool        `json:"is_manual_override"`
	AdminNote        string      `json:"admin_note,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// IsActive reports whether the record is the subscriber's current phase.
func (r *PhaseRecord) IsActive() bool {
	return r.Status == PhaseStatusActive
}

// IsPlanned reports whether the record lies in the future and was never started.
func (r *PhaseRecord) IsPlanned() bool {
	return r.Status == PhaseStatusPlanned
}

// EndDate returns the actual end date when set, the planned end date otherwise.
func (r *PhaseRecord) EndDate() time.Time {
	if r.ActualEndDate != nil {
		return *r.ActualEndDate
	}
	return r.PlannedEndDate
}

// ActivePhase returns the active record of history, or nil.
func ActivePhase(history []PhaseRecord) *PhaseRecord {
	for i := range history {
		if history[i].IsActive() {
			return &history[i]
		}
	}
	return nil
}

// ============================================================
// Subscribers
// ============================================================

// SubscriptionTier identifies a fixed-duration subscription plan.
type SubscriptionTier string

const (
	TierStandard3M  SubscriptionTier = "STANDARD_3M"
	TierStandard6M  SubscriptionTier = "STANDARD_6M"
	TierStandard12M SubscriptionTier = "STANDARD_12M"
	TierVIP3M       SubscriptionTier = "VIP_3M"
	TierVIP6M       SubscriptionTier = "VIP_6M"
	TierVIP12M      SubscriptionTier = "VIP_12M"
)

// Subscriber is a coached person with a subscription and a lifecycle.
type Subscriber struct {
	ID                string           `json:"id"`
	DisplayName       string           `json:"display_name,omitempty"`
	Tier              SubscriptionTier `json:"tier"`
	StartWeightKg     float64          `json:"start_weight_kg"`
	TargetWeightKg    float64          `json:"target_weight_kg"` // PISI
	HeightCm          float64          `json:"height_cm"`
	LatestWeightKg    *float64         `json:"latest_weight_kg,omitempty"`
	LatestWeighInAt   *time.Time       `json:"latest_weigh_in_at,omitempty"`
	PlanStartDate     *time.Time       `json:"plan_start_date,omitempty"`
	IsPhaseManual     bool             `json:"is_phase_manual"`
	ManualPhaseReason string           `json:"manual_phase_reason,omitempty"`
	CurrentPhaseID    string           `json:"current_phase_id,omitempty"`
	IsActive          bool             `json:"is_active"`
	Version           int64            `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// ProgramStart is the anchor of the blueprint: the plan start date when
// known, the account creation date otherwise.
func (s *Subscriber) ProgramStart() time.Time {
	if s.PlanStartDate != nil && !s.PlanStartDate.IsZero() {
		return *s.PlanStartDate
	}
	return s.CreatedAt
}

// CurrentWeight returns the latest weigh-in, falling back to the start weight.
func (s *Subscriber) CurrentWeight() float64 {
	if s.LatestWeightKg != nil {
		return *s.LatestWeightKg
	}
	return s.StartWeightKg
}

// ============================================================
// Notifications
// ============================================================

// NotificationCategory groups notifications for the delivery sink.
type NotificationCategory string

const (
	NotificationPhaseChange NotificationCategory = "phase_change"
	NotificationManualMode  NotificationCategory = "manual_mode"
)

// Notification is an outbox entry written alongside a phase change and
// drained to the notification sink after commit.
type Notification struct {
	ID           string               `json:"id"`
	SubscriberID string               `json:"subscriber_id"`
	Title        string               `json:"title"`
	Body         string               `json:"body"`
	Category     NotificationCategory `json:"category"`
	CreatedAt    time.Time            `json:"created_at"`
	DeliveredAt  *time.Time           `json:"delivered_at,omitempty"`
}
