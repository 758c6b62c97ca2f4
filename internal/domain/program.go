package domain

import "time"

// ============================================================
// Projection
// ============================================================

// SessionKind distinguishes weight-loss sessions from the stabilisation block.
type SessionKind string

const (
	SessionLoss          SessionKind = "LOSS"
	SessionConsolidation SessionKind = "CONSOLIDATION"
)

// PhaseWindow is a dated phase inside a projected session.
type PhaseWindow struct {
	Type      PhaseType `json:"type"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// SessionPlan is a computed, never persisted, block of the projected journey.
type SessionPlan struct {
	Number                 int           `json:"number"`
	Kind                   SessionKind   `json:"kind"`
	StartDate              time.Time     `json:"start_date"`
	EndDate                time.Time     `json:"end_date"`
	TargetLossKg           float64       `json:"target_loss_kg"`
	ProjectedStartWeightKg float64       `json:"projected_start_weight_kg"`
	ProjectedEndWeightKg   float64       `json:"projected_end_weight_kg"`
	ProjectedBMI           float64       `json:"projected_bmi"`
	Phases                 []PhaseWindow `json:"phases,omitempty"`
}

// ============================================================
// Scheduler
// ============================================================

// RunReport summarises one Transition Scheduler run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Cancelled  bool      `json:"cancelled,omitempty"`
}

// ============================================================
// Progress (read path)
// ============================================================

// Progress is everything the subscriber-facing read path renders.
type Progress struct {
	SubscriberID string           `json:"subscriber_id"`
	Tier         SubscriptionTier `json:"tier"`
	Sessions     []SessionPlan    `json:"sessions"`
	Phases       PhaseViews       `json:"phases"`
	Channels     []ChannelAccess  `json:"channels"`
	Content      []PhaseContent   `json:"content,omitempty"`
	ManualMode   bool             `json:"manual_mode"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// SchedulerStats is the cumulative view of scheduler activity since start.
type SchedulerStats struct {
	Runs               int64   `json:"runs"`
	AbortedRuns        int64   `json:"aborted_runs"`
	Updated            int64   `json:"updated"`
	Skipped            int64   `json:"skipped"`
	Failed             int64   `json:"failed"`
	FailureRate        float64 `json:"failure_rate"`
	NotificationsSent  int64   `json:"notifications_sent"`
	NotificationErrors int64   `json:"notification_errors"`
	ProjectionHitRate  float64 `json:"projection_hit_rate"`
}
