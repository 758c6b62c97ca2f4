package mongo

import (
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	subscribersCollection   = "subscribers"
	phasesCollection        = "phase_records"
	grantsCollection        = "channel_grants"
	contentCollection       = "phase_content"
	notificationsCollection = "notifications_outbox"
)

type subscriberDoc struct {
	ID                string     `bson:"_id"`
	DisplayName       string     `bson:"displayName,omitempty"`
	Tier              string     `bson:"tier"`
	StartWeightKg     float64    `bson:"startWeightKg"`
	TargetWeightKg    float64    `bson:"targetWeightKg"`
	HeightCm          float64    `bson:"heightCm"`
	LatestWeightKg    *float64   `bson:"latestWeightKg,omitempty"`
	LatestWeighInAt   *time.Time `bson:"latestWeighInAt,omitempty"`
	PlanStartDate     *time.Time `bson:"planStartDate,omitempty"`
	IsPhaseManual     bool       `bson:"isPhaseManual"`
	ManualPhaseReason string     `bson:"manualPhaseReason,omitempty"`
	CurrentPhaseID    string     `bson:"currentPhaseId,omitempty"`
	IsActive          bool       `bson:"isActive"`
	Version           int64      `bson:"version"`
	CreatedAt         time.Time  `bson:"createdAt"`
	UpdatedAt         time.Time  `bson:"updatedAt"`
}

func toSubscriberDoc(s *domain.Subscriber) subscriberDoc {
	return subscriberDoc{
		ID:                s.ID,
		DisplayName:       s.DisplayName,
		Tier:              string(s.Tier),
		StartWeightKg:     s.StartWeightKg,
		TargetWeightKg:    s.TargetWeightKg,
		HeightCm:          s.HeightCm,
		LatestWeightKg:    s.LatestWeightKg,
		LatestWeighInAt:   s.LatestWeighInAt,
		PlanStartDate:     s.PlanStartDate,
		IsPhaseManual:     s.IsPhaseManual,
		ManualPhaseReason: s.ManualPhaseReason,
		CurrentPhaseID:    s.CurrentPhaseID,
		IsActive:          s.IsActive,
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func (d subscriberDoc) toDomain() *domain.Subscriber {
	return &domain.Subscriber{
		ID:                d.ID,
		DisplayName:       d.DisplayName,
		Tier:              domain.SubscriptionTier(d.Tier),
		StartWeightKg:     d.StartWeightKg,
		TargetWeightKg:    d.TargetWeightKg,
		HeightCm:          d.HeightCm,
		LatestWeightKg:    d.LatestWeightKg,
		LatestWeighInAt:   utcPtr(d.LatestWeighInAt),
		PlanStartDate:     utcPtr(d.PlanStartDate),
		IsPhaseManual:     d.IsPhaseManual,
		ManualPhaseReason: d.ManualPhaseReason,
		CurrentPhaseID:    d.CurrentPhaseID,
		IsActive:          d.IsActive,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

type phaseDoc struct {
	ID               string     `bson:"_id"`
	SubscriberID     string     `bson:"subscriberId"`
	Type             string     `bson:"type"`
	SessionNumber    int        `bson:"sessionNumber"`
	Status           string     `bson:"status"`
	StartDate        time.Time  `bson:"startDate"`
	PlannedEndDate   time.Time  `bson:"plannedEndDate"`
	ActualEndDate    *time.Time `bson:"actualEndDate,omitempty"`
	IsManualOverride bool       `bson:"isManualOverride"`
	AdminNote        string     `bson:"adminNote,omitempty"`
	CreatedAt        time.Time  `bson:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt"`
}

func toPhaseDoc(r domain.PhaseRecord) phaseDoc {
	return phaseDoc{
		ID:               r.ID,
		SubscriberID:     r.SubscriberID,
		Type:             string(r.Type),
		SessionNumber:    r.SessionNumber,
		Status:           string(r.Status),
		StartDate:        r.StartDate,
		PlannedEndDate:   r.PlannedEndDate,
		ActualEndDate:    r.ActualEndDate,
		IsManualOverride: r.IsManualOverride,
		AdminNote:        r.AdminNote,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (d phaseDoc) toDomain() domain.PhaseRecord {
	return domain.PhaseRecord{
		ID:               d.ID,
		SubscriberID:     d.SubscriberID,
		Type:             domain.PhaseType(d.Type),
		SessionNumber:    d.SessionNumber,
		Status:           domain.PhaseStatus(d.Status),
		StartDate:        d.StartDate.UTC(),
		PlannedEndDate:   d.PlannedEndDate.UTC(),
		ActualEndDate:    utcPtr(d.ActualEndDate),
		IsManualOverride: d.IsManualOverride,
		AdminNote:        d.AdminNote,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

type grantDoc struct {
	ID           string     `bson:"_id"`
	SubscriberID string     `bson:"subscriberId"`
	Channel      string     `bson:"channel"`
	Active       bool       `bson:"active"`
	GrantedBy    string     `bson:"grantedBy,omitempty"`
	ExpiresAt    *time.Time `bson:"expiresAt,omitempty"`
}

func toGrantDoc(g domain.ChannelGrant) grantDoc {
	return grantDoc{
		ID:           g.SubscriberID + "/" + string(g.Channel),
		SubscriberID: g.SubscriberID,
		Channel:      string(g.Channel),
		Active:       g.Active,
		GrantedBy:    g.GrantedBy,
		ExpiresAt:    g.ExpiresAt,
	}
}

func (d grantDoc) toDomain() domain.ChannelGrant {
	return domain.ChannelGrant{
		SubscriberID: d.SubscriberID,
		Channel:      domain.Channel(d.Channel),
		Active:       d.Active,
		GrantedBy:    d.GrantedBy,
		ExpiresAt:    utcPtr(d.ExpiresAt),
	}
}

type contentDoc struct {
	Phase     string    `bson:"_id"`
	Body      bson.M    `bson:"body"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type notificationDoc struct {
	ID           string     `bson:"_id"`
	SubscriberID string     `bson:"subscriberId"`
	Title        string     `bson:"title"`
	Body         string     `bson:"body"`
	Category     string     `bson:"category"`
	CreatedAt    time.Time  `bson:"createdAt"`
	DeliveredAt  *time.Time `bson:"deliveredAt"`
}

func toNotificationDoc(n domain.Notification) notificationDoc {
	return notificationDoc{
		ID:           n.ID,
		SubscriberID: n.SubscriberID,
		Title:        n.Title,
		Body:         n.Body,
		Category:     string(n.Category),
		CreatedAt:    n.CreatedAt,
		DeliveredAt:  n.DeliveredAt,
	}
}

func (d notificationDoc) toDomain() domain.Notification {
	return domain.Notification{
		ID:           d.ID,
		SubscriberID: d.SubscriberID,
		Title:        d.Title,
		Body:         d.Body,
		Category:     domain.NotificationCategory(d.Category),
		CreatedAt:    d.CreatedAt.UTC(),
		DeliveredAt:  utcPtr(d.DeliveredAt),
	}
}

// utcPtr normalises driver-decoded times, which come back in local time.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
