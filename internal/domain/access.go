package domain

import "time"

// ============================================================
// Community channels & access views
// ============================================================

// Channel is a community communication channel gated by phase.
type Channel string

const (
	ChannelDetox Channel = "detox"
	ChannelECE   Channel = "ece"
)

// AllChannels lists every channel in display order.
var AllChannels = []Channel{ChannelDetox, ChannelECE}

// ChannelStatus is the visibility of a channel for one subscriber.
type ChannelStatus string

const (
	ChannelExpanded    ChannelStatus = "EXPANDED"
	ChannelActive      ChannelStatus = "ACTIVE"
	ChannelAnticipated ChannelStatus = "ANTICIPATED"
	ChannelLocked      ChannelStatus = "LOCKED"
)

// ChannelGrant is a coach-assigned membership that opens a channel
// regardless of the subscriber's phase.
type ChannelGrant struct {
	SubscriberID string     `json:"subscriber_id"`
	Channel      Channel    `json:"channel"`
	Active       bool       `json:"active"`
	GrantedBy    string     `json:"granted_by,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Effective reports whether the grant opens the channel at now.
func (g ChannelGrant) Effective(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// ChannelAccess is the evaluated status of one channel.
type ChannelAccess struct {
	Channel  Channel       `json:"channel"`
	Status   ChannelStatus `json:"status"`
	UnlockAt *time.Time    `json:"unlock_at,omitempty"`
}

// PhaseViews is the subscriber-facing projection of the phase history.
type PhaseViews struct {
	Current  *PhaseRecord  `json:"current"`
	Past     []PhaseRecord `json:"past"`
	Upcoming *PhaseRecord  `json:"upcoming"`
	All      []PhaseRecord `json:"all"`
}
