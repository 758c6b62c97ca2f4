// Package access decides what a subscriber can see: which phase records are
// current, past or about to start, and which community channels are open.
// Everything here is a pure function of the history, the grants and now.
package access

import (
	"sort"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
)

// AnticipationWindow is how far ahead of a phase start its content and
// channel become previewable.
const AnticipationWindow = 48 * time.Hour

// ChannelFor maps a phase type to its community channel.
func ChannelFor(p domain.PhaseType) domain.Channel {
	if p.IsDetox() {
		return domain.ChannelDetox
	}
	return domain.ChannelECE
}

// chronological returns the non-cancelled records sorted by start date.
func chronological(history []domain.PhaseRecord) []domain.PhaseRecord {
	out := make([]domain.PhaseRecord, 0, len(history))
	for _, r := range history {
		if r.Status != domain.PhaseStatusCancelled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}

// Evaluate splits history into the current, past and upcoming views.
// Current is the active record, falling back to the earliest one. Upcoming is
// the record right after current, exposed only inside the anticipation window.
func Evaluate(history []domain.PhaseRecord, now time.Time) domain.PhaseViews {
	ordered := chronological(history)
	views := domain.PhaseViews{
		Past: []domain.PhaseRecord{},
		All:  ordered,
	}
	if len(ordered) == 0 {
		return views
	}

	cur := 0
	for i := range ordered {
		if ordered[i].IsActive() {
			cur = i
			break
		}
	}
	current := ordered[cur]
	views.Current = &current

	for _, r := range ordered {
		if r.EndDate().Before(now) && r.ID != current.ID {
			views.Past = append(views.Past, r)
		}
	}

	if next := nextAfter(ordered, cur); next != nil && withinWindow(next.StartDate, now) {
		views.Upcoming = next
	}
	return views
}

func nextAfter(ordered []domain.PhaseRecord, cur int) *domain.PhaseRecord {
	if cur+1 >= len(ordered) {
		return nil
	}
	next := ordered[cur+1]
	return &next
}

// withinWindow reports whether start is no later than now + 48h.
func withinWindow(start, now time.Time) bool {
	return !start.After(now.Add(AnticipationWindow))
}

// ChannelStatuses evaluates every channel for one subscriber. Precedence is
// EXPANDED, ACTIVE, ANTICIPATED, LOCKED.
func ChannelStatuses(history []domain.PhaseRecord, grants []domain.ChannelGrant, now time.Time) []domain.ChannelAccess {
	ordered := chronological(history)
	views := Evaluate(history, now)

	var currentCh domain.Channel
	var next *domain.PhaseRecord
	if views.Current != nil {
		currentCh = ChannelFor(views.Current.Type)
		for i := range ordered {
			if ordered[i].ID == views.Current.ID {
				next = nextAfter(ordered, i)
				break
			}
		}
	}

	out := make([]domain.ChannelAccess, 0, len(domain.AllChannels))
	for _, ch := range domain.AllChannels {
		out = append(out, channelStatus(ch, currentCh, next, ordered, grants, now))
	}
	return out
}

func channelStatus(ch, currentCh domain.Channel, next *domain.PhaseRecord, ordered []domain.PhaseRecord, grants []domain.ChannelGrant, now time.Time) domain.ChannelAccess {
	for _, g := range grants {
		if g.Channel == ch && g.Effective(now) {
			return domain.ChannelAccess{Channel: ch, Status: domain.ChannelExpanded}
		}
	}
	if currentCh == ch {
		return domain.ChannelAccess{Channel: ch, Status: domain.ChannelActive}
	}
	if next != nil && ChannelFor(next.Type) == ch && withinWindow(next.StartDate, now) {
		unlock := next.StartDate
		return domain.ChannelAccess{Channel: ch, Status: domain.ChannelAnticipated, UnlockAt: &unlock}
	}

	locked := domain.ChannelAccess{Channel: ch, Status: domain.ChannelLocked}
	for _, r := range ordered {
		if r.StartDate.After(now) && ChannelFor(r.Type) == ch {
			unlock := r.StartDate
			locked.UnlockAt = &unlock
			break
		}
	}
	return locked
}
