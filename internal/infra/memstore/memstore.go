// Package memstore is an in-memory port.PhaseStore. Transactions run on a
// private copy of the state and are swapped in on commit, so a failed
// transaction leaves nothing behind. It backs local runs without Mongo and the
// service tests, which use its fault injection to exercise rollback paths.
//
// RunInTx holds the store-wide lock for the whole transaction, so
// transactions never run in parallel: the scheduler's worker pool processes
// one subscriber at a time on this store. Production deployments should set
// mongo.uri.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
)

// Op names a store operation that can be made to fail.
type Op string

const (
	OpFindActive        Op = "find_active_subscribers"
	OpGetSubscriber     Op = "get_subscriber"
	OpGetHistory        Op = "get_phase_history"
	OpLockSubscriber    Op = "lock_subscriber"
	OpCreatePhase       Op = "create_phase_record"
	OpUpdatePhase       Op = "update_phase_record"
	OpUpdateSubscriber  Op = "update_subscriber"
	OpEnqueue           Op = "enqueue_notification"
	OpMarkDelivered     Op = "mark_notification_delivered"
	OpListNotifications Op = "list_pending_notifications"
	OpListChannelGrants Op = "list_channel_grants"
	OpGetPhaseContent   Op = "get_phase_content"
)

const anySubscriber = "*"

type state struct {
	subscribers   map[string]domain.Subscriber
	phases        map[string]domain.PhaseRecord
	grants        map[string]domain.ChannelGrant
	content       map[domain.PhaseType]json.RawMessage
	notifications map[string]domain.Notification
}

func newState() state {
	return state{
		subscribers:   map[string]domain.Subscriber{},
		phases:        map[string]domain.PhaseRecord{},
		grants:        map[string]domain.ChannelGrant{},
		content:       map[domain.PhaseType]json.RawMessage{},
		notifications: map[string]domain.Notification{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.subscribers {
		c.subscribers[k] = cloneSubscriber(v)
	}
	for k, v := range s.phases {
		c.phases[k] = clonePhase(v)
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.content {
		c.content[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	return c
}

func cloneSubscriber(s domain.Subscriber) domain.Subscriber {
	if s.LatestWeightKg != nil {
		w := *s.LatestWeightKg
		s.LatestWeightKg = &w
	}
	if s.LatestWeighInAt != nil {
		t := *s.LatestWeighInAt
		s.LatestWeighInAt = &t
	}
	if s.PlanStartDate != nil {
		t := *s.PlanStartDate
		s.PlanStartDate = &t
	}
	return s
}

func clonePhase(r domain.PhaseRecord) domain.PhaseRecord {
	if r.ActualEndDate != nil {
		t := *r.ActualEndDate
		r.ActualEndDate = &t
	}
	return r
}

func grantKey(subscriberID string, ch domain.Channel) string {
	return subscriberID + "/" + string(ch)
}

// Store is the in-memory PhaseStore.
type Store struct {
	mu     sync.RWMutex
	state  state
	faults map[Op]map[string]error
}

var _ port.PhaseStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), faults: map[Op]map[string]error{}}
}

// FailOn makes op return err for subscriberID ("" for every subscriber)
// until ClearFaults is called.
func (s *Store) FailOn(op Op, subscriberID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subscriberID == "" {
		subscriberID = anySubscriber
	}
	if s.faults[op] == nil {
		s.faults[op] = map[string]error{}
	}
	s.faults[op][subscriberID] = err
}

// ClearFaults removes every injected fault.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = map[Op]map[string]error{}
}

// fault must be called with s.mu held.
func (s *Store) fault(op Op, subscriberID string) error {
	byID := s.faults[op]
	if byID == nil {
		return nil
	}
	if err, ok := byID[subscriberID]; ok {
		return err
	}
	return byID[anySubscriber]
}

// Seed inserts subscribers and phase records outside of any transaction.
func (s *Store) Seed(subs []domain.Subscriber, records []domain.PhaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.state.subscribers[sub.ID] = cloneSubscriber(sub)
	}
	for _, r := range records {
		s.state.phases[r.ID] = clonePhase(r)
	}
}

// Notifications returns every outbox entry, delivered or not.
func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Notification, 0, len(s.state.notifications))
	for _, n := range s.state.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ============================================================
// Reads
// ============================================================

func (s *Store) FindActiveSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpFindActive, anySubscriber); err != nil {
		return nil, err
	}
	out := make([]domain.Subscriber, 0, len(s.state.subscribers))
	for _, sub := range s.state.subscribers {
		if sub.IsActive {
			out = append(out, cloneSubscriber(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetSubscriber(_ context.Context, subscriberID string) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpGetSubscriber, subscriberID); err != nil {
		return nil, err
	}
	sub, ok := s.state.subscribers[subscriberID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
	}
	c := cloneSubscriber(sub)
	return &c, nil
}

func (s *Store) SaveSubscriber(_ context.Context, sub *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpUpdateSubscriber, sub.ID); err != nil {
		return err
	}
	s.state.subscribers[sub.ID] = cloneSubscriber(*sub)
	return nil
}

func (s *Store) GetPhaseHistory(_ context.Context, subscriberID string) ([]domain.PhaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpGetHistory, subscriberID); err != nil {
		return nil, err
	}
	return history(s.state, subscriberID), nil
}

func history(st state, subscriberID string) []domain.PhaseRecord {
	out := []domain.PhaseRecord{}
	for _, r := range st.phases {
		if r.SubscriberID == subscriberID {
			out = append(out, clonePhase(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}

func (s *Store) ListChannelGrants(_ context.Context, subscriberID string) ([]domain.ChannelGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpListChannelGrants, subscriberID); err != nil {
		return nil, err
	}
	var out []domain.ChannelGrant
	for _, g := range s.state.grants {
		if g.SubscriberID == subscriberID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (s *Store) SaveChannelGrant(_ context.Context, grant domain.ChannelGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.grants[grantKey(grant.SubscriberID, grant.Channel)] = grant
	return nil
}

func (s *Store) GetPhaseContent(_ context.Context, phase domain.PhaseType) (domain.PhaseContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpGetPhaseContent, anySubscriber); err != nil {
		return nil, err
	}
	raw, ok := s.state.content[phase]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "phase_content", ID: string(phase)}
	}
	return domain.DecodePhaseContent(phase, raw)
}

func (s *Store) PutPhaseContent(_ context.Context, phase domain.PhaseType, raw json.RawMessage) error {
	if _, err := domain.DecodePhaseContent(phase, raw); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.content[phase] = append(json.RawMessage(nil), raw...)
	return nil
}

func (s *Store) ListPendingNotifications(_ context.Context, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpListNotifications, anySubscriber); err != nil {
		return nil, err
	}
	var out []domain.Notification
	for _, n := range s.state.notifications {
		if n.DeliveredAt == nil {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationDelivered(_ context.Context, notificationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.state.notifications[notificationID]
	if !ok {
		return &domain.ErrNotFound{Resource: "notification", ID: notificationID}
	}
	if err := s.fault(OpMarkDelivered, n.SubscriberID); err != nil {
		return err
	}
	n.DeliveredAt = &at
	s.state.notifications[notificationID] = n
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// ============================================================
// Transactions
// ============================================================

// RunInTx serialises transactions. fn works on a copy of the state which
// replaces the live state only when fn succeeds and the result still holds at
// most one active phase per subscriber.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.PhaseTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, state: s.state.clone(), locked: map[string]bool{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := checkSingleActive(tx.state); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func checkSingleActive(st state) error {
	active := map[string]string{}
	for _, r := range st.phases {
		if !r.IsActive() {
			continue
		}
		if other, dup := active[r.SubscriberID]; dup {
			return &domain.ErrConcurrencyConflict{Resource: "phase_record", ID: fmt.Sprintf("%s,%s", other, r.ID)}
		}
		active[r.SubscriberID] = r.ID
	}
	return nil
}

type memTx struct {
	store  *Store
	state  state
	locked map[string]bool
}

func (tx *memTx) LockSubscriber(_ context.Context, subscriberID string) (*domain.Subscriber, error) {
	if err := tx.store.fault(OpLockSubscriber, subscriberID); err != nil {
		return nil, err
	}
	sub, ok := tx.state.subscribers[subscriberID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
	}
	if !tx.locked[subscriberID] {
		sub.Version++
		tx.state.subscribers[subscriberID] = sub
		tx.locked[subscriberID] = true
	}
	c := cloneSubscriber(sub)
	return &c, nil
}

func (tx *memTx) GetPhaseHistory(_ context.Context, subscriberID string) ([]domain.PhaseRecord, error) {
	if err := tx.store.fault(OpGetHistory, subscriberID); err != nil {
		return nil, err
	}
	return history(tx.state, subscriberID), nil
}

func (tx *memTx) CreatePhaseRecord(_ context.Context, rec domain.PhaseRecord) error {
	if err := tx.store.fault(OpCreatePhase, rec.SubscriberID); err != nil {
		return err
	}
	if _, dup := tx.state.phases[rec.ID]; dup {
		return &domain.ErrValidation{Field: "id", Message: "phase record " + rec.ID + " already exists"}
	}
	tx.state.phases[rec.ID] = clonePhase(rec)
	return nil
}

func (tx *memTx) UpdatePhaseRecord(_ context.Context, rec domain.PhaseRecord) error {
	if err := tx.store.fault(OpUpdatePhase, rec.SubscriberID); err != nil {
		return err
	}
	if _, ok := tx.state.phases[rec.ID]; !ok {
		return &domain.ErrNotFound{Resource: "phase_record", ID: rec.ID}
	}
	tx.state.phases[rec.ID] = clonePhase(rec)
	return nil
}

func (tx *memTx) UpdateSubscriber(_ context.Context, sub *domain.Subscriber) error {
	if err := tx.store.fault(OpUpdateSubscriber, sub.ID); err != nil {
		return err
	}
	cur, ok := tx.state.subscribers[sub.ID]
	if !ok {
		return &domain.ErrNotFound{Resource: "subscriber", ID: sub.ID}
	}
	if cur.Version != sub.Version {
		return &domain.ErrConcurrencyConflict{Resource: "subscriber", ID: sub.ID}
	}
	tx.state.subscribers[sub.ID] = cloneSubscriber(*sub)
	return nil
}

func (tx *memTx) EnqueueNotification(_ context.Context, n domain.Notification) error {
	if err := tx.store.fault(OpEnqueue, n.SubscriberID); err != nil {
		return err
	}
	tx.state.notifications[n.ID] = n
	return nil
}
