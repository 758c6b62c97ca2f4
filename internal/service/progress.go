package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/access"
	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const projectionCache = "projection"

// ProgressService is the subscriber-facing read path. It never writes.
type ProgressService struct {
	store   port.PhaseStore
	catalog *program.Catalog
	clock   port.Clock
	cache   port.Cache[[]domain.SessionPlan]
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewProgressService(
	store port.PhaseStore,
	catalog *program.Catalog,
	clock port.Clock,
	cache port.Cache[[]domain.SessionPlan],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ProgressService {
	return &ProgressService{
		store:   store,
		catalog: catalog,
		clock:   clock,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// Projection returns the session plan of the subscriber. Plans are cached per
// biometric snapshot, so a changed start weight or target never reads a
// stale plan.
func (p *ProgressService) Projection(ctx context.Context, subscriberID string) ([]domain.SessionPlan, error) {
	ctx, span := tracer.Start(ctx, "ProgressService.Projection")
	defer span.End()

	sub, err := p.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return p.project(sub)
}

func (p *ProgressService) project(sub *domain.Subscriber) ([]domain.SessionPlan, error) {
	in := program.ProjectionFor(sub)
	key := fmt.Sprintf("%s:%s:%g:%g:%g:%d", sub.ID, in.Tier, in.StartWeightKg, in.TargetWeightKg, in.HeightCm, in.StartDate.Unix())
	if plans, ok := p.cache.Get(key); ok {
		p.metrics.IncrCacheHit(projectionCache)
		return plans, nil
	}
	p.metrics.IncrCacheMiss(projectionCache)

	plans, err := p.catalog.Project(in)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, plans)
	return plans, nil
}

// Phases returns the current / past / upcoming views of the history.
func (p *ProgressService) Phases(ctx context.Context, subscriberID string) (domain.PhaseViews, error) {
	ctx, span := tracer.Start(ctx, "ProgressService.Phases")
	defer span.End()

	history, err := p.history(ctx, subscriberID)
	if err != nil {
		return domain.PhaseViews{}, err
	}
	return access.Evaluate(history, p.clock.Now()), nil
}

// Channels returns the status of every community channel.
func (p *ProgressService) Channels(ctx context.Context, subscriberID string) ([]domain.ChannelAccess, error) {
	ctx, span := tracer.Start(ctx, "ProgressService.Channels")
	defer span.End()

	history, err := p.history(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	grants, err := p.store.ListChannelGrants(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return access.ChannelStatuses(history, grants, p.clock.Now()), nil
}

// history reads the subscriber first so an unknown id is a NotFound rather
// than an empty history.
func (p *ProgressService) history(ctx context.Context, subscriberID string) ([]domain.PhaseRecord, error) {
	if _, err := p.store.GetSubscriber(ctx, subscriberID); err != nil {
		return nil, err
	}
	return p.store.GetPhaseHistory(ctx, subscriberID)
}

// Progress assembles everything the progress screen renders: projection,
// phase views, channels and the content of the current and upcoming phases.
func (p *ProgressService) Progress(ctx context.Context, subscriberID string) (*domain.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "ProgressService.Progress")
	defer span.End()
	span.SetAttributes(attribute.String("subscriber.id", subscriberID))

	start := time.Now()
	defer func() {
		p.metrics.RecordRequestDuration("progress", time.Since(start))
	}()

	sub, err := p.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	var (
		sessions []domain.SessionPlan
		history  []domain.PhaseRecord
		grants   []domain.ChannelGrant
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = p.project(sub)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = p.store.GetPhaseHistory(gCtx, subscriberID)
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = p.store.ListChannelGrants(gCtx, subscriberID)
		return err
	})
	if err := g.Wait(); err != nil {
		p.logger.Error("failed to assemble progress",
			zap.String("subscriber_id", subscriberID),
			zap.Error(err),
		)
		return nil, err
	}

	now := p.clock.Now()
	views := access.Evaluate(history, now)
	out := &domain.Progress{
		SubscriberID: sub.ID,
		Tier:         sub.Tier,
		Sessions:     sessions,
		Phases:       views,
		Channels:     access.ChannelStatuses(history, grants, now),
		ManualMode:   sub.IsPhaseManual,
		GeneratedAt:  now,
	}
	for _, rec := range []*domain.PhaseRecord{views.Current, views.Upcoming} {
		if rec == nil {
			continue
		}
		content, err := p.store.GetPhaseContent(ctx, rec.Type)
		if err != nil {
			var nf *domain.ErrNotFound
			if errors.As(err, &nf) {
				continue
			}
			return nil, err
		}
		out.Content = append(out.Content, content)
	}
	return out, nil
}

// PutContent validates raw against the variant of phase and stores it.
func (p *ProgressService) PutContent(ctx context.Context, phase domain.PhaseType, raw json.RawMessage) (domain.PhaseContent, error) {
	ctx, span := tracer.Start(ctx, "ProgressService.PutContent")
	defer span.End()

	phase, err := domain.ParsePhaseType(string(phase))
	if err != nil {
		return nil, err
	}
	content, err := domain.DecodePhaseContent(phase, raw)
	if err != nil {
		return nil, err
	}
	if err := p.store.PutPhaseContent(ctx, phase, raw); err != nil {
		return nil, err
	}
	p.logger.Info("phase content updated", zap.String("phase", string(phase)))
	return content, nil
}
