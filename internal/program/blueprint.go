package program

import (
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
)

const week = 7 * 24 * time.Hour

// Blueprint maps an elapsed-week index to the phase a subscriber of a given
// tier is expected to be in, absent any override. Tables are computed once.
type Blueprint struct {
	catalog *Catalog
	tables  map[domain.SubscriptionTier][]domain.PhaseType
}

// NewBlueprint precomputes the week tables of every tier in c.
func NewBlueprint(c *Catalog) *Blueprint {
	b := &Blueprint{
		catalog: c,
		tables:  make(map[domain.SubscriptionTier][]domain.PhaseType, len(c.tiers)),
	}
	for tier, cfg := range c.tiers {
		b.tables[tier] = buildTable(cfg)
	}
	return b
}

func buildTable(cfg TierConfig) []domain.PhaseType {
	weeks := cfg.Sessions*cfg.Phases.SessionWeeks() + cfg.ConsolidationWeeks
	table := make([]domain.PhaseType, 0, weeks)
	for s := 0; s < cfg.Sessions; s++ {
		for w := 0; w < cfg.Phases.DetoxWeeks; w++ {
			table = append(table, cfg.Phases.DetoxPhase)
		}
		for w := 0; w < cfg.Phases.EquilibreWeeks; w++ {
			table = append(table, domain.PhaseEquilibre)
		}
	}
	for w := 0; w < cfg.ConsolidationWeeks; w++ {
		table = append(table, domain.PhaseConsolidation)
	}
	return table
}

// Catalog returns the catalog the blueprint was built from.
func (b *Blueprint) Catalog() *Catalog {
	return b.catalog
}

// ExpectedPhase returns the blueprint phase for week index weekIndex.
// Negative indexes clamp to 0; indexes past the configured program cap at
// ENTRETIEN.
func (b *Blueprint) ExpectedPhase(tier domain.SubscriptionTier, weekIndex int) (domain.PhaseType, error) {
	table, ok := b.tables[tier]
	if !ok {
		_, err := b.catalog.Tier(tier)
		return "", err
	}
	if weekIndex < 0 {
		weekIndex = 0
	}
	if weekIndex >= len(table) {
		return domain.PhaseEntretien, nil
	}
	return table[weekIndex], nil
}

// WeekIndex is the number of whole weeks elapsed between start and now.
func WeekIndex(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / week)
}

// ============================================================
// Transition decision
// ============================================================

// Transition reasons, also used as metric labels.
const (
	ReasonBlueprint             = "blueprint"
	ReasonBiometricEarlyExit    = "biometric_early_exit"
	ReasonConsolidationComplete = "consolidation_complete"
	ReasonManual                = "manual"
)

// Decision is the outcome of evaluating one subscriber against the blueprint.
type Decision struct {
	Expected   domain.PhaseType
	Target     domain.PhaseType
	Reason     string
	Transition bool
}

// Decide compares the subscriber's current phase to the blueprint and to the
// biometric early-exit rule. Precedence: early exit, post-loss guard,
// blueprint.
func (b *Blueprint) Decide(sub *domain.Subscriber, current *domain.PhaseRecord, now time.Time) (Decision, error) {
	expected, err := b.ExpectedPhase(sub.Tier, WeekIndex(sub.ProgramStart(), now))
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Expected: expected, Target: current.Type}

	switch current.Type {
	case domain.PhaseEquilibre:
		if sub.CurrentWeight() <= sub.TargetWeightKg {
			d.Target, d.Reason = domain.PhaseConsolidation, ReasonBiometricEarlyExit
		}
	case domain.PhaseConsolidation:
		// Subscribers past the loss phases never regress automatically.
		if expected == domain.PhaseEntretien || !now.Before(current.PlannedEndDate) {
			d.Target, d.Reason = domain.PhaseEntretien, ReasonConsolidationComplete
		}
		d.Transition = d.Target != current.Type
		return d, nil
	case domain.PhaseEntretien:
		return d, nil
	}

	if d.Reason == "" && expected != current.Type {
		d.Target, d.Reason = expected, ReasonBlueprint
	}
	d.Transition = d.Target != current.Type
	return d, nil
}
