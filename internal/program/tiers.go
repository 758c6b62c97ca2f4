// Package program holds the static model of the coaching program: the tier
// catalog, the week-indexed phase blueprint, the weight-loss projection and
// the pure planning of phase records and transitions.
package program

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var defaultTiersYAML []byte

// EntretienHorizon is the planned length of the open-ended maintenance phase.
const EntretienHorizon = 52 * 7 * 24 * time.Hour

// PhaseConfig is the pacing of one session for a family of tiers.
type PhaseConfig struct {
	DetoxPhase     domain.PhaseType `yaml:"detox_phase"`
	DetoxWeeks     int              `yaml:"detox_weeks"`
	EquilibreWeeks int              `yaml:"equilibre_weeks"`
}

// SessionWeeks is the length of one detox + equilibre cycle.
func (p PhaseConfig) SessionWeeks() int {
	return p.DetoxWeeks + p.EquilibreWeeks
}

// TierConfig describes one subscription tier.
type TierConfig struct {
	Tier               domain.SubscriptionTier `yaml:"tier"`
	Family             string                  `yaml:"family"`
	DurationMonths     int                     `yaml:"duration_months"`
	Sessions           int                     `yaml:"sessions"`
	ConsolidationWeeks int                     `yaml:"consolidation_weeks"`
	PaceKgPerMonth     float64                 `yaml:"pace_kg_per_month"`
	Phases             PhaseConfig             `yaml:"-"`
}

// PhaseDuration returns the nominal length of a phase of type t for this tier.
func (t TierConfig) PhaseDuration(p domain.PhaseType) time.Duration {
	week := 7 * 24 * time.Hour
	switch {
	case p.IsDetox():
		return time.Duration(t.Phases.DetoxWeeks) * week
	case p == domain.PhaseEquilibre:
		return time.Duration(t.Phases.EquilibreWeeks) * week
	case p == domain.PhaseConsolidation:
		return time.Duration(t.ConsolidationWeeks) * week
	default:
		return EntretienHorizon
	}
}

type catalogFile struct {
	Families map[string]PhaseConfig `yaml:"families"`
	Tiers    []TierConfig           `yaml:"tiers"`
}

// Catalog is the immutable set of known tiers.
type Catalog struct {
	tiers map[domain.SubscriptionTier]TierConfig
}

// LoadCatalog parses and validates a YAML tier catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tier catalog: %w", err)
	}

	c := &Catalog{tiers: make(map[domain.SubscriptionTier]TierConfig, len(f.Tiers))}
	for _, t := range f.Tiers {
		fam, ok := f.Families[t.Family]
		if !ok {
			return nil, fmt.Errorf("tier %s: unknown family %q", t.Tier, t.Family)
		}
		if !fam.DetoxPhase.IsDetox() || fam.DetoxWeeks <= 0 || fam.EquilibreWeeks <= 0 {
			return nil, fmt.Errorf("family %q: invalid pacing %+v", t.Family, fam)
		}
		if t.Sessions <= 0 || t.ConsolidationWeeks < 0 || t.PaceKgPerMonth <= 0 {
			return nil, fmt.Errorf("tier %s: sessions and pace must be positive", t.Tier)
		}
		if _, dup := c.tiers[t.Tier]; dup {
			return nil, fmt.Errorf("tier %s declared twice", t.Tier)
		}
		t.Phases = fam
		c.tiers[t.Tier] = t
	}
	return c, nil
}

// Tier returns the configuration of tier t.
func (c *Catalog) Tier(t domain.SubscriptionTier) (TierConfig, error) {
	cfg, ok := c.tiers[t]
	if !ok {
		return TierConfig{}, &domain.ErrValidation{Field: "tier", Message: fmt.Sprintf("unknown subscription tier '%s'", t)}
	}
	return cfg, nil
}

// Tiers returns every configured tier.
func (c *Catalog) Tiers() []TierConfig {
	out := make([]TierConfig, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	return out
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := LoadCatalog(defaultTiersYAML)
		if err != nil {
			panic("embedded tier catalog: " + err.Error())
		}
		defaultCatalog = c
	})
	return defaultCatalog
}
