package program

import (
	"math"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
)

const (
	// SessionDays is the fixed length of a projected session.
	SessionDays = 42
	// sessionMonths is SessionDays expressed in months for the pace formula.
	sessionMonths = 1.5
)

// ProjectionInput is the biometric snapshot a projection is computed from.
type ProjectionInput struct {
	StartWeightKg  float64
	HeightCm       float64
	TargetWeightKg float64
	StartDate      time.Time
	Tier           domain.SubscriptionTier
}

// ProjectionFor builds the projection input of a subscriber.
func ProjectionFor(sub *domain.Subscriber) ProjectionInput {
	return ProjectionInput{
		StartWeightKg:  sub.StartWeightKg,
		HeightCm:       sub.HeightCm,
		TargetWeightKg: sub.TargetWeightKg,
		StartDate:      sub.ProgramStart(),
		Tier:           sub.Tier,
	}
}

// Project computes the session plan with the embedded catalog.
func Project(in ProjectionInput) ([]domain.SessionPlan, error) {
	return DefaultCatalog().Project(in)
}

// Project splits the weight to lose into 42-day sessions whose targets form a
// decreasing arithmetic sequence averaging the tier's pace. The last session
// absorbs rounding so that targets always sum to the total.
func (c *Catalog) Project(in ProjectionInput) ([]domain.SessionPlan, error) {
	if err := validateProjection(in); err != nil {
		return nil, err
	}
	tier, err := c.Tier(in.Tier)
	if err != nil {
		return nil, err
	}

	total := in.StartWeightKg - in.TargetWeightKg
	if total <= 0 {
		start := in.StartDate
		end := start.AddDate(0, 0, SessionDays-1)
		return []domain.SessionPlan{{
			Number:                 1,
			Kind:                   domain.SessionConsolidation,
			StartDate:              start,
			EndDate:                end,
			TargetLossKg:           0,
			ProjectedStartWeightKg: in.StartWeightKg,
			ProjectedEndWeightKg:   in.StartWeightKg,
			ProjectedBMI:           bmi(in.StartWeightKg, in.HeightCm),
			Phases: []domain.PhaseWindow{{
				Type:      domain.PhaseConsolidation,
				StartDate: start,
				EndDate:   end,
			}},
		}}, nil
	}

	targets := sessionTargets(total, tier.PaceKgPerMonth)

	plans := make([]domain.SessionPlan, 0, len(targets))
	weight := in.StartWeightKg
	start := in.StartDate
	for i, loss := range targets {
		end := start.AddDate(0, 0, SessionDays-1)
		next := weight - loss
		plans = append(plans, domain.SessionPlan{
			Number:                 i + 1,
			Kind:                   domain.SessionLoss,
			StartDate:              start,
			EndDate:                end,
			TargetLossKg:           loss,
			ProjectedStartWeightKg: weight,
			ProjectedEndWeightKg:   next,
			ProjectedBMI:           bmi(next, in.HeightCm),
			Phases:                 sessionWindows(tier.Phases, start, end),
		})
		weight = next
		start = end.AddDate(0, 0, 1)
	}
	return plans, nil
}

// sessionTargets returns the per-session loss targets for total kg at pace
// kg/month.
func sessionTargets(total, pace float64) []float64 {
	// The epsilon keeps exact multiples (e.g. 7.5 kg at 5 kg/month) from
	// rounding up to an extra session.
	n := int(math.Ceil((total/pace)/sessionMonths - 1e-9))
	if n < 1 {
		n = 1
	}
	if n == 1 {
		return []float64{total}
	}

	avg := total / float64(n)
	first := avg * intensityCoefficient(total)
	diff := (2*first - 2*avg) / float64(n-1)

	targets := make([]float64, n)
	sum := 0.0
	for i := 0; i < n-1; i++ {
		targets[i] = first - float64(i)*diff
		sum += targets[i]
	}
	targets[n-1] = total - sum
	return targets
}

// intensityCoefficient front-loads the first session more for bigger journeys.
func intensityCoefficient(total float64) float64 {
	switch {
	case total > 50:
		return 1.45
	case total > 30:
		return 1.35
	case total > 15:
		return 1.25
	default:
		return 1.10
	}
}

func sessionWindows(p PhaseConfig, start, end time.Time) []domain.PhaseWindow {
	detoxEnd := start.AddDate(0, 0, p.DetoxWeeks*7-1)
	return []domain.PhaseWindow{
		{Type: p.DetoxPhase, StartDate: start, EndDate: detoxEnd},
		{Type: domain.PhaseEquilibre, StartDate: detoxEnd.AddDate(0, 0, 1), EndDate: end},
	}
}

func bmi(weightKg, heightCm float64) float64 {
	m := heightCm / 100
	return math.Round(weightKg/(m*m)*10) / 10
}

func validateProjection(in ProjectionInput) error {
	switch {
	case in.StartWeightKg <= 0:
		return &domain.ErrValidation{Field: "start_weight_kg", Message: "must be positive"}
	case in.TargetWeightKg <= 0:
		return &domain.ErrValidation{Field: "target_weight_kg", Message: "must be positive"}
	case in.HeightCm <= 0:
		return &domain.ErrValidation{Field: "height_cm", Message: "must be positive"}
	case in.StartDate.IsZero():
		return &domain.ErrValidation{Field: "start_date", Message: "required"}
	}
	return nil
}
