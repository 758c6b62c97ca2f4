package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ============================================================
// Phase content: one variant per phase family
// ============================================================

// PhaseContent is the typed content attached to a phase. The set of
// implementations is closed: only this package can add variants.
type PhaseContent interface {
	Phase() PhaseType
	isPhaseContent()
}

// DetoxContent covers DETOX and DETOX_VIP.
type DetoxContent struct {
	PhaseType    PhaseType `json:"phase_type,omitempty"`
	Title        string    `json:"title"`
	AllowedFoods []string  `json:"allowed_foods"`
	DailyRoutine []string  `json:"daily_routine"`
	HydrationL   float64   `json:"hydration_l"`
}

// EquilibreContent covers EQUILIBRE.
type EquilibreContent struct {
	Title             string   `json:"title"`
	MealStructure     []string `json:"meal_structure"`
	ReintroducedFoods []string `json:"reintroduced_foods"`
	WeeklyGoals       []string `json:"weekly_goals"`
}

// ConsolidationContent covers CONSOLIDATION.
type ConsolidationContent struct {
	Title           string   `json:"title"`
	StabilityRules  []string `json:"stability_rules"`
	WeighInCadenceD int      `json:"weigh_in_cadence_days"`
}

// EntretienContent covers ENTRETIEN.
type EntretienContent struct {
	Title         string   `json:"title"`
	Habits        []string `json:"habits"`
	CheckInEveryW int      `json:"check_in_every_weeks"`
}

func (c DetoxContent) Phase() PhaseType { return c.PhaseType }

func (EquilibreContent) Phase() PhaseType { return PhaseEquilibre }

func (ConsolidationContent) Phase() PhaseType { return PhaseConsolidation }

func (EntretienContent) Phase() PhaseType { return PhaseEntretien }

func (DetoxContent) isPhaseContent()         {}
func (EquilibreContent) isPhaseContent()     {}
func (ConsolidationContent) isPhaseContent() {}
func (EntretienContent) isPhaseContent()     {}

// DecodePhaseContent validates a stored JSON blob against the variant of the
// given phase. Unknown fields and missing titles are rejected.
func DecodePhaseContent(phase PhaseType, raw []byte) (PhaseContent, error) {
	var (
		content PhaseContent
		title   string
		err     error
	)
	switch phase {
	case PhaseDetox, PhaseDetoxVIP:
		var c DetoxContent
		err = strictUnmarshal(raw, &c)
		c.PhaseType = phase
		content, title = c, c.Title
	case PhaseEquilibre:
		var c EquilibreContent
		err = strictUnmarshal(raw, &c)
		content, title = c, c.Title
	case PhaseConsolidation:
		var c ConsolidationContent
		err = strictUnmarshal(raw, &c)
		content, title = c, c.Title
	case PhaseEntretien:
		var c EntretienContent
		err = strictUnmarshal(raw, &c)
		content, title = c, c.Title
	default:
		return nil, &ErrValidation{Field: "phase_type", Message: fmt.Sprintf("no content variant for '%s'", phase)}
	}
	if err != nil {
		return nil, &ErrValidation{Field: "content", Message: err.Error()}
	}
	if title == "" {
		return nil, &ErrValidation{Field: "content.title", Message: "required"}
	}
	return content, nil
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
