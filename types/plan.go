package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PlanPhase describes how far a plan has moved through the adaptive lifecycle.
// The phase only ever advances initial → refined → adaptive; it never reverts.
type PlanPhase string

const (
	PhaseInitial  PlanPhase = "initial"
	PhaseRefined  PlanPhase = "refined"
	PhaseAdaptive PlanPhase = "adaptive"
)

// ActionKind is the category of interaction a step performs. Verification
// actions carry a structured name (verify_<target>_<operation>) and are
// grouped under KindVerify for threshold lookups.
type ActionKind string

const (
	KindClick    ActionKind = "click"
	KindType     ActionKind = "type"
	KindHover    ActionKind = "hover"
	KindVerify   ActionKind = "verify"
	KindNavigate ActionKind = "navigate"
	KindWait     ActionKind = "wait"
)

// IsInteraction reports whether the kind resolves elements before acting.
func (k ActionKind) IsInteraction() bool {
	return k == KindClick || k == KindType || k == KindHover
}

// Action is the executable part of a step.
type Action struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// Assertion is an optional post-condition attached to a step.
type Assertion struct {
	Description string `json:"description"`
	Check       string `json:"check"`
}

// Step is a single unit of a plan.
type Step struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Action      Action     `json:"action"`
	Assertion   *Assertion `json:"assertion,omitempty"`

	// Refinement state, populated once the adaptive planner has touched
	// the step.
	ElementDiscovery *ElementDiscoveryResult `json:"element_discovery,omitempty"`
	OriginalSelector string                  `json:"original_selector,omitempty"`
	RetryCount       int                     `json:"retry_count,omitempty"`
}

// Kind derives the action kind from the action name.
func (s *Step) Kind() ActionKind {
	switch s.Action.Name {
	case "click":
		return KindClick
	case "type":
		return KindType
	case "hover":
		return KindHover
	case "navigate":
		return KindNavigate
	case "wait":
		return KindWait
	}
	if len(s.Action.Name) >= 7 && s.Action.Name[:7] == "verify_" {
		return KindVerify
	}
	return ActionKind(s.Action.Name)
}

// Selector returns the step's current structural selector, preferring the
// last discovery result over the raw action argument.
func (s *Step) Selector() string {
	if s.ElementDiscovery != nil && s.ElementDiscovery.Selector != "" {
		return s.ElementDiscovery.Selector
	}
	return s.Action.Arguments["selector"]
}

// PlanRefinement is one append-only audit record of a repair decision.
type PlanRefinement struct {
	StepID           string    `json:"step_id"`
	OriginalSelector string    `json:"original_selector,omitempty"`
	RefinedSelector  string    `json:"refined_selector,omitempty"`
	Reason           string    `json:"reason"`
	Confidence       float64   `json:"confidence,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Plan is an ordered sequence of steps for one scenario.
type Plan struct {
	ID                string           `json:"id"`
	ScenarioID        string           `json:"scenario_id"`
	Steps             []Step           `json:"steps"`
	Phase             PlanPhase        `json:"phase"`
	RefinementHistory []PlanRefinement `json:"refinement_history,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// NewPlan creates an initial-phase plan for a scenario.
func NewPlan(scenarioID string, steps []Step) *Plan {
	return &Plan{
		ID:         uuid.NewString(),
		ScenarioID: scenarioID,
		Steps:      steps,
		Phase:      PhaseInitial,
		CreatedAt:  time.Now(),
	}
}

// AdvancePhase moves the plan forward. Backward transitions are ignored so a
// plan can never report itself less refined than it is.
func (p *Plan) AdvancePhase(next PlanPhase) {
	if phaseRank(next) > phaseRank(p.Phase) {
		p.Phase = next
	}
}

func phaseRank(ph PlanPhase) int {
	switch ph {
	case PhaseInitial:
		return 0
	case PhaseRefined:
		return 1
	case PhaseAdaptive:
		return 2
	}
	return -1
}

// AppendRefinement records a refinement and trims the history to maxHistory,
// dropping the oldest entries first. maxHistory <= 0 means unlimited.
func (p *Plan) AppendRefinement(r PlanRefinement, maxHistory int) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	p.RefinementHistory = append(p.RefinementHistory, r)
	if maxHistory > 0 && len(p.RefinementHistory) > maxHistory {
		p.RefinementHistory = p.RefinementHistory[len(p.RefinementHistory)-maxHistory:]
	}
}

// Clone returns a deep copy of the plan so refinement can work on a draft
// without mutating the caller's copy.
func (p *Plan) Clone() *Plan {
	raw, err := json.Marshal(p)
	if err != nil {
		cp := *p
		return &cp
	}
	var cp Plan
	if err := json.Unmarshal(raw, &cp); err != nil {
		cp2 := *p
		return &cp2
	}
	return &cp
}
