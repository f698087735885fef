package policy

import "github.com/sells-group/watchman/internal/model"

// Context carries the per-detection signals conditions may read.
type Context struct {
	MarketGap          *float64 // same-day fractional move; nil when unknown
	TimeToCatalystDays int
	// Settings is carried for rules that may later depend on suppression
	// strictness. Matching does not read it today.
	Settings model.EngineSettings
}

// Decision is the outcome of evaluating one detection.
type Decision struct {
	Action    model.PolicyAction `json:"action"`
	RuleID    string             `json:"rule_id,omitempty"`
	RuleLabel string             `json:"rule_label,omitempty"`
}

// Matches reports whether every predicate of r holds.
func (r Rule) Matches(a Attributes, ctx Context) bool {
	for _, p := range r.predicates {
		if !p.Holds(a, ctx) {
			return false
		}
	}
	return true
}

// Evaluate applies p to a detection. Hard alerts always win over
// suppression; within a list the first matching rule decides.
func Evaluate(a Attributes, p *Policy, ctx Context) Decision {
	if p == nil {
		return Decision{Action: model.ActionAllow}
	}
	for _, r := range p.HardAlerts {
		if r.Matches(a, ctx) {
			return Decision{Action: model.ActionPause, RuleID: r.ID, RuleLabel: r.Label}
		}
	}
	for _, r := range p.Suppression {
		if r.Matches(a, ctx) {
			action := r.Action
			if action == "" {
				action = model.ActionSuppress
			}
			return Decision{Action: action, RuleID: r.ID, RuleLabel: r.Label}
		}
	}
	return Decision{Action: model.ActionAllow}
}
