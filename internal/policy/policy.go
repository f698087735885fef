// Package policy decides what happens to a detection before it is scored
// into the daily state: let it through, hide it in the quiet log, or raise a
// hard alert.
//
// A policy document has two ordered rule lists. Hard-alert rules are checked
// first and any match pauses the portfolio. Suppression rules are checked
// next; the first match applies its action. Within each list the earliest
// matching rule wins.
package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/watchman/internal/model"
)

// Rule is one entry of a rule list.
type Rule struct {
	ID     string             `yaml:"id" json:"id"`
	Label  string             `yaml:"label" json:"label"`
	If     map[string]any     `yaml:"if" json:"if"`
	Action model.PolicyAction `yaml:"action" json:"action"`

	predicates []Predicate
}

// Predicates returns the compiled condition, in evaluation order.
func (r Rule) Predicates() []Predicate { return r.predicates }

// Policy is a parsed rule document.
type Policy struct {
	Suppression []Rule `yaml:"suppression" json:"suppression"`
	HardAlerts  []Rule `yaml:"hard_alerts" json:"hard_alerts"`
}

// Empty returns a policy with no rules; every detection is allowed.
func Empty() *Policy { return &Policy{} }

// Parse decodes a YAML rule document and compiles each rule's condition.
// It does not require ids or labels; use ParseStrict on the update path.
func Parse(src []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(src, &p); err != nil {
		return nil, eris.Wrap(err, "policy: parse")
	}
	for _, list := range []struct {
		name  string
		rules []Rule
	}{{"suppression", p.Suppression}, {"hard_alerts", p.HardAlerts}} {
		for i := range list.rules {
			preds, err := compile(list.rules[i].If)
			if err != nil {
				return nil, &ValidationError{List: list.name, Index: i, RuleID: list.rules[i].ID, Reason: err.Error()}
			}
			list.rules[i].predicates = preds
		}
	}
	return &p, nil
}

// ParseStrict parses src and rejects documents that would be unsafe to make
// active: a rule without an id or label, or with an unknown action.
func ParseStrict(src []byte) (*Policy, error) {
	p, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports the first rule that breaks the document rules.
func Validate(src []byte) error {
	_, err := ParseStrict(src)
	return err
}

// Validate checks every rule of an already parsed policy.
func (p *Policy) Validate() error {
	check := func(list string, rules []Rule) error {
		for i, r := range rules {
			fail := func(reason string) error {
				return &ValidationError{List: list, Index: i, RuleID: r.ID, Reason: reason}
			}
			switch {
			case r.ID == "":
				return fail("missing id")
			case r.Label == "":
				return fail("missing label")
			}
			switch r.Action {
			case "", model.ActionSuppress, model.ActionQuarantine, model.ActionPause:
			default:
				return fail(fmt.Sprintf("unknown action %q", r.Action))
			}
		}
		return nil
	}
	if err := check("hard_alerts", p.HardAlerts); err != nil {
		return err
	}
	return check("suppression", p.Suppression)
}

// LoadFile reads and strictly parses a policy document from disk.
func LoadFile(path string) (*Policy, []byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "policy: read %s", path)
	}
	p, err := ParseStrict(src)
	if err != nil {
		return nil, nil, err
	}
	return p, src, nil
}

// ValidationError names the rule that made a document invalid.
type ValidationError struct {
	List   string
	Index  int
	RuleID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("policy: %s[%d] (%s): %s", e.List, e.Index, e.RuleID, e.Reason)
	}
	return fmt.Sprintf("policy: %s[%d]: %s", e.List, e.Index, e.Reason)
}

// IsValidationError reports whether err came from rule validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
