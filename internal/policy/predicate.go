package policy

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/model"
)

// PredicateKind tags the variant held by a Predicate.
type PredicateKind int

const (
	// Unknown covers keys this version does not understand. It always holds
	// so that documents written for newer versions still load.
	Unknown PredicateKind = iota
	SourceTierEq
	SourceTierNotIn
	ChangeTypeEq
	ChangeTypeIn
	ChangeTypeNotIn
	ConfidenceLT
	TimeToCatalystGT
	MarketGapLTE
)

var predicateKeys = map[string]PredicateKind{
	"source_tier":              SourceTierEq,
	"source_tier_not":          SourceTierNotIn,
	"change_type":              ChangeTypeEq,
	"change_type_in":           ChangeTypeIn,
	"change_type_not":          ChangeTypeNotIn,
	"llm_confidence_lt":        ConfidenceLT,
	"time_to_catalyst_days_gt": TimeToCatalystGT,
	"market_gap_lte":           MarketGapLTE,
}

// Predicate is one compiled condition entry. Which fields are meaningful
// depends on Kind.
type Predicate struct {
	Kind      PredicateKind
	Key       string
	Strings   []string
	Threshold float64
}

// Attributes are the detection fields a condition can test.
type Attributes struct {
	SourceTier model.SourceTier
	ChangeType model.ChangeType
	Confidence float64
}

// Holds reports whether the predicate is satisfied.
func (p Predicate) Holds(a Attributes, ctx Context) bool {
	switch p.Kind {
	case SourceTierEq:
		return string(a.SourceTier) == p.Strings[0]
	case SourceTierNotIn:
		return !contains(p.Strings, string(a.SourceTier))
	case ChangeTypeEq:
		return string(a.ChangeType) == p.Strings[0]
	case ChangeTypeIn:
		return contains(p.Strings, string(a.ChangeType))
	case ChangeTypeNotIn:
		return !contains(p.Strings, string(a.ChangeType))
	case ConfidenceLT:
		return a.Confidence < p.Threshold
	case TimeToCatalystGT:
		return float64(ctx.TimeToCatalystDays) > p.Threshold
	case MarketGapLTE:
		return ctx.MarketGap != nil && *ctx.MarketGap <= p.Threshold
	default:
		return true
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// compile turns a rule's condition map into predicates ordered by key.
func compile(cond map[string]any) ([]Predicate, error) {
	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		p := Predicate{Kind: predicateKeys[k], Key: k}
		v := cond[k]

		var err error
		switch p.Kind {
		case SourceTierEq, ChangeTypeEq:
			var s string
			s, err = asString(v)
			p.Strings = []string{s}
		case SourceTierNotIn, ChangeTypeIn, ChangeTypeNotIn:
			p.Strings, err = asStrings(v)
		case ConfidenceLT, TimeToCatalystGT, MarketGapLTE:
			p.Threshold, err = asFloat(v)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "condition %s", k)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", eris.Errorf("want string, got %T", v)
	}
	return s, nil
}

func asStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, err := asString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, eris.Errorf("want list of strings, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	}
	return 0, eris.Errorf("want number, got %T", v)
}
