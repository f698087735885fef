package policy

import (
	"fmt"
	"strconv"

	"github.com/sells-group/watchman/internal/model"
)

const defaultTemplate = `suppression:
  - id: "S1"
    label: "Suppress tertiary social"
    if: { source_tier: "tertiary_social" }
    action: "suppress"
  - id: "S2"
    label: "Suppress misc from non-primary sources"
    if: { change_type: "misc", source_tier_not: ["primary_filing", "primary_regulator", "primary_registry"] }
    action: "suppress"
  - id: "Q1"
    label: "Quarantine low-confidence"
    if: { llm_confidence_lt: 0.7 }
    action: "quarantine"
hard_alerts:
  - id: "H1"
    label: "Hard alert on halt/termination/PDUFA"
    if: { change_type_in: ["halt", "trial_termination", "pdufa_changed"] }
    action: "pause"
  - id: "H2"
    label: "Hard alert on market gap"
    if: { market_gap_lte: %s }
    action: "pause"
`

// DefaultDocument renders the shipped policy. The market-gap alert fires at
// the configured panic sensitivity.
func DefaultDocument(s model.EngineSettings) []byte {
	gap := strconv.FormatFloat(s.PanicGap(), 'f', -1, 64)
	return []byte(fmt.Sprintf(defaultTemplate, gap))
}

// Default returns the shipped policy, parsed.
func Default(s model.EngineSettings) *Policy {
	p, err := ParseStrict(DefaultDocument(s))
	if err != nil {
		panic(err)
	}
	return p
}
