package model

import (
	"encoding/json"
	"time"
)

// SourceTier classifies where a detection originated, ordered by credibility.
type SourceTier string

const (
	TierPrimaryFiling    SourceTier = "primary_filing"
	TierPrimaryCompany   SourceTier = "primary_company"
	TierPrimaryRegistry  SourceTier = "primary_registry"
	TierPrimaryRegulator SourceTier = "primary_regulator"
	TierSecondaryNews    SourceTier = "secondary_news"
	TierTertiarySocial   SourceTier = "tertiary_social"
)

// SourceTiers lists every known tier, most credible first.
var SourceTiers = []SourceTier{
	TierPrimaryFiling,
	TierPrimaryCompany,
	TierPrimaryRegistry,
	TierPrimaryRegulator,
	TierSecondaryNews,
	TierTertiarySocial,
}

// Rank returns the tier's position in SourceTiers (0 = most credible),
// or -1 for tiers we do not recognise.
func (t SourceTier) Rank() int {
	for i, st := range SourceTiers {
		if st == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t SourceTier) Valid() bool { return t.Rank() >= 0 }

// ChangeType identifies what kind of change a detection records.
type ChangeType string

const (
	ChangeFilingNew        ChangeType = "filing_new"
	ChangeFilingAmended    ChangeType = "filing_amended"
	ChangePDUFAChanged     ChangeType = "pdufa_changed"
	ChangeTrialTermination ChangeType = "trial_termination"
	ChangeHalt             ChangeType = "halt"
	ChangePriceGap         ChangeType = "price_gap"
	ChangeMisc             ChangeType = "misc"
	ChangeTrialStatus      ChangeType = "trial_status_change"
	ChangeTrialEndpoint    ChangeType = "trial_endpoint_change"
	ChangeTrialDate        ChangeType = "trial_date_change"
	ChangeEnrollment       ChangeType = "enrollment_change"
)

// ChangeTypes lists every known change type.
var ChangeTypes = []ChangeType{
	ChangeFilingNew,
	ChangeFilingAmended,
	ChangePDUFAChanged,
	ChangeTrialTermination,
	ChangeHalt,
	ChangePriceGap,
	ChangeMisc,
	ChangeTrialStatus,
	ChangeTrialEndpoint,
	ChangeTrialDate,
	ChangeEnrollment,
}

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	for _, ct := range ChangeTypes {
		if ct == c {
			return true
		}
	}
	return false
}

// PolicyAction is the outcome of evaluating a detection against the policy.
type PolicyAction string

const (
	ActionAllow      PolicyAction = "allow"
	ActionSuppress   PolicyAction = "suppress"
	ActionQuarantine PolicyAction = "quarantine"
	ActionPause      PolicyAction = "pause"
)

// Detection is a single timestamped change discovered in one source for one
// ticker. Rows are append-only; only the annotation fields are written after
// the initial insert.
type Detection struct {
	ID           string     `json:"id"`
	Ticker       string     `json:"ticker"`
	DetectedAt   time.Time  `json:"detected_at"`
	DetectedDate string     `json:"detected_date"`
	SourceTier   SourceTier `json:"source_tier"`
	ChangeType   ChangeType `json:"change_type"`
	Title        string     `json:"title"`

	URL       string `json:"url,omitempty"`
	Accession string `json:"accession,omitempty"`
	NCTID     string `json:"nct_id,omitempty"`
	FieldPath string `json:"field_path,omitempty"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`

	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	Confidence  float64 `json:"confidence"`
	Suppressed  bool    `json:"suppressed"`
	Quarantined bool    `json:"quarantined"`
	HardAlert   bool    `json:"hard_alert"`

	ScoreRaw    float64 `json:"score_raw"`
	ScoreFinal  int     `json:"score_final"`
	Explanation string  `json:"explanation,omitempty"`

	PolicyMatchID    string `json:"policy_match_id,omitempty"`
	PolicyMatchLabel string `json:"policy_match_label,omitempty"`

	Annotation          json.RawMessage `json:"annotation,omitempty"`
	AnnotationModel     string          `json:"annotation_model,omitempty"`
	AnnotationInputHash string          `json:"annotation_input_hash,omitempty"`
	AnnotatedAt         *time.Time      `json:"annotated_at,omitempty"`
}

// ApplyDecision sets exactly one outcome flag for the given policy action and
// clears the others. Allow clears all three.
func (d *Detection) ApplyDecision(action PolicyAction, ruleID, ruleLabel string) {
	d.Suppressed = action == ActionSuppress
	d.Quarantined = action == ActionQuarantine
	d.HardAlert = action == ActionPause
	d.PolicyMatchID = ruleID
	d.PolicyMatchLabel = ruleLabel
}

// Quiet reports whether the detection belongs in the quiet log.
func (d *Detection) Quiet() bool {
	return d.Suppressed || d.Quarantined
}

// Annotated reports whether an enrichment annotation has been stored.
func (d *Detection) Annotated() bool {
	return len(d.Annotation) > 0 && d.AnnotationInputHash != ""
}

// DedupKey returns the natural key used for insert-if-absent semantics:
// ticker+accession for filings, ticker+registry id+field+date for registry
// changes, and ticker+url for everything else. Items without a url fall back
// to ticker+title.
func (d *Detection) DedupKey() string {
	switch {
	case d.Accession != "":
		return "filing|" + d.Ticker + "|" + d.Accession
	case d.NCTID != "":
		return "registry|" + d.Ticker + "|" + d.NCTID + "|" + d.FieldPath + "|" + d.DetectedDate
	case d.URL != "":
		return "url|" + d.Ticker + "|" + d.URL
	default:
		return "title|" + d.Ticker + "|" + d.Title
	}
}
