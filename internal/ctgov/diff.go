// Package ctgov tracks ClinicalTrials.gov registry records. It fingerprints
// the fields that matter for a trial's timeline and reports which of them
// changed between two snapshots.
package ctgov

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/model"
)

// Snapshot is a decoded registry record.
type Snapshot map[string]any

// WatchedField is one registry path whose changes become detections.
type WatchedField struct {
	Path       []string
	ChangeType model.ChangeType
	Label      string
}

// FieldPath returns the dotted path.
func (w WatchedField) FieldPath() string { return strings.Join(w.Path, ".") }

// WatchedFields is evaluated in this order for both hashing and diffing.
var WatchedFields = []WatchedField{
	{Path: []string{"protocolSection", "statusModule", "overallStatus"}, ChangeType: model.ChangeTrialStatus, Label: "Overall Status"},
	{Path: []string{"protocolSection", "outcomesModule", "primaryOutcomes"}, ChangeType: model.ChangeTrialEndpoint, Label: "Primary Outcomes"},
	{Path: []string{"protocolSection", "statusModule", "completionDateStruct"}, ChangeType: model.ChangeTrialDate, Label: "Completion Date"},
	{Path: []string{"protocolSection", "statusModule", "primaryCompletionDateStruct"}, ChangeType: model.ChangeTrialDate, Label: "Primary Completion Date"},
	{Path: []string{"protocolSection", "designModule", "enrollmentInfo"}, ChangeType: model.ChangeEnrollment, Label: "Enrollment Info"},
}

// DiffRecord describes one watched field whose value changed.
type DiffRecord struct {
	ChangeType  model.ChangeType
	FieldPath   string
	Label       string
	OldValue    string
	NewValue    string
	Description string
}

// ParseSnapshot decodes a registry record, keeping numbers in their original
// textual form so that re-serialising a value is stable.
func ParseSnapshot(data []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, eris.Wrap(err, "ctgov: decode snapshot")
	}
	return s, nil
}

func lookup(s Snapshot, path []string) any {
	var cur any = map[string]any(s)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// stringify renders a watched value for comparison. Absent values are "",
// strings are themselves and anything else is JSON with sorted object keys.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Hash fingerprints the watched fields of s. Unwatched fields never affect it.
func Hash(s Snapshot) string {
	parts := make([]string, len(WatchedFields))
	for i, f := range WatchedFields {
		parts[i] = stringify(lookup(s, f.Path))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Diff compares the watched fields of two snapshots and returns one record
// per changed field, in watched-field order.
func Diff(old, cur Snapshot) []DiffRecord {
	var out []DiffRecord
	for _, f := range WatchedFields {
		o := stringify(lookup(old, f.Path))
		n := stringify(lookup(cur, f.Path))
		if o == n {
			continue
		}
		out = append(out, DiffRecord{
			ChangeType:  f.ChangeType,
			FieldPath:   f.FieldPath(),
			Label:       f.Label,
			OldValue:    o,
			NewValue:    n,
			Description: f.Label + " changed",
		})
	}
	return out
}

// NoCatalyst is returned by TimeToCatalyst when no date is known.
const NoCatalyst = 999

// MaxCatalystDays caps TimeToCatalyst for dates further out.
const MaxCatalystDays = 365

// TimeToCatalyst returns the whole days from now until the primary
// completion date, rounded up and capped at MaxCatalystDays. It returns 0
// when the date has passed and NoCatalyst when it is missing or unparseable.
func TimeToCatalyst(s Snapshot, now time.Time) int {
	ds, _ := lookup(s, []string{"protocolSection", "statusModule", "primaryCompletionDateStruct", "date"}).(string)
	if ds == "" {
		return NoCatalyst
	}

	var at time.Time
	var err error
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if at, err = time.Parse(layout, ds); err == nil {
			break
		}
	}
	if err != nil {
		return NoCatalyst
	}

	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(math.Ceil(d.Hours() / 24))
	return min(days, MaxCatalystDays)
}

// Meta is the subset of a registry record used to brief the interpreter.
type Meta struct {
	NCTID     string `json:"nct_id"`
	Title     string `json:"title"`
	Condition string `json:"condition,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// TrialMeta extracts descriptive fields from a snapshot.
func TrialMeta(s Snapshot) Meta {
	m := Meta{}
	m.NCTID, _ = lookup(s, []string{"protocolSection", "identificationModule", "nctId"}).(string)
	m.Title, _ = lookup(s, []string{"protocolSection", "identificationModule", "officialTitle"}).(string)
	if m.Title == "" {
		m.Title, _ = lookup(s, []string{"protocolSection", "identificationModule", "briefTitle"}).(string)
	}
	if conds, ok := lookup(s, []string{"protocolSection", "conditionsModule", "conditions"}).([]any); ok && len(conds) > 0 {
		m.Condition, _ = conds[0].(string)
	}
	if phases, ok := lookup(s, []string{"protocolSection", "designModule", "phases"}).([]any); ok && len(phases) > 0 {
		m.Phase, _ = phases[0].(string)
	}
	return m
}
