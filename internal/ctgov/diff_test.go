package ctgov

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/model"
)

const studyJSON = `{
  "protocolSection": {
    "identificationModule": {"nctId": "NCT01234567", "briefTitle": "Short", "officialTitle": "A Phase 3 Study of ABC-101"},
    "statusModule": {
      "overallStatus": "RECRUITING",
      "completionDateStruct": {"date": "2027-06", "type": "ESTIMATED"},
      "primaryCompletionDateStruct": {"date": "2027-01-15", "type": "ESTIMATED"},
      "lastUpdatePostDateStruct": {"date": "2026-09-01"}
    },
    "outcomesModule": {"primaryOutcomes": [{"measure": "Overall survival", "timeFrame": "24 months"}]},
    "designModule": {"enrollmentInfo": {"count": 420, "type": "ESTIMATED"}, "phases": ["PHASE3"]},
    "conditionsModule": {"conditions": ["Glioblastoma", "Astrocytoma"]}
  }
}`

func mustSnapshot(t *testing.T, s string) Snapshot {
	t.Helper()
	snap, err := ParseSnapshot([]byte(s))
	require.NoError(t, err)
	return snap
}

func setPath(s Snapshot, value any, path ...string) {
	cur := map[string]any(s)
	for _, k := range path[:len(path)-1] {
		cur = cur[k].(map[string]any)
	}
	cur[path[len(path)-1]] = value
}

func TestHash_Deterministic(t *testing.T) {
	a := mustSnapshot(t, studyJSON)
	b := mustSnapshot(t, studyJSON)
	assert.Equal(t, Hash(a), Hash(b))
	assert.Len(t, Hash(a), 64)
}

func TestHash_IgnoresUnwatchedFields(t *testing.T) {
	a := mustSnapshot(t, studyJSON)
	b := mustSnapshot(t, studyJSON)
	setPath(b, map[string]any{"date": "2026-10-01"}, "protocolSection", "statusModule", "lastUpdatePostDateStruct")
	setPath(b, "Renamed", "protocolSection", "identificationModule", "briefTitle")

	assert.Equal(t, Hash(a), Hash(b))
	assert.Empty(t, Diff(a, b))
}

func TestHash_ChangesWithWatchedField(t *testing.T) {
	a := mustSnapshot(t, studyJSON)
	b := mustSnapshot(t, studyJSON)
	setPath(b, "TERMINATED", "protocolSection", "statusModule", "overallStatus")
	assert.NotEqual(t, Hash(a), Hash(b))
}

func TestHash_KeyOrderIndependent(t *testing.T) {
	a := mustSnapshot(t, `{"protocolSection":{"designModule":{"enrollmentInfo":{"count":10,"type":"ACTUAL"}}}}`)
	b := mustSnapshot(t, `{"protocolSection":{"designModule":{"enrollmentInfo":{"type":"ACTUAL","count":10}}}}`)
	assert.Equal(t, Hash(a), Hash(b))
}

func TestDiff_StatusChange(t *testing.T) {
	old := mustSnapshot(t, studyJSON)
	cur := mustSnapshot(t, studyJSON)
	setPath(cur, "TERMINATED", "protocolSection", "statusModule", "overallStatus")

	diffs := Diff(old, cur)
	require.Len(t, diffs, 1)
	assert.Equal(t, model.ChangeTrialStatus, diffs[0].ChangeType)
	assert.Equal(t, "protocolSection.statusModule.overallStatus", diffs[0].FieldPath)
	assert.Equal(t, "RECRUITING", diffs[0].OldValue)
	assert.Equal(t, "TERMINATED", diffs[0].NewValue)
	assert.Equal(t, "Overall Status changed", diffs[0].Description)
}

func TestDiff_MultipleInWatchedOrder(t *testing.T) {
	old := mustSnapshot(t, studyJSON)
	cur := mustSnapshot(t, studyJSON)
	setPath(cur, map[string]any{"count": 300, "type": "ACTUAL"}, "protocolSection", "designModule", "enrollmentInfo")
	setPath(cur, "ACTIVE_NOT_RECRUITING", "protocolSection", "statusModule", "overallStatus")
	setPath(cur, map[string]any{"date": "2027-09-30", "type": "ESTIMATED"}, "protocolSection", "statusModule", "primaryCompletionDateStruct")

	diffs := Diff(old, cur)
	require.Len(t, diffs, 3)
	assert.Equal(t, model.ChangeTrialStatus, diffs[0].ChangeType)
	assert.Equal(t, "Primary Completion Date", diffs[1].Label)
	assert.Equal(t, model.ChangeTrialDate, diffs[1].ChangeType)
	assert.Equal(t, model.ChangeEnrollment, diffs[2].ChangeType)
	assert.Equal(t, `{"count":420,"type":"ESTIMATED"}`, diffs[2].OldValue)
	assert.Equal(t, `{"count":300,"type":"ACTUAL"}`, diffs[2].NewValue)
}

func TestDiff_MissingField(t *testing.T) {
	old := mustSnapshot(t, `{"protocolSection":{"statusModule":{}}}`)
	cur := mustSnapshot(t, `{"protocolSection":{"statusModule":{"overallStatus":"COMPLETED"}}}`)

	diffs := Diff(old, cur)
	require.Len(t, diffs, 1)
	assert.Equal(t, "", diffs[0].OldValue)
	assert.Equal(t, "COMPLETED", diffs[0].NewValue)
}

func TestTimeToCatalyst(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		date any
		want int
	}{
		{"future day", "2026-10-20", 5},
		{"partial day rounds up", "2026-10-16", 1},
		{"month precision", "2026-12", 47},
		{"far future capped", "2029-01-01", 365},
		{"past", "2025-01-01", 0},
		{"unparseable", "soon", NoCatalyst},
		{"absent", nil, NoCatalyst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSnapshot(t, studyJSON)
			setPath(s, map[string]any{"date": tt.date}, "protocolSection", "statusModule", "primaryCompletionDateStruct")
			if tt.date == nil {
				setPath(s, nil, "protocolSection", "statusModule", "primaryCompletionDateStruct")
			}
			assert.Equal(t, tt.want, TimeToCatalyst(s, now))
		})
	}
}

func TestTrialMeta(t *testing.T) {
	m := TrialMeta(mustSnapshot(t, studyJSON))
	assert.Equal(t, "NCT01234567", m.NCTID)
	assert.Equal(t, "A Phase 3 Study of ABC-101", m.Title)
	assert.Equal(t, "Glioblastoma", m.Condition)
	assert.Equal(t, "PHASE3", m.Phase)

	empty := TrialMeta(Snapshot{})
	assert.Empty(t, empty.Title)
}
