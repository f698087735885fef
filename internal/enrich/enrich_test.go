package enrich

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/ctgov"
	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/resilience"
	"github.com/sells-group/watchman/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func registryDetection() model.Detection {
	return model.Detection{
		Ticker:     "ACME",
		DetectedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		SourceTier: model.TierPrimaryRegistry,
		ChangeType: model.ChangeTrialStatus,
		NCTID:      "NCT01234567",
		FieldPath:  "protocolSection.statusModule.overallStatus",
		OldValue:   "RECRUITING",
		NewValue:   "TERMINATED",
		ScoreFinal: 48,
	}
}

const goodJSON = `{"why_it_matters":["a","b"],"benign_explanation":"admin","bear_case":"bad","next_checks":["c"],"noise_flag":"low","confidence":0.8}`

func TestClaudeInterpreter_Interpret(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == DefaultModel &&
			len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, "NCT ID: NCT01234567") &&
			strings.Contains(req.Messages[0].Content, "Trial Title: A Study") &&
			strings.Contains(req.System, "STRICT JSON")
	})).Return(textResponse(goodJSON), nil)

	ci := NewClaudeInterpreter(mc, "", nil)
	ann, err := ci.Interpret(context.Background(), registryDetection(), &ctgov.Meta{Title: "A Study"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ann.WhyItMatters)
	assert.Equal(t, NoiseLow, ann.NoiseFlag)
	assert.InDelta(t, 0.8, ann.Confidence, 1e-9)
	mc.AssertExpectations(t)
}

func TestClaudeInterpreter_BadResponseFallsBack(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("no json here"), nil)

	ann, err := NewClaudeInterpreter(mc, "m", nil).Interpret(context.Background(), registryDetection(), nil)
	require.NoError(t, err)
	assert.Equal(t, Fallback("protocolSection.statusModule.overallStatus"), ann)
}

func TestClaudeInterpreter_TransportError(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := NewClaudeInterpreter(mc, "m", nil).Interpret(context.Background(), registryDetection(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrich: interpret ACME")
}

func TestClaudeInterpreter_BreakerOpens(t *testing.T) {
	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Twice()

	ci := NewClaudeInterpreter(mc, "m", resilience.NewBreaker(2, time.Hour))
	for range 2 {
		_, err := ci.Interpret(context.Background(), registryDetection(), nil)
		require.Error(t, err)
	}
	_, err := ci.Interpret(context.Background(), registryDetection(), nil)
	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestParseAnnotation(t *testing.T) {
	t.Run("code fence repair", func(t *testing.T) {
		ann, err := ParseAnnotation("```json\n" + goodJSON + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "admin", ann.BenignExplanation)
	})

	t.Run("defaults and clamps", func(t *testing.T) {
		ann, err := ParseAnnotation(`{"why_it_matters":["1","2","3","4","5"],"benign_explanation":"","bear_case":"","next_checks":["a","b","c","d"],"noise_flag":"loud","confidence":7}`)
		require.NoError(t, err)
		assert.Len(t, ann.WhyItMatters, 4)
		assert.Len(t, ann.NextChecks, 3)
		assert.Equal(t, NoiseMedium, ann.NoiseFlag)
		assert.Equal(t, 1.0, ann.Confidence)
	})

	t.Run("missing confidence", func(t *testing.T) {
		ann, err := ParseAnnotation(`{"why_it_matters":["x"],"benign_explanation":"b","bear_case":"c","next_checks":["y"]}`)
		require.NoError(t, err)
		assert.Equal(t, 0.5, ann.Confidence)
	})

	t.Run("negative confidence", func(t *testing.T) {
		ann, err := ParseAnnotation(`{"why_it_matters":["x"],"benign_explanation":"b","bear_case":"c","next_checks":["y"],"confidence":-1}`)
		require.NoError(t, err)
		assert.Equal(t, 0.0, ann.Confidence)
	})

	for name, in := range map[string]string{
		"empty why":     `{"why_it_matters":[],"benign_explanation":"b","bear_case":"c","next_checks":["y"]}`,
		"empty checks":  `{"why_it_matters":["x"],"benign_explanation":"b","bear_case":"c","next_checks":[]}`,
		"missing bear":  `{"why_it_matters":["x"],"benign_explanation":"b","next_checks":["y"]}`,
		"not an object": `nothing`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAnnotation(in)
			assert.Error(t, err)
		})
	}
}

func TestBuildEvidencePack_Truncates(t *testing.T) {
	d := registryDetection()
	d.NewValue = strings.Repeat("x", 250)
	p := BuildEvidencePack(d, &ctgov.Meta{Condition: "NASH", Phase: "PHASE2"})
	assert.Len(t, p.NewValue, 203)
	assert.Equal(t, "NASH", p.Condition)
	assert.Equal(t, "2026-03-02T14:00:00Z", p.DetectedAt)
}

func TestInputHash(t *testing.T) {
	p := BuildEvidencePack(registryDetection(), nil)
	h := InputHash(p, "m1")
	assert.True(t, strings.HasPrefix(h, "trial_interp_v1_"))
	assert.Len(t, h, len("trial_interp_v1_")+16)
	assert.Equal(t, h, InputHash(p, "m1"))
	assert.NotEqual(t, h, InputHash(p, "m2"))
}

func TestFallback(t *testing.T) {
	f := Fallback("")
	assert.Equal(t, NoiseHigh, f.NoiseFlag)
	assert.Equal(t, 0.2, f.Confidence)
	assert.Contains(t, f.WhyItMatters[0], "unknown")
}
