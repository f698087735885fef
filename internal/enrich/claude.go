package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/ctgov"
	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/resilience"
	"github.com/sells-group/watchman/pkg/anthropic"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

const systemPrompt = `You are a biotech trial-change interpreter for investors. Use ONLY the provided evidence pack to analyze the significance of a clinical trial record change. If information is missing, acknowledge it. Do not invent facts or speculate beyond the evidence.

Output STRICT JSON only with this exact schema:
{
  "why_it_matters": ["string", ...],   // 2-4 short bullets
  "benign_explanation": "string",      // innocent reason for change
  "bear_case": "string",               // negative interpretation
  "next_checks": ["string", ...],      // 2-3 action items
  "noise_flag": "low" | "medium" | "high",
  "confidence": 0.0 to 1.0             // material significance vs admin churn
}`

// ClaudeInterpreter interprets trial changes with the Messages API.
type ClaudeInterpreter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	breaker   *resilience.Breaker
}

// NewClaudeInterpreter wraps client. An empty model selects DefaultModel.
func NewClaudeInterpreter(client anthropic.Client, modelName string, breaker *resilience.Breaker) *ClaudeInterpreter {
	if modelName == "" {
		modelName = DefaultModel
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(3, 0)
	}
	return &ClaudeInterpreter{client: client, model: modelName, maxTokens: 1024, breaker: breaker}
}

// Model returns the configured model name.
func (c *ClaudeInterpreter) Model() string { return c.model }

// Interpret asks the model for an annotation. A response that cannot be
// parsed or fails validation yields the fallback annotation with no error;
// transport failures are returned to the caller.
func (c *ClaudeInterpreter) Interpret(ctx context.Context, d model.Detection, meta *ctgov.Meta) (*Annotation, error) {
	pack := BuildEvidencePack(d, meta)
	temp := 0.2

	resp, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			System:      systemPrompt,
			Messages:    []anthropic.Message{{Role: "user", Content: userPrompt(pack)}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: interpret %s %s", d.Ticker, d.NCTID)
	}
	resp.Usage.LogCost(c.model, "enrich")

	ann, err := ParseAnnotation(resp.Text())
	if err != nil {
		zap.L().Warn("enrich: unusable interpretation, using fallback",
			zap.String("ticker", d.Ticker),
			zap.String("nct_id", d.NCTID),
			zap.Error(err),
		)
		return Fallback(d.FieldPath), nil
	}
	return ann, nil
}

func userPrompt(p EvidencePack) string {
	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}
	var b strings.Builder
	b.WriteString("Analyze this clinical trial record change:\n\n")
	fmt.Fprintf(&b, "Ticker: %s\n", p.Ticker)
	fmt.Fprintf(&b, "NCT ID: %s\n", p.NCTID)
	fmt.Fprintf(&b, "Field Changed: %s\n", p.FieldPath)
	fmt.Fprintf(&b, "Old Value: %s\n", orNone(p.OldValue))
	fmt.Fprintf(&b, "New Value: %s\n", orNone(p.NewValue))
	if p.OfficialTitle != "" {
		fmt.Fprintf(&b, "Trial Title: %s\n", p.OfficialTitle)
	}
	if p.Condition != "" {
		fmt.Fprintf(&b, "Condition: %s\n", p.Condition)
	}
	if p.Phase != "" {
		fmt.Fprintf(&b, "Phase: %s\n", p.Phase)
	}
	fmt.Fprintf(&b, "Detected At: %s\n\n", p.DetectedAt)
	b.WriteString("Provide your analysis as JSON.")
	return b.String()
}

// ParseAnnotation decodes and validates a model response. Text around the
// outermost JSON object, including code fences, is ignored.
func ParseAnnotation(text string) (*Annotation, error) {
	var raw struct {
		WhyItMatters      []any    `json:"why_it_matters"`
		BenignExplanation *string  `json:"benign_explanation"`
		BearCase          *string  `json:"bear_case"`
		NextChecks        []any    `json:"next_checks"`
		NoiseFlag         string   `json:"noise_flag"`
		Confidence        *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		if err2 := json.Unmarshal([]byte(extractObject(text)), &raw); err2 != nil {
			return nil, eris.Wrap(err2, "enrich: parse response")
		}
	}

	switch {
	case len(raw.WhyItMatters) == 0:
		return nil, eris.New("enrich: why_it_matters is empty")
	case len(raw.NextChecks) == 0:
		return nil, eris.New("enrich: next_checks is empty")
	case raw.BenignExplanation == nil:
		return nil, eris.New("enrich: benign_explanation missing")
	case raw.BearCase == nil:
		return nil, eris.New("enrich: bear_case missing")
	}

	a := &Annotation{
		WhyItMatters:      stringsOf(raw.WhyItMatters, 4),
		BenignExplanation: *raw.BenignExplanation,
		BearCase:          *raw.BearCase,
		NextChecks:        stringsOf(raw.NextChecks, 3),
		NoiseFlag:         raw.NoiseFlag,
		Confidence:        0.5,
	}
	switch a.NoiseFlag {
	case NoiseLow, NoiseMedium, NoiseHigh:
	default:
		a.NoiseFlag = NoiseMedium
	}
	if raw.Confidence != nil {
		a.Confidence = min(max(*raw.Confidence, 0), 1)
	}
	return a, nil
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func stringsOf(vals []any, limit int) []string {
	out := make([]string, 0, min(len(vals), limit))
	for _, v := range vals {
		if len(out) == limit {
			break
		}
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}
