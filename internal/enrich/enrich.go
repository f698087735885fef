// Package enrich attaches model-written interpretations to registry
// detections. Annotations are stored alongside a detection and never feed
// back into scoring or policy evaluation.
package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sells-group/watchman/internal/ctgov"
	"github.com/sells-group/watchman/internal/model"
)

// PromptVersion is mixed into every input hash so a prompt change
// invalidates earlier annotations.
const PromptVersion = "trial_interp_v1"

// maxValueLen bounds old/new values placed in the evidence pack.
const maxValueLen = 200

// Noise flags.
const (
	NoiseLow    = "low"
	NoiseMedium = "medium"
	NoiseHigh   = "high"
)

// Annotation is the structured interpretation of one trial change.
type Annotation struct {
	WhyItMatters      []string `json:"why_it_matters"`
	BenignExplanation string   `json:"benign_explanation"`
	BearCase          string   `json:"bear_case"`
	NextChecks        []string `json:"next_checks"`
	NoiseFlag         string   `json:"noise_flag"`
	Confidence        float64  `json:"confidence"`
}

// Interpreter produces an annotation for a registry detection.
type Interpreter interface {
	Interpret(ctx context.Context, d model.Detection, meta *ctgov.Meta) (*Annotation, error)
	Model() string
}

// EvidencePack is everything the interpreter is allowed to see.
type EvidencePack struct {
	Ticker        string `json:"ticker"`
	NCTID         string `json:"nct_id"`
	FieldPath     string `json:"field_path"`
	OldValue      string `json:"old_value,omitempty"`
	NewValue      string `json:"new_value,omitempty"`
	OfficialTitle string `json:"official_title,omitempty"`
	Condition     string `json:"condition,omitempty"`
	Phase         string `json:"phase,omitempty"`
	DetectedAt    string `json:"detected_at"`
}

// BuildEvidencePack assembles the pack for d. meta may be nil.
func BuildEvidencePack(d model.Detection, meta *ctgov.Meta) EvidencePack {
	p := EvidencePack{
		Ticker:     d.Ticker,
		NCTID:      d.NCTID,
		FieldPath:  d.FieldPath,
		OldValue:   truncate(d.OldValue, maxValueLen),
		NewValue:   truncate(d.NewValue, maxValueLen),
		DetectedAt: d.DetectedAt.UTC().Format(time.RFC3339),
	}
	if meta != nil {
		p.OfficialTitle = meta.Title
		p.Condition = meta.Condition
		p.Phase = meta.Phase
	}
	return p
}

// InputHash identifies a (pack, model, prompt version) combination.
func InputHash(pack EvidencePack, modelName string) string {
	payload, _ := json.Marshal(struct {
		Pack    EvidencePack `json:"pack"`
		Model   string       `json:"model"`
		Version string       `json:"version"`
	}{pack, modelName, PromptVersion})
	sum := sha256.Sum256(payload)
	return PromptVersion + "_" + hex.EncodeToString(sum[:])[:16]
}

// Fallback is the low-confidence annotation stored when interpretation fails.
func Fallback(fieldPath string) *Annotation {
	if fieldPath == "" {
		fieldPath = "unknown"
	}
	return &Annotation{
		WhyItMatters: []string{
			"Trial record changed: " + fieldPath,
			"Review context in the registry for details",
		},
		BenignExplanation: "Could be routine administrative update",
		BearCase:          "May indicate substantive change to trial conduct",
		NextChecks: []string{
			"Check the registry history tab",
			"Review company press releases",
		},
		NoiseFlag:  NoiseHigh,
		Confidence: 0.2,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
