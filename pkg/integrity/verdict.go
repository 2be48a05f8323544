package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mnemom/aip/pkg/types"
)

var verdictSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("verdict.json", strings.NewReader(VerdictSchemaJSON)); err != nil {
		panic(fmt.Sprintf("integrity: compiling verdict schema: %v", err))
	}
	s, err := compiler.Compile("verdict.json")
	if err != nil {
		panic(fmt.Sprintf("integrity: invalid verdict schema: %v", err))
	}
	verdictSchema = s
}

// rawVerdict is the wire shape the analysis model is asked to produce.
type rawVerdict struct {
	Verdict          string          `json:"verdict"`
	Concerns         []rawConcern    `json:"concerns"`
	ReasoningSummary string          `json:"reasoning_summary"`
	Conscience       rawConscience   `json:"conscience_context"`
}

type rawConcern struct {
	Category                string `json:"category"`
	Severity                string `json:"severity"`
	Description             string `json:"description"`
	Evidence                string `json:"evidence"`
	RelevantCardField       string `json:"relevant_card_field"`
	RelevantConscienceValue string `json:"relevant_conscience_value"`
}

type rawConscience struct {
	ValuesChecked      []string `json:"values_checked"`
	Conflicts          []string `json:"conflicts"`
	Supports           []string `json:"supports"`
	Considerations     []string `json:"considerations"`
	ConsultationDepth  string   `json:"consultation_depth"`
}

// Concern categories are not a closed set in the schema (category is a
// free-form string), but severities and verdicts are closed enums
// enforced by the schema itself.

// extractJSONObject returns the first balanced-brace JSON object
// substring of raw, starting at its first '{'. Analysis models occasionally wrap their JSON reply
// in prose or markdown fences; this recovers the payload without
// requiring an exact-match reply.
func extractJSONObject(raw []byte) ([]byte, bool) {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return nil, false
}

// ParseVerdict parses and schema-validates the analysis model's raw
// reply. On any failure — no JSON found, schema violation, or an
// unparseable verdict enum — it fails open with a synthetic clear
// verdict carrying zero extraction confidence, so a flaky analysis
// model never blocks the underlying request.
func ParseVerdict(raw []byte) (types.AnalysisMetadata, []types.Concern, string, types.ConscienceContext, types.Verdict) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return failOpenVerdict()
	}

	var doc any
	if err := json.Unmarshal(obj, &doc); err != nil {
		return failOpenVerdict()
	}
	if err := verdictSchema.Validate(doc); err != nil {
		return failOpenVerdict()
	}

	var rv rawVerdict
	if err := json.Unmarshal(obj, &rv); err != nil {
		return failOpenVerdict()
	}

	verdict := types.Verdict(rv.Verdict)
	switch verdict {
	case types.VerdictClear, types.VerdictReviewNeeded, types.VerdictBoundaryViolation:
	default:
		return failOpenVerdict()
	}

	concerns := make([]types.Concern, 0, len(rv.Concerns))
	for _, c := range rv.Concerns {
		concerns = append(concerns, types.Concern{
			Category:                c.Category,
			Severity:                types.Severity(c.Severity),
			Description:             c.Description,
			Evidence:                c.Evidence,
			RelevantCardField:       c.RelevantCardField,
			RelevantConscienceValue: c.RelevantConscienceValue,
		})
	}

	cc := types.ConscienceContext{
		ValuesChecked:      rv.Conscience.ValuesChecked,
		Conflicts:          rv.Conscience.Conflicts,
		Supports:           rv.Conscience.Supports,
		Considerations:     rv.Conscience.Considerations,
		ConsultationDepth:  types.ConsultationDepth(rv.Conscience.ConsultationDepth),
	}

	meta := types.AnalysisMetadata{ExtractionConfidence: 1.0, FailedOpen: false}
	return meta, concerns, rv.ReasoningSummary, cc, verdict
}

func failOpenVerdict() (types.AnalysisMetadata, []types.Concern, string, types.ConscienceContext, types.Verdict) {
	meta := types.AnalysisMetadata{ExtractionConfidence: 0, FailedOpen: true}
	cc := types.ConscienceContext{ConsultationDepth: types.ConsultationSurface}
	return meta, nil, "analysis model reply could not be parsed; failed open", cc, types.VerdictClear
}

// AnalysisClient is the narrow interface Engine needs from the
// analysis-model wrapper, allowing the model client to live in its own
// package (analysismodel) without an import cycle.
type AnalysisClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) ([]byte, error)
}
