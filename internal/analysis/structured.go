package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// verdictSchema is the shape the model must produce. The vote value itself
// is checked separately so that a near-miss like "Adopt" can be accepted
// case-insensitively while anything else stays a hard failure.
const verdictSchema = `{
	"type": "object",
	"required": ["vote", "reasoning"],
	"additionalProperties": false,
	"properties": {
		"vote": {"type": "string"},
		"reasoning": {"type": "string", "minLength": 1}
	}
}`

// Verdict is the structured result extracted from a model response.
type Verdict struct {
	Vote      string `json:"vote"`
	Reasoning string `json:"reasoning"`
}

type verdictValidator struct {
	schema *jsonschema.Schema
}

func newVerdictValidator() (*verdictValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(verdictSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal verdict schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("verdict.json", doc); err != nil {
		return nil, fmt.Errorf("add verdict schema: %w", err)
	}
	schema, err := c.Compile("verdict.json")
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &verdictValidator{schema: schema}, nil
}

// Parse extracts the JSON object from raw model text and validates its
// shape. A missing or malformed object is an unparseable-result failure.
func (v *verdictValidator) Parse(responseText string) (*Verdict, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", errUnparseableResult)
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseableResult, err)
	}
	if err := v.schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseableResult, err)
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(jsonStr), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseableResult, err)
	}
	return &verdict, nil
}

// extractJSON finds a JSON object in model output, trying a ```json fence,
// a bare fence, then the first balanced brace span.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced returns the balanced {...} span at the start of s,
// tracking string literals and escapes so braces inside text don't count.
func extractBalanced(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
