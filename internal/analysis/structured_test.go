package analysis

import (
	"strings"
	"testing"
)

func TestExtractJSONForms(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"fenced json", "```json\n{\"vote\":\"adopt\"}\n```", `{"vote":"adopt"}`},
		{"bare fence", "```\n{\"vote\":\"reject\"}\n```", `{"vote":"reject"}`},
		{"prose around raw object", `Sure! {"vote":"adopt","reasoning":"ok"} Hope that helps.`, `{"vote":"adopt","reasoning":"ok"}`},
		{"braces inside strings", `{"vote":"adopt","reasoning":"uses {curly} text"}`, `{"vote":"adopt","reasoning":"uses {curly} text"}`},
		{"no json at all", "plain prose", ""},
		{"unbalanced", `{"vote":"adopt"`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.text); got != tc.want {
				t.Fatalf("extractJSON(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestVerdictValidatorRejectsMissingFields(t *testing.T) {
	v, err := newVerdictValidator()
	if err != nil {
		t.Fatalf("newVerdictValidator: %v", err)
	}

	if _, err := v.Parse(`{"vote":"adopt"}`); err == nil {
		t.Fatal("missing reasoning must fail validation")
	}
	if _, err := v.Parse(`{"vote":"adopt","reasoning":"ok","extra":1}`); err == nil {
		t.Fatal("extra fields must fail validation")
	}

	verdict, err := v.Parse(`{"vote":"ADOPT","reasoning":"ok"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if verdict.Vote != "ADOPT" || verdict.Reasoning != "ok" {
		t.Fatalf("verdict = %+v", verdict)
	}
	if !strings.EqualFold(verdict.Vote, "adopt") {
		t.Fatal("case preserved for downstream parsing")
	}
}
