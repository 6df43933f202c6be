package policy

import "testing"

func TestRuleAnalyzer(t *testing.T) {
	a := RuleAnalyzer{Rules: []Rule{
		{Tool: "execute_command", Risk: RiskHigh},
		{Tool: "read_*", Risk: RiskLow},
		{Tool: "*", Risk: RiskMedium},
	}}

	tests := []struct {
		tool string
		args map[string]any
		want Risk
	}{
		{"execute_command", map[string]any{RiskArgument: "LOW"}, RiskHigh},
		{"read_file", nil, RiskLow},
		{"write_file", nil, RiskMedium},
	}
	for _, tt := range tests {
		if got := a.Assess(tt.tool, tt.args); got != tt.want {
			t.Errorf("Assess(%q) = %s, want %s", tt.tool, got, tt.want)
		}
	}
}

func TestRuleAnalyzerFallback(t *testing.T) {
	a := RuleAnalyzer{Rules: []Rule{{Tool: "think", Risk: RiskLow}}}
	if got := a.Assess("write_file", map[string]any{RiskArgument: "medium"}); got != RiskMedium {
		t.Fatalf("fallback = %s", got)
	}
	if got := a.Assess("write_file", map[string]any{RiskArgument: 3}); got != RiskUnknown {
		t.Fatalf("non-string risk = %s", got)
	}
}
