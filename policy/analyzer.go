package policy

import (
	"github.com/bmatcuk/doublestar/v4"
)

// RiskArgument is the tool-call argument in which the model rates its own
// action. It is advertised in every tool schema and removed before execution.
const RiskArgument = "security_risk"

// Analyzer rates a proposed tool call.
type Analyzer interface {
	Assess(tool string, args map[string]any) Risk
}

// ArgumentAnalyzer trusts the model-provided security_risk argument.
type ArgumentAnalyzer struct{}

func (ArgumentAnalyzer) Assess(_ string, args map[string]any) Risk {
	v, ok := args[RiskArgument].(string)
	if !ok {
		return RiskUnknown
	}
	r, err := ParseRisk(v)
	if err != nil {
		return RiskUnknown
	}
	return r
}

// Rule pins the risk of every tool whose name matches the Tool glob.
type Rule struct {
	Tool string
	Risk Risk
}

// RuleAnalyzer applies the first matching rule and otherwise defers to
// Fallback (the argument analyzer when nil).
type RuleAnalyzer struct {
	Rules    []Rule
	Fallback Analyzer
}

func (a RuleAnalyzer) Assess(tool string, args map[string]any) Risk {
	for _, rule := range a.Rules {
		if ok, err := doublestar.Match(rule.Tool, tool); err == nil && ok {
			return rule.Risk
		}
	}
	if a.Fallback == nil {
		return ArgumentAnalyzer{}.Assess(tool, args)
	}
	return a.Fallback.Assess(tool, args)
}
