// Package policy holds the per-session confirmation policy: which proposed
// actions need an explicit decision before they run.
package policy

import (
	"fmt"
	"strings"

	"github.com/m4xw311/warden/errors"
)

var (
	ErrUnknownRisk = errors.Sentinel("unknown risk level")
	ErrUnknownMode = errors.Sentinel("unknown confirmation mode")
)

// Risk is the security classification of a proposed action.
type Risk int

const (
	RiskUnknown Risk = iota
	RiskLow
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// ParseRisk accepts the level names case-insensitively.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNKNOWN", "":
		return RiskUnknown, nil
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	}
	return RiskUnknown, errors.Wrapf(ErrUnknownRisk, "%q", s)
}

// Kind tags the closed set of policy variants.
type Kind int

const (
	AlwaysConfirm Kind = iota
	ConfirmRisky
	NeverConfirm
)

// Policy is a tagged variant. Threshold and ConfirmUnknown only apply to
// ConfirmRisky.
type Policy struct {
	Kind           Kind
	Threshold      Risk
	ConfirmUnknown bool
}

// DefaultThreshold is used by ConfirmRisky when no threshold is configured.
const DefaultThreshold = RiskHigh

func Always() Policy { return Policy{Kind: AlwaysConfirm} }

func Never() Policy { return Policy{Kind: NeverConfirm} }

// Risky confirms actions at or above threshold. Actions whose risk could not
// be assessed are confirmed as well.
func Risky(threshold Risk) Policy {
	if threshold == RiskUnknown {
		threshold = DefaultThreshold
	}
	return Policy{Kind: ConfirmRisky, Threshold: threshold, ConfirmUnknown: true}
}

// RequiresConfirmation is the classification function of the gate.
func (p Policy) RequiresConfirmation(r Risk) bool {
	switch p.Kind {
	case NeverConfirm:
		return false
	case ConfirmRisky:
		if r == RiskUnknown {
			return p.ConfirmUnknown
		}
		return r >= p.Threshold
	default:
		return true
	}
}

func (p Policy) String() string {
	switch p.Kind {
	case NeverConfirm:
		return "never-confirm"
	case ConfirmRisky:
		return fmt.Sprintf("confirm-risky(%s)", p.Threshold)
	default:
		return "confirm-everything"
	}
}

// Mode is the user-facing name of a policy, used by session/set_mode and
// the /confirm command.
type Mode string

const (
	ModeAlwaysAsk     Mode = "always-ask"
	ModeLLMApprove    Mode = "llm-approve"
	ModeAlwaysApprove Mode = "always-approve"
)

// ModeInfo describes one selectable mode.
type ModeInfo struct {
	ID          Mode
	Name        string
	Description string
}

// Modes lists the selectable modes in display order.
func Modes() []ModeInfo {
	return []ModeInfo{
		{ModeAlwaysAsk, "Always Ask", "Request permission before every action"},
		{ModeLLMApprove, "LLM Approve", "Only ask for actions the security analyzer rates high risk"},
		{ModeAlwaysApprove, "Always Approve", "Run every action without asking"},
	}
}

func (p Policy) Mode() Mode {
	switch p.Kind {
	case NeverConfirm:
		return ModeAlwaysApprove
	case ConfirmRisky:
		return ModeLLMApprove
	default:
		return ModeAlwaysAsk
	}
}

// FromMode maps a mode name to its policy. The legacy names "prompt" and
// "auto" are accepted as aliases.
func FromMode(mode string) (Policy, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(mode))) {
	case ModeAlwaysAsk, "prompt":
		return Always(), nil
	case ModeLLMApprove:
		return Risky(DefaultThreshold), nil
	case ModeAlwaysApprove, "auto":
		return Never(), nil
	}
	return Policy{}, errors.Wrapf(ErrUnknownMode, "%q", mode)
}
