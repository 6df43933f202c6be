package acp

import (
	"context"

	"github.com/m4xw311/warden/agent"
)

var permissionOptions = []permissionOption{
	{OptionID: "accept", Name: "Yes, proceed", Kind: "allow_once"},
	{OptionID: "reject", Name: "Reject", Kind: "reject_once"},
	{OptionID: "always_proceed", Name: "Always proceed (don't ask again)", Kind: "allow_always"},
	{OptionID: "risk_based", Name: "Auto-confirm LOW/MEDIUM risk, ask for HIGH risk action", Kind: "allow_once"},
	{OptionID: "defer", Name: "Decide later", Kind: "reject_once"},
}

var optionDecisions = map[string]agent.Decision{
	"accept":         agent.Approve,
	"always_proceed": agent.ApproveAlways,
	"risk_based":     agent.ApproveRiskThreshold,
	"reject":         agent.Reject,
	"defer":          agent.Defer,
}

const (
	rejectedByUser  = "User rejected the action. Please ask the user how they want to proceed."
	cancelledByUser = "User cancelled the action. Please ask the user how they want to proceed."
)

// decisionFor maps a permission response onto a gate decision. A cancelled
// outcome and unknown options reject; a failed request defers.
func decisionFor(res *permissionResult, err error) (agent.Decision, string) {
	if err != nil {
		return agent.Defer, ""
	}
	if res.Outcome.Outcome != "selected" {
		return agent.Reject, cancelledByUser
	}
	d, ok := optionDecisions[res.Outcome.OptionID]
	if !ok {
		return agent.Reject, rejectedByUser
	}
	if d == agent.Reject {
		return d, rejectedByUser
	}
	return d, ""
}

// decide asks the client about each pending action in order and records the
// answers in the gate. It stops early on defer or when ctx ends, which
// happens when the turn is cancelled.
func (s *Server) decide(ctx context.Context, sessionID string, conv *agent.Conversation, pending []agent.Action) {
	for _, a := range pending {
		if ctx.Err() != nil {
			return
		}
		var res permissionResult
		err := s.call(ctx, "session/request_permission", permissionParams{
			SessionID: sessionID,
			ToolCall:  toolCallInfo(a.Call(), "pending"),
			Options:   permissionOptions,
		}, &res)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("permission request failed, deferring", "session", sessionID, "action", a.ID, "error", err)
		}

		d, reason := decisionFor(&res, err)
		s.logger.Debug("permission decided", "session", sessionID, "action", a.ID, "decision", d)
		if err := conv.Gate.Decide(a.ID, d, reason); err != nil {
			s.logger.Warn("could not record decision, deferring", "session", sessionID, "action", a.ID, "error", err)
			conv.Gate.DecideAll(agent.Defer, "")
			return
		}
		if d == agent.Defer {
			return
		}
	}
}
