// Package agent drives coding-agent conversations for both front-ends of
// warden: the interactive terminal (agent/terminal) and the Agent Client
// Protocol server (agent/acp).
//
// # Components
//
//   - Agent: the reasoning and tool-execution engine. LLMAgent implements it
//     on top of an llm.LLMClient and a tool set.
//   - Conversation: one session's history, turn flags, policy store and gate.
//   - Gate: the confirmation state machine (idle, evaluating,
//     awaiting-decision, resolved) holding the pending action set.
//   - Runner: executes turns as lazy event sequences.
//
// # Turns
//
// RunTurn appends the user message and returns an iter.Seq[Event]. Each step
// asks the Agent for the next assistant message. Tool calls are classified by
// the Gate under the policy current at that moment. When every action is
// auto-approved the batch runs immediately; otherwise the sequence ends with
// EventAwaitingDecision and the turn lives on only as Gate state:
//
//	seq, err := runner.RunTurn(ctx, conv, "fix the failing test")
//	for {
//		var last agent.Event
//		for ev := range seq {
//			render(ev)
//			last = ev
//		}
//		if last.Kind != agent.EventAwaitingDecision {
//			break
//		}
//		for _, a := range last.Pending {
//			conv.Gate.Decide(a.ID, ask(a), "")
//		}
//		seq, err = runner.Resume(ctx, conv)
//	}
//
// Every turn ends with exactly one of EventTurnFinished, EventTurnCancelled
// or EventTurnError. A failed turn leaves the conversation usable.
//
// # Cancellation
//
// Cancel is cooperative. The runner checks the flag before each step and
// before each tool execution; a tool that already started runs to
// completion. Cancelling an idle conversation is a no-op.
//
// # Policy
//
// Decisions that change the policy (approve-always, approve-risk-threshold)
// go through policy.Store.Set like every other policy change. Actions that
// were already pending when the policy changed keep waiting for their own
// decision.
package agent
