package agent

import (
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/tools"
)

// EventKind enumerates what a turn can emit.
type EventKind int

const (
	// EventMessage is assistant text addressed to the user.
	EventMessage EventKind = iota
	// EventThought is assistant text that accompanies tool calls.
	EventThought
	EventToolProposed
	EventToolStarted
	EventToolResult
	EventToolRejected
	EventPlan
	// EventAwaitingDecision suspends the turn until every pending action is
	// decided and the turn is resumed. It is not terminal.
	EventAwaitingDecision
	// EventPaused reports a deferred turn. It is not terminal.
	EventPaused
	EventTurnFinished
	EventTurnCancelled
	EventTurnError
)

var eventKindNames = map[EventKind]string{
	EventMessage:          "message",
	EventThought:          "thought",
	EventToolProposed:     "tool-proposed",
	EventToolStarted:      "tool-started",
	EventToolResult:       "tool-result",
	EventToolRejected:     "tool-rejected",
	EventPlan:             "plan",
	EventAwaitingDecision: "awaiting-decision",
	EventPaused:           "paused",
	EventTurnFinished:     "turn-finished",
	EventTurnCancelled:    "turn-cancelled",
	EventTurnError:        "turn-error",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether k ends a turn.
func (k EventKind) Terminal() bool {
	return k == EventTurnFinished || k == EventTurnCancelled || k == EventTurnError
}

// Suspends reports whether k ends the current event sequence without ending
// the turn.
func (k EventKind) Suspends() bool {
	return k == EventAwaitingDecision || k == EventPaused
}

// Action is one proposed tool call.
type Action struct {
	ID   string
	Tool string
	Args map[string]any
	Risk policy.Risk
}

func (a Action) Call() llm.ToolCall {
	return llm.ToolCall{ToolCallID: a.ID, Name: a.Tool, Args: a.Args}
}

type Event struct {
	Kind EventKind
	// Text of a message or thought, or the reason of a rejection.
	Text    string
	Action  *Action
	Output  string
	Failed  bool
	Plan    []tools.Task
	Pending []Action
	Err     error
}
