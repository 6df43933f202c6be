package acp

import (
	"fmt"
	"strings"

	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/tools"
)

// session/update kinds.
const (
	updateUserChunk     = "user_message_chunk"
	updateAgentChunk    = "agent_message_chunk"
	updateThoughtChunk  = "agent_thought_chunk"
	updateToolCall      = "tool_call"
	updateToolCallState = "tool_call_update"
	updatePlan          = "plan"
	updateCurrentMode   = "current_mode_update"
	updateCommands      = "available_commands_update"
)

// ToolKind maps a tool name onto the ACP tool kind vocabulary. Unknown tools
// are "other".
func ToolKind(tool string, args map[string]any) string {
	switch {
	case tool == "execute_command" || tool == "terminal":
		return "execute"
	case strings.HasPrefix(tool, "browser") || strings.HasPrefix(tool, "fetch"):
		return "fetch"
	case tool == "read_file":
		return "read"
	case tool == "file_editor":
		if cmd, _ := args["command"].(string); cmd == "view" {
			return "read"
		}
		return "edit"
	case tool == "write_file":
		return "edit"
	case tool == "think":
		return "think"
	}
	return "other"
}

func toolTitle(tool string, args map[string]any) string {
	path, _ := args["path"].(string)
	switch ToolKind(tool, args) {
	case "execute":
		if cmd, ok := args["command"].(string); ok && cmd != "" {
			return cmd
		}
	case "read":
		if path != "" {
			return "Reading " + path
		}
	case "edit":
		if path != "" {
			return "Editing " + path
		}
	}
	if tool == tools.TaskTrackerName {
		return "Plan updated"
	}
	return tool
}

// rawInput is the tool arguments as shown to the client, without the risk
// self-assessment.
func rawInput(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k != policy.RiskArgument {
			out[k] = v
		}
	}
	return out
}

func textContent(text string) []any {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []any{map[string]any{
		"type":    "content",
		"content": map[string]any{"type": "text", "text": text},
	}}
}

func chunk(kind, text string) map[string]any {
	return map[string]any{
		"session_update": kind,
		"content":        map[string]any{"type": "text", "text": text},
	}
}

// toolCallInfo describes a call the way both tool_call updates and
// permission requests present it.
func toolCallInfo(call llm.ToolCall, status string) map[string]any {
	u := map[string]any{
		"tool_call_id": call.ToolCallID,
		"title":        toolTitle(call.Name, call.Args),
		"kind":         ToolKind(call.Name, call.Args),
		"status":       status,
		"raw_input":    rawInput(call.Args),
	}
	if path, ok := call.Args["path"].(string); ok && path != "" {
		u["locations"] = []any{map[string]any{"path": path}}
	}
	return u
}

func toolCallUpdate(call llm.ToolCall, status string) map[string]any {
	u := toolCallInfo(call, status)
	u["session_update"] = updateToolCall
	return u
}

func toolProgress(id, status, text string) map[string]any {
	u := map[string]any{
		"session_update": updateToolCallState,
		"tool_call_id":   id,
		"status":         status,
	}
	if c := textContent(text); c != nil {
		u["content"] = c
	}
	return u
}

var planStatus = map[string]string{
	tools.TaskTodo:       "pending",
	tools.TaskInProgress: "in_progress",
	tools.TaskDone:       "completed",
}

func planUpdate(tasks []tools.Task) map[string]any {
	entries := make([]any, 0, len(tasks))
	for _, t := range tasks {
		status, ok := planStatus[t.Status]
		if !ok {
			status = "pending"
		}
		entries = append(entries, map[string]any{"content": t.Title, "status": status, "priority": "medium"})
	}
	return map[string]any{"session_update": updatePlan, "entries": entries}
}

// Translator turns one session's agent events into session/update payloads,
// in the order the events arrive. Consecutive message or thought chunks are
// merged while the merged text stays within limit bytes; a limit of zero
// forwards every chunk as is. Suspension and terminal events produce no
// update of their own: they end the session/prompt request.
type Translator struct {
	limit int
	emit  func(update map[string]any)

	buf     strings.Builder
	bufKind string
}

func NewTranslator(limit int, emit func(update map[string]any)) *Translator {
	return &Translator{limit: limit, emit: emit}
}

func (t *Translator) Translate(ev agent.Event) {
	switch ev.Kind {
	case agent.EventMessage:
		t.text(updateAgentChunk, ev.Text)
		return
	case agent.EventThought:
		t.text(updateThoughtChunk, ev.Text)
		return
	}

	t.Flush()
	switch ev.Kind {
	case agent.EventToolProposed:
		t.emit(toolCallUpdate(ev.Action.Call(), "pending"))
	case agent.EventToolStarted:
		t.emit(toolProgress(ev.Action.ID, "in_progress", ""))
	case agent.EventToolResult:
		status := "completed"
		if ev.Failed {
			status = "failed"
		}
		u := toolProgress(ev.Action.ID, status, ev.Output)
		u["raw_output"] = map[string]any{"output": ev.Output}
		t.emit(u)
	case agent.EventToolRejected:
		t.emit(toolProgress(ev.Action.ID, "failed", ev.Text))
	case agent.EventPlan:
		t.emit(planUpdate(ev.Plan))
	case agent.EventPaused:
		t.emit(chunk(updateThoughtChunk, fmt.Sprintf("Paused with %d action(s) waiting for a decision. Send another prompt to review them.", len(ev.Pending))))
	}
}

func (t *Translator) text(kind, text string) {
	if text == "" {
		return
	}
	if t.limit <= 0 {
		t.emit(chunk(kind, text))
		return
	}
	if t.bufKind != kind || t.buf.Len()+len(text) > t.limit {
		t.Flush()
	}
	t.bufKind = kind
	t.buf.WriteString(text)
}

// Flush emits any merged text still held back.
func (t *Translator) Flush() {
	if t.buf.Len() == 0 {
		return
	}
	t.emit(chunk(t.bufKind, t.buf.String()))
	t.buf.Reset()
	t.bufKind = ""
}

// replay converts a stored history into the updates a client needs to
// rebuild the conversation.
func replay(history []llm.Message, emit func(update map[string]any)) {
	for _, m := range history {
		switch m.Role {
		case llm.RoleUser:
			emit(chunk(updateUserChunk, m.Content))
		case llm.RoleAssistant:
			if m.Content != "" {
				kind := updateAgentChunk
				if len(m.ToolCalls) > 0 {
					kind = updateThoughtChunk
				}
				emit(chunk(kind, m.Content))
			}
			for _, tc := range m.ToolCalls {
				emit(toolCallUpdate(tc, "pending"))
			}
		case llm.RoleTool:
			if len(m.ToolCalls) == 0 {
				continue
			}
			status := "completed"
			if m.Failed {
				status = "failed"
			}
			emit(toolProgress(m.ToolCalls[0].ToolCallID, status, m.Content))
		}
	}
}
