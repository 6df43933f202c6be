package llm

// Role of a message author in the conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool messages carry one tool result; ToolCalls[0] identifies the call.
	RoleTool Role = "tool"
)

type ToolCall struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
}

type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Failed marks tool results that report an error or a rejection.
	Failed bool `json:"failed,omitempty"`
}

// ToolResult builds the history entry answering call.
func ToolResult(call ToolCall, content string, failed bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCalls: []ToolCall{call}, Failed: failed}
}
