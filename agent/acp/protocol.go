package acp

import (
	"encoding/json"
	"fmt"

	"github.com/m4xw311/warden/auth"
)

// ProtocolVersion is the ACP version this server speaks.
const ProtocolVersion = 1

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAuthFailed     = -32000
)

// message is any JSON-RPC frame after its keys were converted to snake_case.
// A request has Method and ID, a notification has Method only, and a
// response to one of our requests has ID and Result or Error.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *message) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, a ...any) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: map[string]any{"details": fmt.Sprintf(format, a...)}}
}

func sessionNotFound(id string) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "Session not found", Data: map[string]any{"session_id": id}}
}

func internalError(reason string, err error) *rpcError {
	return &rpcError{Code: codeInternalError, Message: "Internal error", Data: map[string]any{"reason": reason, "details": err.Error()}}
}

// Internal forms of the protocol payloads. Field names are snake_case; the
// wire uses camelCase and conversion happens on every frame.

type initializeParams struct {
	ProtocolVersion    int             `json:"protocol_version"`
	ClientCapabilities json.RawMessage `json:"client_capabilities,omitempty"`
}

type promptCapabilities struct {
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embedded_context"`
	Image           bool `json:"image"`
}

type mcpCapabilities struct {
	HTTP bool `json:"http"`
	SSE  bool `json:"sse"`
}

type agentCapabilities struct {
	LoadSession        bool               `json:"load_session"`
	PromptCapabilities promptCapabilities `json:"prompt_capabilities"`
	MCPCapabilities    mcpCapabilities    `json:"mcp_capabilities"`
}

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion   int               `json:"protocol_version"`
	AgentCapabilities agentCapabilities `json:"agent_capabilities"`
	AuthMethods       []auth.Method     `json:"auth_methods"`
	AgentInfo         implementation    `json:"agent_info"`
}

type authenticateParams struct {
	MethodID string `json:"method_id"`
}

type envVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type mcpServer struct {
	Type    string        `json:"type,omitempty"`
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Args    []string      `json:"args"`
	Env     []envVariable `json:"env"`
	URL     string        `json:"url,omitempty"`
}

type newSessionParams struct {
	Cwd        string      `json:"cwd"`
	MCPServers []mcpServer `json:"mcp_servers"`
}

type loadSessionParams struct {
	SessionID  string      `json:"session_id"`
	Cwd        string      `json:"cwd"`
	MCPServers []mcpServer `json:"mcp_servers"`
}

type sessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type sessionModeState struct {
	CurrentModeID  string        `json:"current_mode_id"`
	AvailableModes []sessionMode `json:"available_modes"`
}

type newSessionResult struct {
	SessionID string           `json:"session_id"`
	Modes     sessionModeState `json:"modes"`
}

type loadSessionResult struct {
	Modes sessionModeState `json:"modes"`
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

type setModeParams struct {
	SessionID string `json:"session_id"`
	ModeID    string `json:"mode_id"`
}

type sessionInfo struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
	CreatedAt string `json:"created_at"`
	ModeID    string `json:"mode_id"`
	Status    string `json:"status"`
}

type listSessionsResult struct {
	Sessions []sessionInfo `json:"sessions"`
}

type embeddedResource struct {
	URI      string `json:"uri"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// contentBlock is one element of a session/prompt.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// resource_link
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	// resource
	Resource *embeddedResource `json:"resource,omitempty"`
}

type promptParams struct {
	SessionID string         `json:"session_id"`
	Prompt    []contentBlock `json:"prompt"`
}

const (
	stopEndTurn   = "end_turn"
	stopCancelled = "cancelled"
)

type promptResult struct {
	StopReason string `json:"stop_reason"`
}

type permissionOption struct {
	OptionID string `json:"option_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type permissionParams struct {
	SessionID string             `json:"session_id"`
	ToolCall  map[string]any     `json:"tool_call"`
	Options   []permissionOption `json:"options"`
}

type permissionResult struct {
	Outcome struct {
		Outcome  string `json:"outcome"`
		OptionID string `json:"option_id"`
	} `json:"outcome"`
}

type sessionNotification struct {
	SessionID string         `json:"session_id"`
	Update    map[string]any `json:"update"`
}
