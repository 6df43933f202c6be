package acp

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestCaseConversion(t *testing.T) {
	tests := []struct {
		snake, camel string
	}{
		{"session_id", "sessionId"},
		{"tool_call_id", "toolCallId"},
		{"protocol_version", "protocolVersion"},
		{"jsonrpc", "jsonrpc"},
		{"id", "id"},
	}
	for _, tt := range tests {
		if got := snakeToCamel(tt.snake); got != tt.camel {
			t.Errorf("snakeToCamel(%q) = %q, want %q", tt.snake, got, tt.camel)
		}
		if got := camelToSnake(tt.camel); got != tt.snake {
			t.Errorf("camelToSnake(%q) = %q, want %q", tt.camel, got, tt.snake)
		}
	}
}

func TestToWireConvertsWholeFrame(t *testing.T) {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params": sessionNotification{
			SessionID: "s1",
			Update: map[string]any{
				"session_update": "tool_call",
				"tool_call_id":   "c1",
				"raw_input":      map[string]any{"file_path": "/a<b>.go"},
				"_meta":          map[string]any{"trace_id": "t"},
			},
		},
	}
	data, err := toWire(frame)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	params := got["params"].(map[string]any)
	if params["sessionId"] != "s1" {
		t.Errorf("params = %v", params)
	}
	update := params["update"].(map[string]any)
	want := map[string]any{
		"sessionUpdate": "tool_call",
		"toolCallId":    "c1",
		"rawInput":      map[string]any{"file_path": "/a<b>.go"},
		"_meta":         map[string]any{"trace_id": "t"},
	}
	if !reflect.DeepEqual(update, want) {
		t.Errorf("update = %v, want %v", update, want)
	}
	if strings.Contains(string(data), `\u003c`) {
		t.Errorf("HTML characters were escaped: %s", data)
	}
}

func TestFromWireKeepsIDsAndOpaqueValues(t *testing.T) {
	in := []byte(`{"jsonrpc":"2.0","id":12345678901234567,"method":"session/prompt","params":{"sessionId":"s1","rawOutput":{"exitCode":0},"prompt":[{"type":"text","text":"hi","mimeType":"text/plain"}]}}`)
	generic, err := decodeGeneric(in)
	if err != nil {
		t.Fatal(err)
	}
	data, err := fromWire(generic)
	if err != nil {
		t.Fatal(err)
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if string(msg.ID) != "12345678901234567" {
		t.Errorf("id = %s", msg.ID)
	}
	var params map[string]any
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params["session_id"] != "s1" {
		t.Errorf("params = %v", params)
	}
	if out := params["raw_output"].(map[string]any); out["exitCode"] == nil {
		t.Errorf("opaque value was converted: %v", out)
	}
	block := params["prompt"].([]any)[0].(map[string]any)
	if block["mime_type"] != "text/plain" {
		t.Errorf("nested key not converted: %v", block)
	}
}

func TestDecodeGenericRejectsTrailingData(t *testing.T) {
	for _, in := range []string{
		`{"id":1} garbage`,
		`{"id":1}{"id":2}`,
		`{"id":1} 2`,
	} {
		if _, err := decodeGeneric([]byte(in)); err == nil {
			t.Errorf("decodeGeneric(%q) accepted trailing data", in)
		}
	}
	if _, err := decodeGeneric([]byte("{\"id\":1}  \r\n")); err != nil {
		t.Errorf("trailing whitespace rejected: %v", err)
	}
}
