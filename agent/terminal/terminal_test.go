package terminal

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/session"
	"github.com/m4xw311/warden/tools"
)

type countingTool struct {
	mu sync.Mutex
	n  int
}

func (c *countingTool) Name() string           { return "execute_command" }
func (c *countingTool) Description() string    { return "runs a command" }
func (c *countingTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (c *countingTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return "file.txt", nil
}

func (c *countingTool) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func command(id string) llm.ToolCall {
	return llm.ToolCall{ToolCallID: id, Name: "execute_command", Args: map[string]any{"command": "ls", policy.RiskArgument: "LOW"}}
}

// newTestSession creates a session whose agent replays replies.
func newTestSession(t *testing.T, tool *countingTool, replies ...llm.Message) *session.Session {
	t.Helper()
	factory := func(ctx context.Context, id string, spec session.Spec) (agent.Agent, func() error, error) {
		client := &llm.ScriptedClient{Replies: replies}
		return agent.New(client, []tools.Tool{tool}, agent.WithSystemPrompt("")), nil, nil
	}
	registry := session.NewRegistry(factory)
	t.Cleanup(registry.Close)
	sess, err := registry.Create(context.Background(), session.Spec{Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return sess
}

func run(t *testing.T, sess *session.Session, input, initial string, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	term := New(agent.NewRunner(), sess, strings.NewReader(input), &out, opts...)
	if err := term.Run(context.Background(), initial); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return out.String()
}

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		in      string
		want    Verbosity
		wantErr bool
	}{
		{"", VerbosityNone, false},
		{"none", VerbosityNone, false},
		{"INFO", VerbosityInfo, false},
		{"all", VerbosityAll, false},
		{"loud", VerbosityNone, true},
	}
	for _, tt := range tests {
		got, err := ParseVerbosity(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseVerbosity(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestTerminalRun(t *testing.T) {
	sess := newTestSession(t, &countingTool{}, llm.Message{Role: llm.RoleAssistant, Content: "hi there"})

	out := run(t, sess, "", "hello")
	if !strings.Contains(out, "Warden: hi there") {
		t.Errorf("output = %q", out)
	}

	// Without an initial prompt and without input the session just ends.
	run(t, sess, "", "")
}

func TestTerminalApprovesAction(t *testing.T) {
	tool := &countingTool{}
	sess := newTestSession(t, tool,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{command("c1")}},
		llm.Message{Role: llm.RoleAssistant, Content: "listed"},
	)

	out := run(t, sess, "maybe\ny\n", "list files", WithVerbosity(VerbosityAll))
	if tool.count() != 1 {
		t.Errorf("tool ran %d times, want 1", tool.count())
	}
	for _, want := range []string{"Warden wants to call `execute_command`", "Tool `execute_command` output: file.txt", "Warden: listed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q\nGot: %s", want, out)
		}
	}
}

func TestTerminalAlwaysSwitchesMode(t *testing.T) {
	tool := &countingTool{}
	sess := newTestSession(t, tool,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{command("c1")}},
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{command("c2")}},
		llm.Message{Role: llm.RoleAssistant, Content: "done"},
	)

	out := run(t, sess, "a\n", "go")
	if tool.count() != 2 {
		t.Errorf("tool ran %d times, want 2", tool.count())
	}
	if sess.Policy().Get() != policy.Never() {
		t.Errorf("policy = %v", sess.Policy().Get())
	}
	if strings.Count(out, "Allow?") != 1 {
		t.Errorf("asked %d times, want once", strings.Count(out, "Allow?"))
	}
	if !strings.Contains(out, "Confirmation mode: always-approve") {
		t.Errorf("mode change not shown: %s", out)
	}
}

func TestTerminalDeferAndResume(t *testing.T) {
	tool := &countingTool{}
	sess := newTestSession(t, tool,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{command("c1")}},
		llm.Message{Role: llm.RoleAssistant, Content: "resumed"},
	)

	out := run(t, sess, "d\n/resume\ny\n", "go")
	if !strings.Contains(out, "Paused with 1 action(s) waiting") {
		t.Errorf("pause not shown: %s", out)
	}
	if tool.count() != 1 || !strings.Contains(out, "Warden: resumed") {
		t.Errorf("resume did not run the action: count=%d\n%s", tool.count(), out)
	}
}

func TestTerminalRejectAndQuit(t *testing.T) {
	tool := &countingTool{}
	sess := newTestSession(t, tool,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{command("c1")}},
		llm.Message{Role: llm.RoleAssistant, Content: "ok"},
		llm.Message{Role: llm.RoleAssistant, Content: "never reached"},
	)

	out := run(t, sess, "n\n/quit\nthis is not sent\n", "go", WithVerbosity(VerbosityInfo))
	if tool.count() != 0 {
		t.Errorf("rejected tool ran")
	}
	if !strings.Contains(out, "Tool `execute_command` was not run") {
		t.Errorf("rejection not shown: %s", out)
	}
	if strings.Contains(out, "never reached") {
		t.Errorf("input after /quit was processed")
	}
}

func TestTerminalCommands(t *testing.T) {
	sess := newTestSession(t, &countingTool{})

	out := run(t, sess, "/help\n/confirm\n/confirm llm-approve\n/confirm bogus\n/resume\n/nope\n", "")
	for _, want := range []string{
		"/confirm [mode]",
		"Current confirmation mode: always-ask",
		"Confirmation mode: llm-approve",
		"unknown confirmation mode",
		"Nothing to resume.",
		"Unknown command /nope",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q\nGot: %s", want, out)
		}
	}
	if sess.Policy().Get() != policy.Risky(policy.RiskHigh) {
		t.Errorf("policy = %v", sess.Policy().Get())
	}
}
