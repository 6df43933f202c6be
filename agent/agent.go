package agent

import (
	"context"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/tools"
)

// Agent is the reasoning and tool-execution engine driven by the Runner.
// Step proposes the next assistant message for the history; Execute runs one
// approved tool call.
type Agent interface {
	Step(ctx context.Context, history []llm.Message) (*llm.Message, error)
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

const defaultSystemPrompt = `You are a coding agent working in the user's project directory.
Use the available tools to inspect and change files and to run commands.
Rate every tool call with the security_risk argument: LOW for read-only actions,
MEDIUM for reversible changes inside the project, HIGH for anything destructive,
networked or outside the project. Keep a plan with task_tracker for multi-step work.`

// LLMAgent is the Agent backed by an LLMClient and a fixed tool set.
type LLMAgent struct {
	client       llm.LLMClient
	tools        []tools.Tool
	byName       map[string]tools.Tool
	systemPrompt string
}

type LLMAgentOption func(*LLMAgent)

// WithSystemPrompt replaces the built-in system prompt. An empty prompt
// sends none.
func WithSystemPrompt(p string) LLMAgentOption {
	return func(a *LLMAgent) { a.systemPrompt = p }
}

func New(client llm.LLMClient, active []tools.Tool, opts ...LLMAgentOption) *LLMAgent {
	a := &LLMAgent{
		client:       client,
		tools:        active,
		byName:       make(map[string]tools.Tool, len(active)),
		systemPrompt: defaultSystemPrompt,
	}
	for _, t := range active {
		a.byName[t.Name()] = t
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LLMAgent) Tools() []tools.Tool { return a.tools }

func (a *LLMAgent) Step(ctx context.Context, history []llm.Message) (*llm.Message, error) {
	msgs := history
	if a.systemPrompt != "" {
		msgs = append([]llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt}}, history...)
	}
	msg, err := a.client.Chat(ctx, msgs, a.tools)
	if err != nil {
		return nil, errors.Wrapf(err, "LLM chat failed")
	}
	if msg.Role == "" {
		msg.Role = llm.RoleAssistant
	}
	return msg, nil
}

// Execute validates the arguments against the tool schema and runs it. The
// risk self-assessment is not passed on to the tool.
func (a *LLMAgent) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	t, ok := a.byName[call.Name]
	if !ok {
		return "", errors.New("tool '%s' is not available", call.Name)
	}
	args := make(map[string]any, len(call.Args))
	for k, v := range call.Args {
		if k != policy.RiskArgument {
			args[k] = v
		}
	}
	if err := tools.Validate(t, args); err != nil {
		return "", err
	}
	return t.Execute(ctx, args)
}
