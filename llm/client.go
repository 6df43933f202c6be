package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error)
}

// New returns the client for the named provider.
func New(ctx context.Context, provider, model string) (LLMClient, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model)
	case "openai":
		return NewOpenAILLMClient(ctx, model)
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "mock", "":
		return &MockLLMClient{}, nil
	}
	return nil, errors.New("unknown LLM provider %q", provider)
}

// InputSchema is the argument schema advertised to the model for t: the
// tool's own schema plus the security_risk self-assessment.
func InputSchema(t tools.Tool) map[string]any {
	schema := map[string]any{"type": "object"}
	for k, v := range t.Schema() {
		schema[k] = v
	}
	props := map[string]any{}
	if existing, ok := schema["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props[policy.RiskArgument] = map[string]any{
		"type":        "string",
		"enum":        []any{"LOW", "MEDIUM", "HIGH"},
		"description": "Your assessment of the safety risk of this call.",
	}
	schema["properties"] = props
	return schema
}

// requiredFields reads the "required" list of a schema regardless of how
// the slice was built.
func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// MockLLMClient parrots the last user message and never calls tools.
type MockLLMClient struct{}

func (m *MockLLMClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}
	return &Message{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
	}, nil
}

// ScriptedClient replays a fixed list of replies, one per Chat call. Once the
// script runs out it answers with an empty assistant message.
type ScriptedClient struct {
	mu      sync.Mutex
	Replies []Message
	// Errs, when set at the same index as a reply, is returned instead.
	Errs  map[int]error
	calls int
	Seen  [][]Message
}

func (s *ScriptedClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.Seen = append(s.Seen, append([]Message(nil), messages...))
	if err, ok := s.Errs[i]; ok {
		return nil, err
	}
	if i >= len(s.Replies) {
		return &Message{Role: RoleAssistant}, nil
	}
	reply := s.Replies[i]
	return &reply, nil
}

// Calls reports how many times Chat was invoked.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
