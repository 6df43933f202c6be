package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/tools"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	for _, env := range []string{"AWS_DEFAULT_REGION", "AWS_REGION"} {
		if region == "" {
			region = os.Getenv(env)
		}
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	var opts []func(*bedrockruntime.Options)
	// Custom endpoint, mostly for local testing.
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, func(o *bedrockruntime.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}

	return &BedrockLLMClient{
		client:  bedrockruntime.NewFromConfig(cfg, opts...),
		modelID: modelID,
		region:  region,
	}, nil
}

func (b *BedrockLLMClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicFormat(messages)

	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat builds the raw Messages API payload used by
// Bedrock. Consecutive tool results share one user turn.
func convertMessagesToAnthropicFormat(messages []Message) ([]map[string]any, string) {
	var out []map[string]any
	var systemPrompt string
	var results []map[string]any

	flush := func() {
		if len(results) > 0 {
			out = append(out, map[string]any{"role": "user", "content": results})
			results = nil
		}
	}

	for _, msg := range messages {
		if msg.Role != RoleTool {
			flush()
		}
		switch msg.Role {
		case RoleUser:
			out = append(out, map[string]any{
				"role":    "user",
				"content": []map[string]any{{"type": "text", "text": msg.Content}},
			})
		case RoleAssistant:
			var content []map[string]any
			if msg.Content != "" {
				content = append(content, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    tc.ToolCallID,
					"name":  tc.Name,
					"input": args,
				})
			}
			if len(content) > 0 {
				out = append(out, map[string]any{"role": "assistant", "content": content})
			}
		case RoleTool:
			if len(msg.ToolCalls) > 0 {
				results = append(results, map[string]any{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCalls[0].ToolCallID,
					"content":     msg.Content,
					"is_error":    msg.Failed,
				})
			}
		case RoleSystem:
			systemPrompt = msg.Content
		}
	}
	flush()

	return out, systemPrompt
}

func createAnthropicRequest(messages []map[string]any, systemPrompt string, availableTools []tools.Tool) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(availableTools) > 0 {
		var toolDefs []map[string]any
		for _, tool := range availableTools {
			toolDefs = append(toolDefs, map[string]any{
				"name":         tool.Name(),
				"description":  tool.Description(),
				"input_schema": InputSchema(tool),
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

func processBedrockResponse(body []byte) (*Message, error) {
	var response map[string]any
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	out := &Message{Role: RoleAssistant}
	content, ok := response["content"]
	if !ok {
		return out, nil
	}
	contentArray, ok := content.([]any)
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	for i, item := range contentArray {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				out.Content += text
			}
		case "tool_use":
			name, _ := itemMap["name"].(string)
			input, _ := itemMap["input"].(map[string]any)
			if name == "" {
				continue
			}
			id, ok := itemMap["id"].(string)
			if !ok {
				id = fmt.Sprintf("call_%d_%s", i, name)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ToolCallID: id, Name: name, Args: input})
		}
	}
	return out, nil
}
