package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool
	logger *slog.Logger
}

// NewMCPClient starts the MCP server subprocess in workdir and discovers the
// tools it provides.
func NewMCPClient(ctx context.Context, server config.MCPServer, workdir string, logger *slog.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if server.Command == "" {
		return nil, errors.New("MCP server '%s' has no command", server.Name)
	}

	cmd := exec.Command(server.Command, server.Args...)
	cmd.Dir = workdir
	cmd.Stderr = os.Stderr
	if len(server.Env) > 0 {
		cmd.Env = os.Environ()
		for _, e := range server.Env {
			cmd.Env = append(cmd.Env, e.Name+"="+e.Value)
		}
	}

	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "warden", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}
	client := &MCPClient{
		Name:   server.Name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*MCPTool),
		logger: logger,
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, params)
		if err != nil {
			client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}

		for _, t := range toolList.Tools {
			client.tools[t.Name] = &MCPTool{
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaMap(t.InputSchema),
				client:      client,
			}
		}

		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	logger.Info("MCP server started", "server", server.Name, "tools", len(client.tools))
	return client, nil
}

// GetTool returns a specific tool provided by this MCP server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Stop closes the session and terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server", "server", c.Name)
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	toolName    string
	description string
	schema      map[string]any
	client      *MCPClient
}

func (t *MCPTool) Name() string { return t.toolName }

func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) Schema() map[string]any { return t.schema }

// Execute sends the arguments to the MCP server and concatenates the text
// content of the result.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var b strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", t.Name(), b.String())
	}
	return b.String(), nil
}

// schemaMap converts the SDK schema into a plain JSON object. Servers that
// publish no schema accept any object.
func schemaMap(schema any) map[string]any {
	fallback := map[string]any{"type": "object"}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil || string(data) == "null" {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || len(m) == 0 {
		return fallback
	}
	return m
}
