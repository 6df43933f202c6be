package tools

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/tools/mcp"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON schema of the arguments object.
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry holds the tools available to one session.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	logger     *slog.Logger
}

// NewToolRegistry registers the built-in tools rooted at workdir.
func NewToolRegistry(cfg *config.Config, workdir string, logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		logger:     logger,
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess, root: workdir})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess, root: workdir})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands, root: workdir, logger: logger})
	r.Register(&ThinkTool{})
	r.Register(&TaskTrackerTool{})
	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// AddMCPClient makes the tools of a started MCP server addressable as
// "<server>:<tool>" in toolsets. The registry stops the client on Close.
func (r *ToolRegistry) AddMCPClient(c *mcp.MCPClient) {
	r.mcpClients[c.Name] = c
}

// MCPTools returns every tool of the named server, sorted by name.
func (r *ToolRegistry) MCPTools(server string) ([]Tool, bool) {
	c, ok := r.mcpClients[server]
	if !ok {
		return nil, false
	}
	var out []Tool
	for _, t := range c.Tools() {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, true
}

// GetActiveTools returns the tool instances for a given toolset. MCP tools are
// referenced as "<server>:<tool>" or "<server>:*".
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if server, name, ok := strings.Cut(toolName, ":"); ok {
			c, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("MCP server '%s' from toolset '%s' is not running", server, ts.Name)
			}
			if name == "*" {
				all, _ := r.MCPTools(server)
				activeTools = append(activeTools, all...)
				continue
			}
			t, found := c.GetTool(name)
			if !found {
				return nil, errors.New("MCP server '%s' has no tool '%s'", server, name)
			}
			activeTools = append(activeTools, t)
			continue
		}

		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

// Close stops every MCP server started for this registry.
func (r *ToolRegistry) Close() error {
	var errs []error
	for name, c := range r.mcpClients {
		if err := c.Stop(); err != nil {
			errs = append(errs, errors.Wrapf(err, "stopping MCP server '%s'", name))
		}
		delete(r.mcpClients, name)
	}
	return errors.Join(errs...)
}

// resolve returns the absolute path of p inside root and the slash-separated
// form used for access patterns.
func resolve(root, p string) (abs, rel string) {
	if filepath.IsAbs(p) || root == "" {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(root, p)
	}
	rel = abs
	if root != "" {
		if r, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	return abs, filepath.ToSlash(rel)
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string, logger *slog.Logger) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("invalid regex in allowed_commands", "pattern", pattern, "error", err)
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
