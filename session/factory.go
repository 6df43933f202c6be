package session

import (
	"context"
	"log/slog"

	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/tools"
	"github.com/m4xw311/warden/tools/mcp"
)

// LLMFactory builds LLM-backed agents. Every session gets its own tool
// registry rooted at its working directory. MCP servers from the
// configuration are started for every session and enabled through the
// toolset; servers passed with the session are enabled in full.
func LLMFactory(cfg *config.Config, client llm.LLMClient, toolset string, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, id string, spec Spec) (agent.Agent, func() error, error) {
		ts, err := cfg.GetToolset(toolset)
		if err != nil {
			return nil, nil, err
		}
		registry := tools.NewToolRegistry(cfg, spec.Cwd, logger.With("session", id))

		for _, server := range cfg.AdditionalMCPServers {
			c, err := mcp.NewMCPClient(ctx, server, spec.Cwd, logger)
			if err != nil {
				logger.Warn("could not start MCP server", "server", server.Name, "error", err)
				continue
			}
			registry.AddMCPClient(c)
		}

		var extra []tools.Tool
		for _, server := range spec.MCPServers {
			c, err := mcp.NewMCPClient(ctx, server, spec.Cwd, logger)
			if err != nil {
				registry.Close()
				return nil, nil, errors.Wrapf(err, "starting MCP server '%s'", server.Name)
			}
			registry.AddMCPClient(c)
			all, _ := registry.MCPTools(c.Name)
			extra = append(extra, all...)
		}

		active, err := registry.GetActiveTools(ts)
		if err != nil {
			registry.Close()
			return nil, nil, err
		}
		active = append(active, extra...)
		logger.Debug("session tools ready", "session", id, "toolset", ts.Name, "tools", len(active))
		return agent.New(client, active), registry.Close, nil
	}
}
