package tools

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/tools/mcp"
)

func newTestRegistry(t *testing.T, mutate func(*config.Config)) (*ToolRegistry, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewToolRegistry(cfg, dir, slog.New(slog.DiscardHandler)), dir
}

func TestGetActiveTools(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	active, err := r.GetActiveTools(&config.Toolset{Name: "t", Tools: []string{"read_file", "think"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].Name() != "read_file" || active[1].Name() != "think" {
		t.Fatalf("active = %v", active)
	}

	if _, err := r.GetActiveTools(&config.Toolset{Name: "t", Tools: []string{"nope"}}); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestWildcardMCPToolWithoutServer(t *testing.T) {
	registry := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
	}
	_, err := registry.GetActiveTools(&config.Toolset{Name: "test", Tools: []string{"gopls:*"}})
	if err == nil || !strings.Contains(err.Error(), "gopls") {
		t.Fatalf("err = %v", err)
	}
}

func TestFileToolsRespectRootAndAccess(t *testing.T) {
	r, dir := newTestRegistry(t, func(cfg *config.Config) {
		cfg.FilesystemAccess.ReadOnly = []string{"vendor/**"}
		cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, "secrets.txt")
	})
	ctx := context.Background()
	write, _ := r.GetTool("write_file")
	read, _ := r.GetTool("read_file")

	if _, err := write.Execute(ctx, map[string]any{"path": "sub/a.txt", "content": "hi"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "a.txt"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("file content = %q, %v", data, err)
	}

	got, err := read.Execute(ctx, map[string]any{"path": "sub/a.txt"})
	if err != nil || got != "hi" {
		t.Fatalf("read = %q, %v", got, err)
	}

	tests := []struct {
		name string
		tool Tool
		args map[string]any
	}{
		{"read-only", write, map[string]any{"path": "vendor/x.go", "content": "x"}},
		{"hidden read", read, map[string]any{"path": "secrets.txt"}},
		{"config dir", read, map[string]any{"path": ".warden/config.yaml"}},
		{"missing arg", read, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.tool.Execute(ctx, tt.args); err == nil {
				t.Fatal("expected access error")
			}
		})
	}
}

func TestExecuteCommandAllowlist(t *testing.T) {
	r, dir := newTestRegistry(t, func(cfg *config.Config) {
		cfg.AllowedCommands = []string{"^pwd$", "[invalid"}
	})
	cmd, _ := r.GetTool("execute_command")

	out, err := cmd.Execute(context.Background(), map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Base(dir)) {
		t.Fatalf("command did not run in the session directory: %q", out)
	}

	if _, err := cmd.Execute(context.Background(), map[string]any{"command": "rm -rf /"}); err == nil {
		t.Fatal("disallowed command executed")
	}
}

func TestValidate(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	write, _ := r.GetTool("write_file")

	if err := Validate(write, map[string]any{"path": "a", "content": "b"}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := Validate(write, map[string]any{"path": "a"}); err == nil {
		t.Fatal("missing content accepted")
	}
	if err := Validate(write, map[string]any{"path": 3, "content": "b"}); err == nil {
		t.Fatal("wrong type accepted")
	}
}

func TestTaskTracker(t *testing.T) {
	tracker := &TaskTrackerTool{}
	args := map[string]any{
		"command": "plan",
		"task_list": []any{
			map[string]any{"title": "write tests", "status": "done"},
			map[string]any{"title": "ship"},
		},
	}
	if err := Validate(tracker, args); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	view, err := tracker.Execute(context.Background(), map[string]any{"command": "view"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(view, "[done] write tests") || !strings.Contains(view, "[todo] ship") {
		t.Fatalf("view = %q", view)
	}
}
