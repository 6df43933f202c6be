package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
	root     string
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Relative paths are resolved against the session working directory."
}

func (t *ReadFileTool) Schema() map[string]any {
	return objectSchema([]string{"path"}, map[string]any{
		"path": map[string]any{"type": "string", "description": "File to read"},
	})
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}
	abs, rel := resolve(t.root, path)

	hidden, err := isPathRestricted(rel, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
	root     string
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Missing parent directories are created."
}

func (t *WriteFileTool) Schema() map[string]any {
	return objectSchema([]string{"path", "content"}, map[string]any{
		"path":    map[string]any{"type": "string", "description": "File to write"},
		"content": map[string]any{"type": "string", "description": "Complete new file content"},
	})
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}
	abs, rel := resolve(t.root, path)

	hidden, err := isPathRestricted(rel, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	readOnly, err := isPathRestricted(rel, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent of '%s'", path)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}
