package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(*options) bool
	}{
		{"defaults", nil, false, func(o *options) bool { return !o.acp && o.toolVerbosity == "none" && o.prompt == "" }},
		{"acp", []string{"--acp", "--trace"}, false, func(o *options) bool { return o.acp && o.trace }},
		{"prompt words", []string{"-m", "always-approve", "fix", "the", "build"}, false, func(o *options) bool {
			return o.mode == "always-approve" && o.prompt == "fix the build"
		}},
		{"resume", []string{"-r", "abc"}, false, func(o *options) bool { return o.resume == "abc" }},
		{"bad mode", []string{"--mode", "yolo"}, true, nil},
		{"bad verbosity", []string{"--tool-verbosity", "loud"}, true, nil},
		{"unknown flag", []string{"--nope"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(o) {
				t.Errorf("parseFlags(%v) = %+v", tt.args, o)
			}
		})
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "llm: mock\nsession_dir: " + filepath.Join(dir, "sessions") + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunACP(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":1}}` + "\n")
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"--acp", "--config", writeConfig(t)}, in, &out, &errOut)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"protocolVersion":1`) {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestRunTerminal(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--config", writeConfig(t)}, strings.NewReader("/quit\n"), &out, &errOut)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Starting new session: ") {
		t.Errorf("stdout = %q", out.String())
	}

	err = run(context.Background(), []string{"--config", writeConfig(t), "-r", "missing"}, strings.NewReader(""), &out, &errOut)
	if err == nil {
		t.Error("resuming an unknown session succeeded")
	}
}
