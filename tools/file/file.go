// Package file provides workspace-confined file tools for agents under the
// "fs" service group.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archonlabs/archon"
)

// maxReadChars bounds fs-read-file-operator output; oversized reads are truncated with a
// marker.
const maxReadChars = 8000

// workspace resolves tool paths inside a sandboxed directory.
type workspace struct {
	root string
}

func (w workspace) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(w.root, path)
	if !strings.HasPrefix(resolved, w.root) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

// state is the shared environment snapshot: the workspace location,
// contributed once no matter how many fs tools are registered.
func (w workspace) state() archon.ToolState {
	return archon.ToolState{Key: "fs-workspace", StateString: "workspace root: " + w.root}
}

// ReadTool reads files from the workspace.
type ReadTool struct {
	ws workspace
}

// WriteTool writes files into the workspace.
type WriteTool struct {
	ws workspace
}

// ListTool lists workspace directories.
type ListTool struct {
	ws workspace
}

// New creates the fs tool set restricted to root.
func New(root string) (*ReadTool, *WriteTool, *ListTool) {
	ws := workspace{root: root}
	return &ReadTool{ws: ws}, &WriteTool{ws: ws}, &ListTool{ws: ws}
}

func (t *ReadTool) Definition() archon.ToolDefinition {
	return archon.ToolDefinition{
		Name:        "fs-read-file-operator",
		Description: "Read a file from the workspace. Large files are truncated.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string","description":"Path relative to workspace"}},"required":["file_path"]}`),
	}
}

func (t *ReadTool) Run(_ context.Context, _ archon.ToolContext, args json.RawMessage) (archon.ToolResult, error) {
	var params struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return archon.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	path, err := t.ws.resolve(params.FilePath)
	if err != nil {
		return archon.ToolResult{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return archon.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return archon.ToolResult{Output: content}, nil
}

func (t *ReadTool) CurrentState() archon.ToolState { return t.ws.state() }

func (t *WriteTool) Definition() archon.ToolDefinition {
	return archon.ToolDefinition{
		Name:        "fs-write-file-operator",
		Description: "Write content to a file in the workspace. Creates parent directories if needed.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string","description":"Path relative to workspace"},"contents":{"type":"string"}},"required":["file_path","contents"]}`),
	}
}

func (t *WriteTool) Run(_ context.Context, _ archon.ToolContext, args json.RawMessage) (archon.ToolResult, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Contents string `json:"contents"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return archon.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	path, err := t.ws.resolve(params.FilePath)
	if err != nil {
		return archon.ToolResult{Error: err.Error()}, nil
	}
	created := true
	if _, statErr := os.Stat(path); statErr == nil {
		created = false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return archon.ToolResult{Error: "mkdir error: " + err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(params.Contents), 0o644); err != nil {
		return archon.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	verb := "updated"
	if created {
		verb = "created"
	}
	return archon.ToolResult{Output: fmt.Sprintf("File written successfully (%s): %s", verb, params.FilePath)}, nil
}

func (t *WriteTool) CurrentState() archon.ToolState { return t.ws.state() }

func (t *ListTool) Definition() archon.ToolDefinition {
	return archon.ToolDefinition{
		Name:        "fs-list-directory-operator",
		Description: "List files and directories in a workspace directory, one entry per line.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory relative to workspace; empty for root"}}}`),
	}
}

func (t *ListTool) Run(_ context.Context, _ archon.ToolContext, args json.RawMessage) (archon.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return archon.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
	}
	path, err := t.ws.resolve(params.Path)
	if err != nil {
		return archon.ToolResult{Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return archon.ToolResult{Error: "list error: " + err.Error()}, nil
	}
	var b strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "%s %s\n", kind, e.Name())
	}
	return archon.ToolResult{Output: b.String()}, nil
}

func (t *ListTool) CurrentState() archon.ToolState { return t.ws.state() }

var (
	_ archon.StatefulTool = (*ReadTool)(nil)
	_ archon.StatefulTool = (*WriteTool)(nil)
	_ archon.StatefulTool = (*ListTool)(nil)
)
