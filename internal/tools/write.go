package tools

import (
	"context"
	"fmt"
)

// WriteTool creates or overwrites a file in the run's workspace (spec §4.3
// "write").
type WriteTool struct {
	workspace string
}

func NewWriteTool(workspace string) *WriteTool { return &WriteTool{workspace: workspace} }

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Create or overwrite a file with the given content" }
func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable description shown while the write runs",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []string{"label", "path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	content, _ := args["content"].(string)

	ex := ToolExecutorFromCtx(ctx)
	if ex == nil {
		return ErrorResult("no sandbox executor available for this run")
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}

	resolved, err := resolvePath(path, workspace)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if err := ex.WriteFile(ctx, resolved, []byte(content)); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	return SilentResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}
