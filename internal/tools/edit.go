package tools

import (
	"context"
	"fmt"
)

// EditTool replaces one exact occurrence of old with new in a file (spec
// §4.3 "edit"). It fails if old doesn't appear exactly once, so the model
// can't silently edit the wrong spot in an ambiguous file.
type EditTool struct {
	workspace string
}

func NewEditTool(workspace string) *EditTool { return &EditTool{workspace: workspace} }

func (t *EditTool) Name() string { return "edit" }
func (t *EditTool) Description() string {
	return "Replace one exact, unique occurrence of text in a file"
}
func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable description shown while the edit runs",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
			"old": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace; must occur exactly once in the file",
			},
			"new": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"label", "path", "old", "new"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	oldText, _ := args["old"].(string)
	if oldText == "" {
		return ErrorResult("old is required")
	}
	newText, _ := args["new"].(string)

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

	if err := ex.EditFile(ctx, resolved, oldText, newText, true); err != nil {
		return ErrorResult(err.Error())
	}

	return SilentResult(fmt.Sprintf("applied edit to %s", path))
}
