package tools

import (
	"context"
	"fmt"

	"github.com/momhq/mom/internal/chatqueue"
	"github.com/momhq/mom/internal/sandbox"
)

// AttachTool uploads a file the agent produced to the chat (spec §4.3
// "attach"). When the run is sandboxed, path is a container-local path and
// gets translated back to the host path before the file is read.
type AttachTool struct {
	workspace string
}

func NewAttachTool(workspace string) *AttachTool { return &AttachTool{workspace: workspace} }

func (t *AttachTool) Name() string        { return "attach" }
func (t *AttachTool) Description() string { return "Upload a file from the workspace to the chat" }
func (t *AttachTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable description shown while the attach runs",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to attach",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Optional caption to post alongside the attachment",
			},
		},
		"required": []string{"label", "path"},
	}
}

func (t *AttachTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	title, _ := args["title"].(string)

	ex := ToolExecutorFromCtx(ctx)
	if ex == nil {
		return ErrorResult("no sandbox executor available for this run")
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}

	hostPath, err := t.resolveHostPath(ctx, ex, path, workspace)
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := ex.ReadFile(ctx, hostPath)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read attachment: %v", err))
	}

	q := ToolChatQueueFromCtx(ctx)
	if q == nil {
		return ErrorResult("no chat queue available for this run")
	}

	filename := baseName(path)
	q.Enqueue(chatqueue.Event{Kind: chatqueue.KindFile, Filename: filename, Data: data})
	if title != "" {
		q.Enqueue(chatqueue.Event{Kind: chatqueue.KindThread, Text: title})
	}

	return SilentResult(fmt.Sprintf("attached %s", filename))
}

// resolveHostPath accepts either a workspace-relative path (the common
// case) or, when the agent ran inside a sandbox and echoed back a
// container-local absolute path (e.g. from bash's own workdir), translates
// it through the run's Executor before falling back to the plain resolver.
func (t *AttachTool) resolveHostPath(ctx context.Context, ex sandbox.Executor, path, workspace string) (string, error) {
	if ex.Kind() == sandbox.KindDocker {
		if host, err := ex.TranslatePath(path); err == nil {
			if exists, statErr := ex.PathExists(ctx, host); statErr == nil && exists {
				return host, nil
			}
		}
	}
	return resolvePath(path, workspace)
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
