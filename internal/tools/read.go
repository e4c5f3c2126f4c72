package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// ReadTool reads a file, optionally a line-addressed slice of it, from the
// run's workspace (spec §4.3 "read").
type ReadTool struct {
	workspace string
}

func NewReadTool(workspace string) *ReadTool { return &ReadTool{workspace: workspace} }

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read a file, optionally a range of lines" }
func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable description shown while the read runs",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed line to start reading from (optional)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to return (optional)",
			},
		},
		"required": []string{"label", "path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

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

	data, err := ex.ReadFile(ctx, resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	offset, hasOffset := intArg(args, "offset")
	limit, hasLimit := intArg(args, "limit")
	if !hasOffset && !hasLimit {
		return SilentResult(string(data))
	}

	return SilentResult(lineRange(data, offset, limit))
}

func lineRange(data []byte, offset, limit int) string {
	if offset < 1 {
		offset = 1
	}

	var out strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	taken := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < offset {
			continue
		}
		if limit > 0 && taken >= limit {
			break
		}
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
		taken++
	}
	return out.String()
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
