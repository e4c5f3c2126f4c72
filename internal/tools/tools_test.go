package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momhq/mom/internal/sandbox"
)

// withExecutor is the context every read/write/edit/bash/attach test needs:
// production always runs tool calls through an Executor (agent/loop.go
// wires one in for every turn), so tests exercise the same path instead of
// a bare context.Background().
func withExecutor(ctx context.Context) context.Context {
	return WithToolExecutor(ctx, sandbox.NewHostExecutor())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w := NewWriteTool(dir)
	r := NewReadTool(dir)
	ctx := withExecutor(context.Background())

	res := w.Execute(ctx, map[string]interface{}{"label": "write notes", "path": "notes.txt", "content": "hello\nworld\n"})
	require.False(t, res.IsError)

	res = r.Execute(ctx, map[string]interface{}{"label": "read notes", "path": "notes.txt"})
	require.False(t, res.IsError)
	require.Equal(t, "hello\nworld\n", res.ForLLM)
}

func TestReadWithOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a\nb\nc\nd\n"), 0o644))

	r := NewReadTool(dir)
	res := r.Execute(withExecutor(context.Background()), map[string]interface{}{
		"label": "read range", "path": "f.txt", "offset": float64(2), "limit": float64(2),
	})
	require.False(t, res.IsError)
	require.Equal(t, "b\nc\n", res.ForLLM)
}

func TestEditRequiresUniqueOccurrence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo foo"), 0o644))

	e := NewEditTool(dir)
	res := e.Execute(withExecutor(context.Background()), map[string]interface{}{"label": "edit", "path": "f.txt", "old": "foo", "new": "bar"})
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "not unique")
}

func TestEditAppliesUniqueReplacement(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo bar baz"), 0o644))

	e := NewEditTool(dir)
	res := e.Execute(withExecutor(context.Background()), map[string]interface{}{"label": "edit", "path": "f.txt", "old": "bar", "new": "qux"})
	require.False(t, res.IsError)

	data, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "foo qux baz", string(data))
}

func TestEditMissingOldTextErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo"), 0o644))

	e := NewEditTool(dir)
	res := e.Execute(withExecutor(context.Background()), map[string]interface{}{"label": "edit", "path": "f.txt", "old": "nope", "new": "x"})
	require.True(t, res.IsError)
}

func TestReadRejectsPathEscapingWorkspace(t *testing.T) {
	dir := t.TempDir()
	r := NewReadTool(dir)
	res := r.Execute(withExecutor(context.Background()), map[string]interface{}{"label": "read", "path": "../../etc/passwd"})
	require.True(t, res.IsError)
}

func TestWriteRejectsSymlinkEscapingWorkspace(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("orig"), 0o644))

	link := filepath.Join(dir, "escape.txt")
	require.NoError(t, os.Symlink(target, link))

	w := NewWriteTool(dir)
	res := w.Execute(withExecutor(context.Background()), map[string]interface{}{"label": "write", "path": "escape.txt", "content": "pwned"})
	require.True(t, res.IsError)

	data, _ := os.ReadFile(target)
	require.Equal(t, "orig", string(data)) // unchanged: the escape was rejected
}

func TestReadRequiresExecutorInContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))

	r := NewReadTool(dir)
	res := r.Execute(context.Background(), map[string]interface{}{"label": "read", "path": "f.txt"})
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "no sandbox executor")
}

func TestBashToolDeniesDangerousCommand(t *testing.T) {
	b := NewBashTool(t.TempDir())
	res := b.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /"})
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "denied by safety policy")
}

func TestBashToolRequiresExecutorInContext(t *testing.T) {
	b := NewBashTool(t.TempDir())
	res := b.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "no sandbox executor")
}

func TestRegistryDispatchesByName(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	reg.Register(NewReadTool(dir))
	reg.Register(NewWriteTool(dir))

	res := reg.Execute(withExecutor(context.Background()), "write", map[string]interface{}{"label": "write", "path": "a.txt", "content": "x"})
	require.False(t, res.IsError)

	res = reg.Execute(withExecutor(context.Background()), "nonexistent", map[string]interface{}{})
	require.True(t, res.IsError)

	defs := reg.Defs()
	require.Len(t, defs, 2)
}

func TestSequentialToolsAreBashAndAttach(t *testing.T) {
	require.True(t, Sequential("bash"))
	require.True(t, Sequential("attach"))
	require.False(t, Sequential("read"))
	require.False(t, Sequential("write"))
	require.False(t, Sequential("edit"))
}
