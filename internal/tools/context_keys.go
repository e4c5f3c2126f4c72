package tools

import (
	"context"

	"github.com/momhq/mom/internal/chatqueue"
	"github.com/momhq/mom/internal/sandbox"
)

// Tool execution context keys. Per-call state rides on ctx rather than
// mutable fields on the Tool, so a Registry can run tools concurrently
// without each one needing its own lock.

type toolContextKey string

const (
	ctxWorkspace toolContextKey = "tool_workspace"
	ctxExecutor  toolContextKey = "tool_executor"
	ctxChatQueue toolContextKey = "tool_chat_queue"
)

// WithToolWorkspace sets the channel directory a run's tools operate against.
func WithToolWorkspace(ctx context.Context, ws string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, ws)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}

// WithToolExecutor attaches the sandbox.Executor bash should run commands
// against, and that read/write/edit/attach use to translate paths when the
// backend is a container.
func WithToolExecutor(ctx context.Context, ex sandbox.Executor) context.Context {
	return context.WithValue(ctx, ctxExecutor, ex)
}

func ToolExecutorFromCtx(ctx context.Context) sandbox.Executor {
	v, _ := ctx.Value(ctxExecutor).(sandbox.Executor)
	return v
}

// WithToolChatQueue attaches the turn's chat queue, used by the attach tool
// to upload files.
func WithToolChatQueue(ctx context.Context, q *chatqueue.Queue) context.Context {
	return context.WithValue(ctx, ctxChatQueue, q)
}

func ToolChatQueueFromCtx(ctx context.Context) *chatqueue.Queue {
	v, _ := ctx.Value(ctxChatQueue).(*chatqueue.Queue)
	return v
}
