// Package chatqueue implements the ordered, per-turn chat-side streaming
// contract: a single "main" message that is edited in place as the turn
// progresses, plus a "thread" of verbose detail messages appended alongside
// it, both delivered to the chat service strictly in the order they were
// produced (spec §4.4).
package chatqueue

import "context"

// MessageHandle identifies a message already posted to the chat service, so
// it can be edited or replied to later.
type MessageHandle struct {
	ChatID string
	Ts     string // chat-service message identifier (Slack: message timestamp)
}

// Transport is the chat-service-specific surface the queue drives. A Slack
// Socket Mode implementation lives in internal/slackchat; tests use a fake.
type Transport interface {
	PostMessage(ctx context.Context, chatID, text string) (MessageHandle, error)
	UpdateMessage(ctx context.Context, handle MessageHandle, text string) error
	DeleteMessage(ctx context.Context, handle MessageHandle) error
	PostInThread(ctx context.Context, parent MessageHandle, text string) (MessageHandle, error)
	UploadFile(ctx context.Context, chatID string, thread *MessageHandle, filename string, data []byte) error
}

// Kind discriminates the two streaming channels a turn can write to.
type Kind string

const (
	// KindMain targets the single message that is edited in place as the
	// turn's answer accumulates.
	KindMain Kind = "main"
	// KindThread appends a new message under the main one: tool call
	// traces, intermediate reasoning, anything too verbose for the main
	// reply.
	KindThread Kind = "thread"
	// KindFile uploads an attachment, either to the main chat or a thread.
	KindFile Kind = "file"
)

// Event is one unit of chat output produced during a turn.
type Event struct {
	Kind Kind

	// Text is the content for KindMain/KindThread. For KindMain, Text is
	// the *complete* current text of the main message (the queue always
	// overwrites, it never appends to a prior KindMain edit) — this mirrors
	// how an LLM stream hands back the whole response-so-far each delta.
	Text string

	// Final marks the last KindMain event of a turn: the working indicator
	// suffix is stripped and no further edits are expected.
	Final bool

	// Filename/Data populate a KindFile event.
	Filename string
	Data     []byte
}
