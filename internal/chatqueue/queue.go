package chatqueue

import (
	"context"
	"fmt"
	"log/slog"
)

// workingSuffix is appended to the main message while a turn is still
// running, so the user can see the agent hasn't stalled.
const workingSuffix = " ..."

// Queue serializes chat output for one turn: events are enqueued by the
// agent loop as they're produced and applied to the transport strictly in
// FIFO order by a single background goroutine, so a slow network edit can
// never reorder a later thread post ahead of an earlier main-message edit.
type Queue struct {
	transport Transport
	chatID    string

	events chan Event
	done   chan struct{}
	errs   []error

	mainHandle   *MessageHandle
	threadParent *MessageHandle
}

// New creates a Queue bound to chatID. Run must be called to start draining it.
func New(transport Transport, chatID string, bufSize int) *Queue {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Queue{
		transport: transport,
		chatID:    chatID,
		events:    make(chan Event, bufSize),
		done:      make(chan struct{}),
	}
}

// Enqueue adds an event to the queue. Safe to call from the goroutine
// producing turn output; never blocks on network I/O itself.
func (q *Queue) Enqueue(e Event) {
	q.events <- e
}

// Close signals no further events will be enqueued. Run's goroutine exits
// once it has drained everything already enqueued.
func (q *Queue) Close() {
	close(q.events)
}

// Run drains the queue until Close is called, applying each event to the
// transport in order. It blocks until drained; callers typically run it in
// its own goroutine and call Wait to join.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for e := range q.events {
		if err := q.apply(ctx, e); err != nil {
			slog.Warn("chatqueue: failed to apply event", "chat", q.chatID, "kind", e.Kind, "error", err)
			q.errs = append(q.errs, err)
		}
	}
}

// Wait blocks until Run has drained and exited.
func (q *Queue) Wait() { <-q.done }

// Errs returns every error Run accumulated while draining. Individual
// delivery failures don't stop the queue — a dropped thread update
// shouldn't sink the whole turn — but callers can surface them afterward.
func (q *Queue) Errs() []error { return q.errs }

func (q *Queue) apply(ctx context.Context, e Event) error {
	switch e.Kind {
	case KindMain:
		text := e.Text
		if !e.Final {
			text += workingSuffix
		}
		if q.mainHandle == nil {
			h, err := q.transport.PostMessage(ctx, q.chatID, text)
			if err != nil {
				return fmt.Errorf("chatqueue: post main: %w", err)
			}
			q.mainHandle = &h
			return nil
		}
		if err := q.transport.UpdateMessage(ctx, *q.mainHandle, text); err != nil {
			return fmt.Errorf("chatqueue: update main: %w", err)
		}
		return nil

	case KindThread:
		parent := q.threadParentHandle()
		if parent == nil {
			h, err := q.transport.PostMessage(ctx, q.chatID, e.Text)
			if err != nil {
				return fmt.Errorf("chatqueue: post thread root: %w", err)
			}
			q.threadParent = &h
			return nil
		}
		if _, err := q.transport.PostInThread(ctx, *parent, e.Text); err != nil {
			return fmt.Errorf("chatqueue: post in thread: %w", err)
		}
		return nil

	case KindFile:
		if err := q.transport.UploadFile(ctx, q.chatID, q.threadParentHandle(), e.Filename, e.Data); err != nil {
			return fmt.Errorf("chatqueue: upload file: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("chatqueue: unknown event kind %q", e.Kind)
	}
}

// threadParentHandle prefers an existing thread root, falling back to the
// main message so the first thread post threads off the user-visible reply.
func (q *Queue) threadParentHandle() *MessageHandle {
	if q.threadParent != nil {
		return q.threadParent
	}
	return q.mainHandle
}
