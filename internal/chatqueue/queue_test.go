package chatqueue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	op   string
	text string
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []recordedCall
	seq   int
}

func (f *fakeTransport) next() string {
	f.seq++
	return string(rune('a' + f.seq - 1))
}

func (f *fakeTransport) PostMessage(ctx context.Context, chatID, text string) (MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"post", text})
	return MessageHandle{ChatID: chatID, Ts: f.next()}, nil
}

func (f *fakeTransport) UpdateMessage(ctx context.Context, handle MessageHandle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"update", text})
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, handle MessageHandle) error { return nil }

func (f *fakeTransport) PostInThread(ctx context.Context, parent MessageHandle, text string) (MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"thread", text})
	return MessageHandle{ChatID: parent.ChatID, Ts: f.next()}, nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, chatID string, thread *MessageHandle, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"upload", filename})
	return nil
}

func TestQueueAppliesEventsInFIFOOrder(t *testing.T) {
	ft := &fakeTransport{}
	q := New(ft, "C1", 0)

	go q.Run(context.Background())

	q.Enqueue(Event{Kind: KindMain, Text: "thinking"})
	q.Enqueue(Event{Kind: KindThread, Text: "calling bash"})
	q.Enqueue(Event{Kind: KindMain, Text: "done", Final: true})
	q.Close()
	q.Wait()

	require.Empty(t, q.Errs())
	require.Equal(t, []recordedCall{
		{"post", "thinking ..."},
		{"thread", "calling bash"},
		{"update", "done"},
	}, ft.calls)
}

func TestQueueMainMessageEditedInPlace(t *testing.T) {
	ft := &fakeTransport{}
	q := New(ft, "C1", 0)
	go q.Run(context.Background())

	q.Enqueue(Event{Kind: KindMain, Text: "a"})
	q.Enqueue(Event{Kind: KindMain, Text: "ab"})
	q.Enqueue(Event{Kind: KindMain, Text: "abc", Final: true})
	q.Close()
	q.Wait()

	require.Len(t, ft.calls, 3)
	require.Equal(t, "post", ft.calls[0].op)
	require.Equal(t, "update", ft.calls[1].op)
	require.Equal(t, "update", ft.calls[2].op)
	require.Equal(t, "abc", ft.calls[2].text) // final strips the working suffix
}
