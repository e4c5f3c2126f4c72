package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momhq/mom/internal/chatqueue"
	"github.com/momhq/mom/internal/logstore"
	"github.com/momhq/mom/internal/providers"
	"github.com/momhq/mom/internal/sandbox"
)

type fakeProvider struct {
	mu   sync.Mutex
	fn   func(req providers.ChatRequest) providers.ChatResponse
	hold chan struct{} // if non-nil, Chat blocks until this is closed
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := f.fn(req)
	if resp.Usage == nil {
		resp.Usage = &providers.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}
	}
	return &resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}
func (f *fakeProvider) DefaultModel() string { return "claude-sonnet-4-5" }
func (f *fakeProvider) Name() string         { return "fake" }

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

func (f *fakeTransport) PostMessage(ctx context.Context, chatID, text string) (chatqueue.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"post", text})
	return chatqueue.MessageHandle{ChatID: chatID, Ts: f.next()}, nil
}

func (f *fakeTransport) UpdateMessage(ctx context.Context, handle chatqueue.MessageHandle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"update", text})
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, handle chatqueue.MessageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"delete", ""})
	return nil
}

func (f *fakeTransport) PostInThread(ctx context.Context, parent chatqueue.MessageHandle, text string) (chatqueue.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"thread", text})
	return chatqueue.MessageHandle{ChatID: parent.ChatID, Ts: f.next()}, nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, chatID string, thread *chatqueue.MessageHandle, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"upload", filename})
	return nil
}

func (f *fakeTransport) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

func newTestSupervisor(t *testing.T, provider providers.Provider, transport chatqueue.Transport) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	sup := New(Config{
		Workspace:            dir,
		SandboxKind:          string(sandbox.KindHost),
		Provider:             provider,
		Model:                "claude-sonnet-4-5",
		MaxToolIterations:    5,
		ContextWindow:        100_000,
		MaxInputChars:        50,
		RecentMessagesWindow: 20,
		Transport:            transport,
		NewExecutor:          func(string) (sandbox.Executor, error) { return sandbox.NewHostExecutor(), nil },
	})
	return sup, dir
}

func waitForIdle(t *testing.T, sup *Supervisor, channelID string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !sup.Snapshot(channelID).Running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s still running after %s", channelID, timeout)
}

func TestHandleMessageRunsOneTurn(t *testing.T) {
	provider := &fakeProvider{fn: func(req providers.ChatRequest) providers.ChatResponse {
		return providers.ChatResponse{Content: "hi there", FinishReason: "stop"}
	}}
	transport := &fakeTransport{}
	sup, _ := newTestSupervisor(t, provider, transport)

	err := sup.HandleMessage(context.Background(), "C1", logstore.LogEntry{
		Ts: "1.000000", User: "U1", UserName: "alice", Text: "hello",
	})
	require.NoError(t, err)

	waitForIdle(t, sup, "C1", 2*time.Second)
	require.Contains(t, transport.ops(), "post")
}

func TestHandleMessageWhileRunningDoesNotStartSecondTurn(t *testing.T) {
	hold := make(chan struct{})
	provider := &fakeProvider{hold: hold, fn: func(req providers.ChatRequest) providers.ChatResponse {
		return providers.ChatResponse{Content: "done", FinishReason: "stop"}
	}}
	transport := &fakeTransport{}
	sup, dir := newTestSupervisor(t, provider, transport)

	require.NoError(t, sup.HandleMessage(context.Background(), "C1", logstore.LogEntry{Ts: "1.000000", User: "U1", Text: "first"}))

	require.Eventually(t, func() bool { return sup.Snapshot("C1").Running }, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.HandleMessage(context.Background(), "C1", logstore.LogEntry{Ts: "2.000000", User: "U1", Text: "second, arrives mid-run"}))

	close(hold)
	waitForIdle(t, sup, "C1", 2*time.Second)

	ls := logstore.New(dir, "C1")
	entries, err := ls.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2, "both messages are logged even though only one turn ran")
}

func TestHandleMessageTruncatesOversizedText(t *testing.T) {
	var seenLen int
	provider := &fakeProvider{fn: func(req providers.ChatRequest) providers.ChatResponse {
		return providers.ChatResponse{Content: "ok", FinishReason: "stop"}
	}}
	transport := &fakeTransport{}
	sup, dir := newTestSupervisor(t, provider, transport)

	big := make([]byte, 500)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, sup.HandleMessage(context.Background(), "C1", logstore.LogEntry{Ts: "1.000000", User: "U1", Text: string(big)}))
	waitForIdle(t, sup, "C1", 2*time.Second)

	ls := logstore.New(dir, "C1")
	entries, err := ls.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	seenLen = len(entries[0].Text)
	require.Less(t, seenLen, 500, "oversized message must be truncated before logging")
	require.Contains(t, entries[0].Text, "[System: Message was truncated")
}

func TestHandleEventSynthesizesLogEntry(t *testing.T) {
	provider := &fakeProvider{fn: func(req providers.ChatRequest) providers.ChatResponse {
		return providers.ChatResponse{Content: "[SILENT]", FinishReason: "stop"}
	}}
	transport := &fakeTransport{}
	sup, dir := newTestSupervisor(t, provider, transport)

	err := sup.HandleEvent(context.Background(), "C1", "reminder.json", "one-shot", "", "check the build", time.Unix(100, 0))
	require.NoError(t, err)
	waitForIdle(t, sup, "C1", 2*time.Second)

	ls := logstore.New(dir, "C1")
	entries, err := ls.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, logstore.EventUser, entries[0].User)
	require.Contains(t, entries[0].Text, "[EVENT:reminder.json:one-shot:]")

	require.Empty(t, transport.ops(), "silent event completion must post nothing")
}

func TestStopOnIdleChannelIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	sup, _ := newTestSupervisor(t, &fakeProvider{fn: func(providers.ChatRequest) providers.ChatResponse { return providers.ChatResponse{} }}, transport)

	require.NoError(t, sup.Stop(context.Background(), "never-started"))
	require.Empty(t, transport.ops())
}

func TestStopCancelsRunningTurn(t *testing.T) {
	hold := make(chan struct{})
	provider := &fakeProvider{hold: hold, fn: func(req providers.ChatRequest) providers.ChatResponse {
		return providers.ChatResponse{Content: "too late", FinishReason: "stop"}
	}}
	transport := &fakeTransport{}
	sup, _ := newTestSupervisor(t, provider, transport)

	require.NoError(t, sup.HandleMessage(context.Background(), "C1", logstore.LogEntry{Ts: "1.000000", User: "U1", Text: "do something slow"}))
	require.Eventually(t, func() bool { return sup.Snapshot("C1").Running }, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Stop(context.Background(), "C1"))
	require.Contains(t, transport.ops(), "post")

	close(hold)
	waitForIdle(t, sup, "C1", 2*time.Second)
}
