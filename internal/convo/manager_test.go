package convo

import (
	"context"
	"testing"

	"github.com/momhq/mom/internal/logstore"
	"github.com/stretchr/testify/require"
)

func TestSyncFromLogIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "C1", Config{})

	log := []logstore.LogEntry{
		{Ts: "1.0", User: "U1", Text: "hello"},
		{Ts: "2.0", User: "U1", Text: "world"},
	}

	require.NoError(t, m.SyncFromLog(log, "3.0"))
	entries, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Running sync again with the same log and trigger ts must not duplicate.
	require.NoError(t, m.SyncFromLog(log, "3.0"))
	entries, err = m.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSyncFromLogOnlyTakesEntriesBeforeTrigger(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "C1", Config{})

	log := []logstore.LogEntry{
		{Ts: "1.0", Text: "a"},
		{Ts: "2.0", Text: "b"},
		{Ts: "3.0", Text: "the triggering message itself"},
	}
	require.NoError(t, m.SyncFromLog(log, "3.0"))

	entries, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].UserMessage.Text)
	require.Equal(t, "b", entries[1].UserMessage.Text)
}

func TestSyncFromLogMarksBotEntries(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "C1", Config{})

	log := []logstore.LogEntry{{Ts: "1.0", Text: "reply", IsBot: true}}
	require.NoError(t, m.SyncFromLog(log, "2.0"))

	entries, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].UserMessage.Text, "[bot] reply")
}

func TestCompactionKeepsTokensUnderThresholdAndNoOrphanedToolResult(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "C1", Config{CompactionThreshold: 100, KeepRecentTokens: 20})

	// Build a long history of complete turns: user -> assistant(tool_use) -> tool_result.
	big := make([]byte, 200)
	for i := range big {
		big[i] = 'x'
	}
	padding := string(big)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Append(NewUserMessage(padding, nil)))
		require.NoError(t, m.Append(NewAssistantMessage([]ContentPart{
			{Type: PartToolUse, ToolUseID: "t1", ToolName: "bash"},
		}, "tool_use", Usage{})))
		require.NoError(t, m.Append(NewToolResult("t1", false, []ContentPart{
			{Type: PartText, Text: padding},
		})))
	}

	entries, err := m.ReadAll()
	require.NoError(t, err)
	require.True(t, m.NeedsCompaction(entries))

	summarizeCalls := 0
	summarize := func(ctx context.Context, toSummarize []ContextEntry) (string, error) {
		summarizeCalls++
		return "summary of earlier turns", nil
	}

	compacted, err := m.Compact(context.Background(), entries, summarize)
	require.NoError(t, err)
	require.True(t, compacted)
	require.Equal(t, 1, summarizeCalls)

	entries, err = m.ReadAll()
	require.NoError(t, err)

	_, active := ActiveEntries(entries)
	require.NotEmpty(t, active)
	// The cut must fall on a turn boundary: the first active entry starts a turn.
	require.Equal(t, TypeUserMessage, active[0].Type)

	// No tool_result in the active window may reference a tool_use outside it.
	seenToolUse := map[string]bool{}
	for _, e := range active {
		if e.Type == TypeAssistantMessage {
			for _, p := range e.AssistantMessage.ContentParts {
				if p.Type == PartToolUse {
					seenToolUse[p.ToolUseID] = true
				}
			}
		}
		if e.Type == TypeToolResult {
			require.True(t, seenToolUse[e.ToolResult.ToolUseID], "tool_result must not be orphaned from its tool_use")
		}
	}

	require.True(t, m.EstimateActiveTokens(entries) < 100)
}

func TestCompactionSkippedOnSummarizeFailure(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "C1", Config{CompactionThreshold: 10, KeepRecentTokens: 2})

	require.NoError(t, m.Append(NewUserMessage("short", nil)))
	require.NoError(t, m.Append(NewUserMessage("another message long enough to exceed threshold", nil)))

	entries, err := m.ReadAll()
	require.NoError(t, err)

	compacted, err := m.Compact(context.Background(), entries, func(ctx context.Context, e []ContextEntry) (string, error) {
		return "", assertErr
	})
	require.NoError(t, err)
	require.False(t, compacted)

	entries, err = m.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2) // unchanged: no compaction entry appended
}

var assertErr = context.DeadlineExceeded
