package convo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/momhq/mom/internal/logstore"
)

const (
	// DefaultCompactionThreshold is the token budget that triggers compaction (spec §4.2).
	DefaultCompactionThreshold = 100_000
	// DefaultKeepRecentFraction is the share of compactionThreshold kept uncompacted.
	DefaultKeepRecentFraction = 0.25
)

// Config tunes the Manager's compaction policy.
type Config struct {
	CompactionThreshold int // default DefaultCompactionThreshold
	KeepRecentTokens    int // default CompactionThreshold * DefaultKeepRecentFraction
}

func (c Config) withDefaults() Config {
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = DefaultCompactionThreshold
	}
	if c.KeepRecentTokens <= 0 {
		c.KeepRecentTokens = int(float64(c.CompactionThreshold) * DefaultKeepRecentFraction)
	}
	return c
}

// Manager owns context.jsonl for one channel: sync from the log, token
// accounting, and compaction (spec §4.2).
type Manager struct {
	workspace string
	channelID string
	cfg       Config
	estimator *Estimator

	mu sync.Mutex
}

func NewManager(workspace, channelID string, cfg Config) *Manager {
	return &Manager{
		workspace: workspace,
		channelID: channelID,
		cfg:       cfg.withDefaults(),
		estimator: NewEstimator(),
	}
}

func (m *Manager) channelDir() string   { return filepath.Join(m.workspace, m.channelID) }
func (m *Manager) contextPath() string  { return filepath.Join(m.channelDir(), "context.jsonl") }
func (m *Manager) sidecarPath() string  { return filepath.Join(m.channelDir(), "context.sync.json") }

// Estimator exposes the token estimator so callers can calibrate it after
// each LLM call (spec §4.2, provider-specific correction table).
func (m *Manager) Estimator() *Estimator { return m.estimator }

type syncSidecar struct {
	LastSyncedTs string `json:"lastSyncedTs"`
}

func (m *Manager) readSidecar() syncSidecar {
	data, err := os.ReadFile(m.sidecarPath())
	if err != nil {
		return syncSidecar{}
	}
	var s syncSidecar
	_ = json.Unmarshal(data, &s)
	return s
}

func (m *Manager) writeSidecar(s syncSidecar) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.channelDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.sidecarPath(), data, 0o644)
}

// ReadAll reads every well-formed entry in context.jsonl, skipping corrupt
// lines the same way logstore does for log.jsonl.
func (m *Manager) ReadAll() ([]ContextEntry, error) {
	f, err := os.Open(m.contextPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convo: open context: %w", err)
	}
	defer f.Close()

	var entries []ContextEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e ContextEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			slog.Warn("convo: skipping corrupt context line", "channel", m.channelID, "line", lineNo, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("convo: scan context: %w", err)
	}
	return entries, nil
}

// Append appends a single ContextEntry, fsyncing after write.
func (m *Manager) Append(e ContextEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Manager) appendLocked(e ContextEntry) error {
	if err := os.MkdirAll(m.channelDir(), 0o755); err != nil {
		return err
	}
	line, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("convo: marshal entry: %w", err)
	}
	f, err := os.OpenFile(m.contextPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("convo: open context: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("convo: write context: %w", err)
	}
	return f.Sync()
}

// SyncFromLog appends log entries with Ts strictly less than triggerTs and
// strictly greater than the last synced high-water mark (persisted in a
// sidecar file per the §9 open question) as user_message context entries.
// Idempotent: calling it twice with no new log entries appends nothing.
func (m *Manager) SyncFromLog(logEntries []logstore.LogEntry, triggerTs string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sidecar := m.readSidecar()
	lastSynced := sidecar.LastSyncedTs
	maxSynced := lastSynced

	for _, le := range logEntries {
		if !logstore.TsLess(le.Ts, triggerTs) {
			continue // not strictly before the triggering message
		}
		if lastSynced != "" && !logstore.TsLess(lastSynced, le.Ts) {
			continue // already synced
		}
		text := le.Text
		if le.IsBot {
			text = "[bot] " + text
		}
		if len(le.Attachments) > 0 {
			paths := make([]string, 0, len(le.Attachments))
			for _, a := range le.Attachments {
				paths = append(paths, a.LocalPath)
			}
			text += "\n[attachments: " + strings.Join(paths, ", ") + "]"
		}
		if err := m.appendLocked(NewUserMessage(text, nil)); err != nil {
			return fmt.Errorf("convo: sync entry ts=%s: %w", le.Ts, err)
		}
		if maxSynced == "" || logstore.TsLess(maxSynced, le.Ts) {
			maxSynced = le.Ts
		}
	}

	if maxSynced != lastSynced {
		if err := m.writeSidecar(syncSidecar{LastSyncedTs: maxSynced}); err != nil {
			return fmt.Errorf("convo: write sync sidecar: %w", err)
		}
	}
	return nil
}

// ActiveEntries splits entries into (compactionSummary, active) where active
// is everything strictly after the most recent compaction entry, and
// compactionSummary is that compaction's summary (empty if there is none).
// Prompt construction uses this to build the synthetic preamble (spec §4.2).
func ActiveEntries(entries []ContextEntry) (summary string, active []ContextEntry) {
	lastCompaction := -1
	for i, e := range entries {
		if e.Type == TypeCompaction {
			lastCompaction = i
		}
	}
	if lastCompaction < 0 {
		return "", entries
	}
	return entries[lastCompaction].Compaction.Summary, entries[lastCompaction+1:]
}

// EstimateActiveTokens returns the token estimate of the active (non-compacted)
// portion of context.jsonl.
func (m *Manager) EstimateActiveTokens(entries []ContextEntry) int {
	_, active := ActiveEntries(entries)
	total := 0
	for _, e := range active {
		total += m.estimator.EstimateTokens(renderEntryText(e))
	}
	return total
}

// NeedsCompaction reports whether the active token estimate exceeds the
// configured compactionThreshold.
func (m *Manager) NeedsCompaction(entries []ContextEntry) bool {
	return m.EstimateActiveTokens(entries) > m.cfg.CompactionThreshold
}

// SummarizeFunc asks an LLM to summarize the given entries, using a dedicated
// compaction-prompt template. Implemented by the agent package (it owns the
// provider); convo only defines the shape so the compaction algorithm stays
// provider-agnostic.
type SummarizeFunc func(ctx context.Context, entries []ContextEntry) (string, error)

// Compact runs the compaction algorithm (spec §4.2):
//  1. choose a cut point at a turn boundary,
//  2. ask the LLM to summarize everything at or before it,
//  3. on success, append a compaction entry.
// On summarization failure or if no entries exist before the candidate cut
// point, compaction is skipped (not an error) and the run continues with the
// oversized context, per spec.
func (m *Manager) Compact(ctx context.Context, entries []ContextEntry, summarize SummarizeFunc) (compacted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, active := ActiveEntries(entries)
	baseIdx := len(entries) - len(active) // index in entries[] where active begins

	cutRel := findCutIndex(active, m.cfg.KeepRecentTokens, m.estimator)
	if cutRel < 0 {
		return false, nil // nothing safe to cut yet
	}
	cutAbs := baseIdx + cutRel

	tokensBefore := m.EstimateActiveTokens(entries)

	summary, serr := summarize(ctx, entries[:cutAbs+1])
	if serr != nil {
		slog.Warn("convo: compaction summarization failed, skipping", "channel", m.channelID, "error", serr)
		return false, nil
	}

	if err := m.appendLocked(NewCompaction(summary, tokensBefore, cutAbs)); err != nil {
		return false, fmt.Errorf("convo: append compaction: %w", err)
	}
	return true, nil
}

// findCutIndex scans active (the non-compacted entries) from the end,
// accumulating a token estimate until it exceeds keepRecentTokens, then walks
// backward to the nearest turn boundary: the entry right before a
// user_message, so the cut never lands inside a tool_use/tool_result pair.
// Returns -1 if no valid boundary exists before the budget is exhausted.
func findCutIndex(active []ContextEntry, keepRecentTokens int, est *Estimator) int {
	if len(active) == 0 {
		return -1
	}

	recentTokens := 0
	i := len(active) - 1
	for ; i >= 0; i-- {
		recentTokens += est.EstimateTokens(renderEntryText(active[i]))
		if recentTokens >= keepRecentTokens {
			break
		}
	}
	if i < 0 {
		return -1 // everything is "recent" — nothing to cut
	}

	// Walk backward to the nearest index j such that active[j+1] starts a new
	// turn (a user_message), so active[:j+1] is a whole number of turns.
	for j := i; j >= 0; j-- {
		if j+1 < len(active) && active[j+1].Type == TypeUserMessage {
			return j
		}
	}
	return -1
}

// renderEntryText produces a plain-text rendering of an entry for token
// estimation purposes.
func renderEntryText(e ContextEntry) string {
	switch e.Type {
	case TypeUserMessage:
		if e.UserMessage != nil {
			return e.UserMessage.Text
		}
	case TypeAssistantMessage:
		if e.AssistantMessage != nil {
			var b strings.Builder
			for _, p := range e.AssistantMessage.ContentParts {
				b.WriteString(p.Text)
				b.WriteString(p.Thinking)
				b.WriteString(p.ToolName)
			}
			return b.String()
		}
	case TypeToolResult:
		if e.ToolResult != nil {
			var b strings.Builder
			for _, p := range e.ToolResult.ContentParts {
				b.WriteString(p.Text)
			}
			return b.String()
		}
	case TypeCompaction:
		if e.Compaction != nil {
			return e.Compaction.Summary
		}
	}
	return ""
}
