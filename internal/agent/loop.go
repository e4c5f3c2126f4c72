// Package agent implements the per-turn PREPARE -> LOOP -> TOOL_EXEC ->
// FINALIZE state machine: one call to Run is one complete turn against a
// channel, whether triggered by an inbound chat message or a scheduled
// event (spec §4.3).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/momhq/mom/internal/chatqueue"
	"github.com/momhq/mom/internal/convo"
	"github.com/momhq/mom/internal/logstore"
	"github.com/momhq/mom/internal/providers"
	"github.com/momhq/mom/internal/sandbox"
	"github.com/momhq/mom/internal/telemetry"
	"github.com/momhq/mom/internal/tools"
)

// Terminal stop reasons a LOOP iteration can end a turn on (spec §4.3).
const (
	StopReasonStop      = "stop"
	StopReasonMaxTokens = "max_tokens"
	StopReasonError     = "error"
	StopReasonAborted   = "aborted"
	StopReasonToolCalls = "tool_calls"
)

// defaultMaxIterations bounds the LOOP<->TOOL_EXEC cycle so a misbehaving
// model can't run a channel's turn forever.
const defaultMaxIterations = 20

// loopCallLimit is how many times the same (tool, args) signature may repeat
// in one turn before the runner aborts it as stuck (spec §3, "loop
// detection").
const loopCallLimit = 3

// recentMessagesWindow is how many log.jsonl entries are rendered into the
// user side of the prompt (spec §4.2).
const recentMessagesWindow = 20

// Config wires one Runner to its channel's collaborators. All fields are
// required except Now, which defaults to time.Now.
type Config struct {
	Workspace   string
	ChannelID   string
	SandboxKind string

	Provider providers.Provider
	Model    string

	LogStore *logstore.Store
	Convo    *convo.Manager
	Tools    *tools.Registry
	Executor sandbox.Executor
	Skills   interface{ Summary() string }

	Transport      chatqueue.Transport
	MaxIterations  int
	Now            func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Config) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return defaultMaxIterations
}

// Trigger describes what caused this turn: either an inbound chat message
// or a fired scheduled event. IsEvent gates the silent-completion rule
// (spec §4.3) — it only ever applies to event-triggered turns.
type Trigger struct {
	Text    string
	Images  []convo.ImageContent
	Ts      string // this turn's own log timestamp, once appended
	IsEvent bool
}

// RunResult summarizes one completed turn.
type RunResult struct {
	StopReason string
	FinalText  string
	Silent     bool
	Iterations int
	Usage      providers.Usage
}

// Runner executes one turn at a time for a single channel. A Runner isn't
// itself safe for concurrent Run calls against the same channel — the
// Channel Supervisor owns ensuring exactly one Run is in flight per channel
// at any moment (spec §4.5).
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

func (r *Runner) channelDir() string {
	return r.cfg.LogStore.ChannelDir()
}

// Run drives one full turn: PREPARE, then LOOP/TOOL_EXEC until a terminal
// stop reason, then FINALIZE.
func (r *Runner) Run(ctx context.Context, trig Trigger) (*RunResult, error) {
	runID := uuid.NewString()

	// PREPARE
	logEntries, err := r.cfg.LogStore.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("agent: read log: %w", err)
	}
	if err := r.cfg.Convo.SyncFromLog(logEntries, trig.Ts); err != nil {
		return nil, fmt.Errorf("agent: sync context from log: %w", err)
	}
	if err := r.cfg.Convo.Append(convo.NewUserMessage(trig.Text, trig.Images)); err != nil {
		return nil, fmt.Errorf("agent: append user_message: %w", err)
	}

	entries, err := r.cfg.Convo.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("agent: read context: %w", err)
	}
	if r.cfg.Convo.NeedsCompaction(entries) {
		compacted, cerr := r.cfg.Convo.Compact(ctx, entries, r.summarize)
		if cerr != nil {
			return nil, fmt.Errorf("agent: compact context: %w", cerr)
		}
		if compacted {
			entries, err = r.cfg.Convo.ReadAll()
			if err != nil {
				return nil, fmt.Errorf("agent: re-read context after compaction: %w", err)
			}
		}
	}

	memory, err := logstore.ReadMemory(r.cfg.Workspace, r.cfg.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("agent: read memory: %w", err)
	}
	var skillsSummary string
	if r.cfg.Skills != nil {
		skillsSummary = r.cfg.Skills.Summary()
	}

	systemPrompt := BuildSystemPrompt(SystemPromptConfig{
		WorkspacePath:   r.channelDir(),
		ChannelID:       r.cfg.ChannelID,
		Memory:          memory,
		SandboxKind:     r.cfg.SandboxKind,
		Now:             r.cfg.now(),
		AvailableSkills: skillsSummary,
	})
	recentTSV := logstore.GetRecentMessages(logEntries, recentMessagesWindow)
	promptText := buildUserPrompt(recentTSV, trig.Text)

	summary, active := convo.ActiveEntries(entries)
	toolDefs := toProviderToolDefs(r.cfg.Tools.Defs())

	// The chat queue is built once per turn. For a message trigger it starts
	// draining immediately so the user sees live progress; for an event
	// trigger, Run is deferred until FINALIZE knows whether the turn ended
	// silent — an event turn that resolves to "[SILENT]" never starts the
	// queue at all, so nothing it was ever asked to post reaches the
	// transport (spec §4.3 "Silent completion": no main message, no thread).
	q := chatqueue.New(r.cfg.Transport, r.cfg.ChannelID, 256)
	var queueStarted bool
	var queueWG sync.WaitGroup
	startQueue := func() {
		if queueStarted {
			return
		}
		queueStarted = true
		queueWG.Add(1)
		go func() {
			defer queueWG.Done()
			q.Run(context.Background())
		}()
	}
	if !trig.IsEvent {
		startQueue()
	}

	narration := &mainNarration{sink: q}
	narration.set("Thinking")

	toolCtx := tools.WithToolWorkspace(ctx, r.channelDir())
	toolCtx = tools.WithToolExecutor(toolCtx, r.cfg.Executor)
	toolCtx = tools.WithToolChatQueue(toolCtx, q)

	callCounts := map[string]int{}

	var (
		finalText  string
		stopReason string
		totalUsage providers.Usage
	)

	iteration := 0
	for {
		iteration++
		if iteration > r.cfg.maxIterations() {
			stopReason = StopReasonAborted
			finalText = "I hit the iteration limit for this turn and stopped."
			break
		}

		messages := buildMessages(systemPrompt, summary, active, promptText)
		llmCtx, span := telemetry.StartLLMSpan(ctx, r.cfg.ChannelID, runID, r.cfg.Model, iteration)
		resp, callErr := r.cfg.Provider.Chat(llmCtx, providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    r.cfg.Model,
		})
		if callErr != nil {
			telemetry.EndLLMSpan(span, 0, 0, StopReasonError, callErr)
			stopReason = StopReasonError
			slog.Warn("agent: llm call failed, ending turn", "channel", r.cfg.ChannelID, "run", runID, "error", callErr)
			break
		}
		if resp.Usage != nil {
			telemetry.EndLLMSpan(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.FinishReason, nil)
			r.cfg.Convo.Estimator().Calibrate(resp.Usage.PromptTokens, totalPromptChars(messages))
			accumulateUsage(&totalUsage, *resp.Usage)
		} else {
			telemetry.EndLLMSpan(span, 0, 0, resp.FinishReason, nil)
		}

		parts := buildContentParts(resp)
		assistantEntry := convo.NewAssistantMessage(parts, resp.FinishReason, convoUsageFromProvider(resp.Usage))
		if err := r.cfg.Convo.Append(assistantEntry); err != nil {
			return nil, fmt.Errorf("agent: append assistant_message: %w", err)
		}
		active = append(active, assistantEntry)

		if len(resp.ToolCalls) == 0 {
			finalText = SanitizeAssistantContent(resp.Content)
			stopReason = resp.FinishReason
			if stopReason == "" {
				stopReason = StopReasonStop
			}
			break
		}

		if aborted := r.checkLoopDetector(resp.ToolCalls, callCounts); aborted {
			narration.appendLine("→ stopping: repeated tool call detected")
			finalText = "I detected a repeated tool call loop and stopped to avoid getting stuck."
			stopReason = StopReasonAborted
			break
		}

		// TOOL_EXEC
		outcomes := r.executeToolCalls(toolCtx, runID, narration, resp.ToolCalls)
		for _, oc := range outcomes {
			q.Enqueue(chatqueue.Event{Kind: chatqueue.KindThread, Text: formatToolTrace(oc)})

			toolEntry := convo.NewToolResult(oc.call.ID, oc.result.IsError, []convo.ContentPart{{Type: convo.PartText, Text: oc.result.ForLLM}})
			if err := r.cfg.Convo.Append(toolEntry); err != nil {
				return nil, fmt.Errorf("agent: append tool_result: %w", err)
			}
			active = append(active, toolEntry)
		}
	}

	result := &RunResult{StopReason: stopReason, FinalText: finalText, Usage: totalUsage, Iterations: iteration}

	// FINALIZE
	silent := trig.IsEvent && IsSilentCompletion(finalText)
	result.Silent = silent
	if silent {
		slog.Info("agent: silent completion, suppressing turn output", "channel", r.cfg.ChannelID, "run", runID)
		return result, nil
	}

	startQueue()
	q.Enqueue(chatqueue.Event{Kind: chatqueue.KindMain, Text: finalText, Final: true})
	q.Enqueue(chatqueue.Event{Kind: chatqueue.KindThread, Text: formatUsageSummary(totalUsage, iteration)})
	q.Close()
	queueWG.Wait()
	q.Wait()

	if errs := q.Errs(); len(errs) > 0 {
		slog.Warn("agent: chat queue had delivery errors", "channel", r.cfg.ChannelID, "run", runID, "count", len(errs))
	}

	return result, nil
}

// summarize implements convo.SummarizeFunc against this Runner's provider.
func (r *Runner) summarize(ctx context.Context, entries []convo.ContextEntry) (string, error) {
	var b strings.Builder
	for _, e := range entries {
		switch e.Type {
		case convo.TypeUserMessage:
			b.WriteString("User: ")
			b.WriteString(e.UserMessage.Text)
			b.WriteString("\n")
		case convo.TypeAssistantMessage:
			for _, p := range e.AssistantMessage.ContentParts {
				if p.Type == convo.PartText && p.Text != "" {
					b.WriteString("Assistant: ")
					b.WriteString(p.Text)
					b.WriteString("\n")
				}
			}
		}
	}

	resp, err := r.cfg.Provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{
			Role:    "user",
			Content: "Summarize the conversation below concisely, preserving key facts, decisions, and open threads. Respond with the summary only.\n\n" + b.String(),
		}},
		Model:   r.cfg.Model,
		Options: map[string]interface{}{"max_tokens": 1024},
	})
	if err != nil {
		return "", err
	}
	return SanitizeAssistantContent(resp.Content), nil
}

// checkLoopDetector records every tool call's signature and reports whether
// any of them has now repeated loopCallLimit times this turn.
func (r *Runner) checkLoopDetector(calls []providers.ToolCall, counts map[string]int) bool {
	aborted := false
	for _, c := range calls {
		sig := toolCallSignature(c)
		counts[sig]++
		if counts[sig] >= loopCallLimit {
			aborted = true
		}
	}
	return aborted
}

func toolCallSignature(c providers.ToolCall) string {
	args := make(map[string]interface{}, len(c.Arguments))
	for k, v := range c.Arguments {
		if k == "label" {
			continue
		}
		args[k] = v
	}
	data, _ := json.Marshal(args)
	return c.Name + ":" + string(data)
}

type toolOutcome struct {
	call   providers.ToolCall
	label  string
	result *tools.Result
}

// executeToolCalls dispatches one LOOP iteration's tool calls: every
// non-sequential tool runs concurrently via errgroup, while bash/attach
// calls (tools.Sequential) run one at a time in their original order, since
// they share state (a working directory, the chat queue's ordering
// guarantee) that concurrent execution would race on. The returned slice
// always preserves the original call order, regardless of completion order,
// so context.jsonl records tool_result entries in a stable, replayable
// sequence.
func (r *Runner) executeToolCalls(ctx context.Context, runID string, narration *mainNarration, calls []providers.ToolCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))

	var parallelIdx, sequentialIdx []int
	for i, c := range calls {
		if tools.Sequential(c.Name) {
			sequentialIdx = append(sequentialIdx, i)
		} else {
			parallelIdx = append(parallelIdx, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, i := range parallelIdx {
		i := i
		g.Go(func() error {
			outcomes[i] = r.runOneTool(gctx, runID, narration, calls[i])
			return nil
		})
	}
	for _, i := range sequentialIdx {
		outcomes[i] = r.runOneTool(ctx, runID, narration, calls[i])
	}
	_ = g.Wait()

	return outcomes
}

func (r *Runner) runOneTool(ctx context.Context, runID string, narration *mainNarration, call providers.ToolCall) toolOutcome {
	label, _ := call.Arguments["label"].(string)
	if label == "" {
		label = call.Name
	}
	narration.appendLine("→ " + label)

	spanCtx, span := telemetry.StartToolSpan(ctx, r.cfg.ChannelID, runID, call.Name, call.ID)
	res := r.cfg.Tools.Execute(spanCtx, call.Name, call.Arguments)
	if res == nil {
		res = tools.ErrorResult(fmt.Sprintf("tool %q returned no result", call.Name))
	}
	errText := ""
	if res.IsError {
		if res.Err != nil {
			errText = res.Err.Error()
		} else {
			errText = res.ForLLM
		}
	}
	telemetry.EndToolSpan(span, res.IsError, errText)

	return toolOutcome{call: call, label: label, result: res}
}

// mainNarration accumulates the "→ <label>" status lines shown in the main
// chat message while a turn is in flight (spec §4.4), safe for concurrent
// use by tool goroutines running in parallel.
type mainNarration struct {
	mu   sync.Mutex
	text string
	sink *chatqueue.Queue
}

func (n *mainNarration) set(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.text = text
	n.sink.Enqueue(chatqueue.Event{Kind: chatqueue.KindMain, Text: n.text})
}

func (n *mainNarration) appendLine(line string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.text = n.text + "\n" + line
	n.sink.Enqueue(chatqueue.Event{Kind: chatqueue.KindMain, Text: n.text})
}

func formatToolTrace(oc toolOutcome) string {
	args, _ := json.Marshal(oc.call.Arguments)
	status := "ok"
	if oc.result.IsError {
		status = "error"
	}
	return fmt.Sprintf("*%s* (%s, %dms)\nargs: `%s`\n%s", oc.label, status, oc.result.DurationMS, string(args), oc.result.ForLLM)
}

func formatUsageSummary(u providers.Usage, iterations int) string {
	return fmt.Sprintf("Usage: %d prompt + %d completion = %d tokens across %d LLM call(s)",
		u.PromptTokens, u.CompletionTokens, u.TotalTokens, iterations)
}

func accumulateUsage(total *providers.Usage, u providers.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	total.CacheCreationTokens += u.CacheCreationTokens
	total.CacheReadTokens += u.CacheReadTokens
}

func convoUsageFromProvider(u *providers.Usage) convo.Usage {
	if u == nil {
		return convo.Usage{}
	}
	return convo.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func totalPromptChars(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

func buildContentParts(resp *providers.ChatResponse) []convo.ContentPart {
	var parts []convo.ContentPart
	if resp.Content != "" {
		parts = append(parts, convo.ContentPart{Type: convo.PartText, Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, convo.ContentPart{Type: convo.PartToolUse, ToolUseID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Arguments})
	}
	return parts
}

func toProviderToolDefs(defs []tools.Def) []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function.Name < out[j].Function.Name })
	return out
}
