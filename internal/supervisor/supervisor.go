// Package supervisor owns the one-runner-per-channel invariant: every
// inbound chat message, scheduled event firing, and stop request for a
// channel passes through its Supervisor, which guarantees exactly one
// agent.Runner.Run is active for that channel at any moment (spec §4.5,
// §5 "Concurrency & Resource Model").
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/momhq/mom/internal/agent"
	"github.com/momhq/mom/internal/chatqueue"
	"github.com/momhq/mom/internal/convo"
	"github.com/momhq/mom/internal/logstore"
	"github.com/momhq/mom/internal/providers"
	"github.com/momhq/mom/internal/sandbox"
	"github.com/momhq/mom/internal/skills"
	"github.com/momhq/mom/internal/tools"
)

// defaultMaxInputChars bounds an inbound message before it reaches the
// agent loop, mirroring the truncate-with-system-notice behavior the
// teacher's loop applies at call time (grounded on loop.go's
// "Security: truncate oversized user messages gracefully").
const defaultMaxInputChars = 32_000

// Config wires a Supervisor to the collaborators every channel's runtime
// is built from. One Supervisor serves every channel in the workspace;
// each channel gets its own logstore.Store/convo.Manager/agent.Runner,
// built lazily on first use.
type Config struct {
	Workspace   string
	SandboxKind string // "host" or "docker:<container>"

	Provider providers.Provider
	Model    string

	MaxToolIterations    int
	ContextWindow        int
	MaxInputChars        int
	RecentMessagesWindow int

	Transport chatqueue.Transport

	// NewExecutor builds the sandbox.Executor a channel's bash tool runs
	// against. Factored out so tests can substitute a fake without
	// spinning up a container or shelling out on the host.
	NewExecutor func(channelID string) (sandbox.Executor, error)
}

func (c Config) maxInputChars() int {
	if c.MaxInputChars > 0 {
		return c.MaxInputChars
	}
	return defaultMaxInputChars
}

// Supervisor serializes all activity for every channel in a workspace.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	channels map[string]*channelRuntime
}

func New(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg, channels: map[string]*channelRuntime{}}
}

// channelRuntime is one channel's durable state plus its in-flight-run
// bookkeeping. Every field below mu is mutated only by this channel's own
// goroutine of execution (HandleMessage/HandleEvent/Stop all serialize
// through runMu); other readers should use Snapshot.
type channelRuntime struct {
	channelID string
	log       *logstore.Store
	convo     *convo.Manager
	runner    *agent.Runner

	// runMu gates "exactly one Run in flight" — HandleMessage/HandleEvent
	// both try to acquire it with TryLock; a held lock means a turn is
	// already running and the new trigger is only ever logged, never
	// turned into a second concurrent Run (spec §4.5: messages/events
	// arriving mid-run are appended to log.jsonl for the next turn's sync,
	// they do not queue a pending turn of their own).
	runMu sync.Mutex

	stateMu      sync.Mutex
	running      bool
	stopRequested bool
	cancel        context.CancelFunc
	stopHandle    *chatqueue.MessageHandle
}

// State is an atomic snapshot of a channel's run state, safe to read from
// any goroutine.
type State struct {
	Running       bool
	StopRequested bool
}

// Snapshot returns the channel's current run state, creating no runtime if
// one doesn't exist yet.
func (s *Supervisor) Snapshot(channelID string) State {
	s.mu.Lock()
	rt, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return State{}
	}
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	return State{Running: rt.running, StopRequested: rt.stopRequested}
}

func (s *Supervisor) runtimeFor(channelID string) (*channelRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.channels[channelID]; ok {
		return rt, nil
	}

	logStore := logstore.New(s.cfg.Workspace, channelID)
	if err := logStore.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("supervisor: ensure layout for %s: %w", channelID, err)
	}

	convoMgr := convo.NewManager(s.cfg.Workspace, channelID, convo.Config{
		CompactionThreshold: s.cfg.ContextWindow,
	})

	executor, registry, skillsLoader, err := s.buildToolsAndExecutor(channelID)
	if err != nil {
		return nil, err
	}
	if err := skillsLoader.Reload(); err != nil {
		slog.Warn("supervisor: skills reload failed, continuing without skills", "channel", channelID, "error", err)
	}

	runner := agent.NewRunner(agent.Config{
		Workspace:     s.cfg.Workspace,
		ChannelID:     channelID,
		SandboxKind:   s.cfg.SandboxKind,
		Provider:      s.cfg.Provider,
		Model:         s.cfg.Model,
		LogStore:      logStore,
		Convo:         convoMgr,
		Tools:         registry,
		Executor:      executor,
		Skills:        skillsLoader,
		Transport:     s.cfg.Transport,
		MaxIterations: s.cfg.MaxToolIterations,
	})

	rt := &channelRuntime{
		channelID: channelID,
		log:       logStore,
		convo:     convoMgr,
		runner:    runner,
	}
	s.channels[channelID] = rt
	return rt, nil
}

func (s *Supervisor) buildToolsAndExecutor(channelID string) (sandbox.Executor, *tools.Registry, *skills.Loader, error) {
	channelWorkspace := logstore.New(s.cfg.Workspace, channelID).ChannelDir()

	var executor sandbox.Executor
	var err error
	if s.cfg.NewExecutor != nil {
		executor, err = s.cfg.NewExecutor(channelID)
	} else {
		executor = sandbox.NewHostExecutor()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("supervisor: build executor for %s: %w", channelID, err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewBashTool(channelWorkspace))
	registry.Register(tools.NewReadTool(channelWorkspace))
	registry.Register(tools.NewWriteTool(channelWorkspace))
	registry.Register(tools.NewEditTool(channelWorkspace))
	registry.Register(tools.NewAttachTool(channelWorkspace))

	loader := skills.NewLoader(channelWorkspace)

	return executor, registry, loader, nil
}

// truncateIfOversized applies the same truncate-with-system-notice guard
// the teacher applies inline in its agent loop, moved here because this
// core enforces it once per inbound message at the Supervisor boundary
// rather than per-agent deep inside the turn.
func (s *Supervisor) truncateIfOversized(channelID, text string) string {
	max := s.cfg.maxInputChars()
	if len(text) <= max {
		return text
	}
	originalLen := len(text)
	truncated := text[:max] + fmt.Sprintf(
		"\n\n[System: Message was truncated from %d to %d characters due to size limit. "+
			"Please ask the user to send shorter messages or use the read_file tool for large content.]",
		originalLen, max)
	slog.Warn("supervisor.message_truncated", "channel", channelID, "original_len", originalLen, "truncated_to", max)
	return truncated
}

// HandleMessage appends an inbound chat message to the channel's log and,
// if no turn is currently running, starts one. If a turn is already
// running, the message is still durably logged so the next turn's PREPARE
// sync picks it up — no second concurrent Runner is started (spec §4.5).
func (s *Supervisor) HandleMessage(ctx context.Context, channelID string, entry logstore.LogEntry) error {
	rt, err := s.runtimeFor(channelID)
	if err != nil {
		return err
	}

	entry.Text = s.truncateIfOversized(channelID, entry.Text)
	if err := rt.log.AppendLog(entry); err != nil {
		return fmt.Errorf("supervisor: append log for %s: %w", channelID, err)
	}

	if entry.IsBot {
		return nil
	}

	if !rt.runMu.TryLock() {
		slog.Info("supervisor: turn already running, message logged for next sync", "channel", channelID)
		return nil
	}

	var paths []string
	for _, a := range entry.Attachments {
		paths = append(paths, filepath.Join(rt.log.ChannelDir(), a.LocalPath))
	}
	images := agent.LoadImages(paths)

	go s.runTurn(rt, agent.Trigger{Text: entry.Text, Images: images, Ts: entry.Ts, IsEvent: false})
	return nil
}

// HandleEvent synthesizes a log entry for a fired scheduled event and
// drives it through the same single-runner machinery as a chat message,
// with IsEvent set so silent completion can apply (spec §4.3, §4.5).
func (s *Supervisor) HandleEvent(ctx context.Context, channelID, filename, eventType, schedule, text string, at time.Time) error {
	rt, err := s.runtimeFor(channelID)
	if err != nil {
		return err
	}

	label := fmt.Sprintf("[EVENT:%s:%s:%s] %s", filename, eventType, schedule, text)
	entry := logstore.LogEntry{
		Date: at,
		Ts:   fmt.Sprintf("%d.%06d", at.Unix(), at.Nanosecond()/1000),
		User: logstore.EventUser,
		Text: label,
	}
	if err := rt.log.AppendLog(entry); err != nil {
		return fmt.Errorf("supervisor: append event log for %s: %w", channelID, err)
	}

	if !rt.runMu.TryLock() {
		slog.Warn("supervisor: turn already running, event firing logged for next sync", "channel", channelID, "event", filename)
		return nil
	}
	go s.runTurn(rt, agent.Trigger{Text: label, Ts: entry.Ts, IsEvent: true})
	return nil
}

// runTurn owns rt.runMu for the duration of one Run call. Caller must have
// already acquired rt.runMu via TryLock before spawning this goroutine.
func (s *Supervisor) runTurn(rt *channelRuntime, trig agent.Trigger) {
	defer rt.runMu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())

	rt.stateMu.Lock()
	rt.running = true
	rt.stopRequested = false
	rt.cancel = cancel
	rt.stateMu.Unlock()

	result, err := rt.runner.Run(runCtx, trig)

	rt.stateMu.Lock()
	stopRequested := rt.stopRequested
	stopHandle := rt.stopHandle
	rt.running = false
	rt.cancel = nil
	rt.stopHandle = nil
	rt.stateMu.Unlock()
	cancel()

	if err != nil {
		slog.Error("supervisor: turn failed", "channel", rt.channelID, "error", err)
		if postErr := s.postInternalError(rt.channelID); postErr != nil {
			slog.Error("supervisor: failed to post internal error notice", "channel", rt.channelID, "error", postErr)
		}
		return
	}

	if stopRequested && result.StopReason == agent.StopReasonAborted && stopHandle != nil {
		if uerr := s.cfg.Transport.UpdateMessage(context.Background(), *stopHandle, "Stopped"); uerr != nil {
			slog.Warn("supervisor: failed to edit Stopping notice to Stopped", "channel", rt.channelID, "error", uerr)
		}
	}
}

// postInternalError surfaces a Supervisor-layer failure (disk full,
// permission denied — anything outside the turn's own error handling) as
// a terminal chat message, while the Supervisor itself stays alive for
// this channel's next turn (spec §7 error taxonomy, supervisor-layer
// errors).
func (s *Supervisor) postInternalError(channelID string) error {
	_, err := s.cfg.Transport.PostMessage(context.Background(), channelID, "Something went wrong on my end and I had to stop this turn. Please try again.")
	return err
}

// Stop requests cancellation of the channel's currently active turn, if
// any. It posts a transient "Stopping…" message whose handle is later
// edited to "Stopped" once the runner actually exits aborted (spec §4.5).
// Stop on an idle channel is a no-op.
func (s *Supervisor) Stop(ctx context.Context, channelID string) error {
	s.mu.Lock()
	rt, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	rt.stateMu.Lock()
	if !rt.running {
		rt.stateMu.Unlock()
		return nil
	}
	rt.stopRequested = true
	cancel := rt.cancel
	rt.stateMu.Unlock()

	handle, err := s.cfg.Transport.PostMessage(ctx, channelID, "Stopping…")
	if err != nil {
		return fmt.Errorf("supervisor: post stopping notice for %s: %w", channelID, err)
	}

	rt.stateMu.Lock()
	rt.stopHandle = &handle
	rt.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
