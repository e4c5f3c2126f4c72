package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/time/rate"

	"github.com/momhq/mom/pkg/protocol"
)

// admissionBurst is the per-channel cap on pending firings (spec §4.5,
// §5: "Per-channel queue cap of 5 pending firings; additional firings for
// the same channel are dropped with a warning until the queue drains").
const admissionBurst = 5

// admissionRefill is how fast a dropped slot reopens. The queue itself has
// no explicit "drained" signal in this design — delivery to the Supervisor
// is near-instantaneous (HandleEvent only blocks on a log append) — so a
// token bucket refilling over a few seconds models "the queue drains" well
// enough to bound a burst of simultaneous firings for one channel without
// ever blocking the scanner.
const admissionRefill = 2 * time.Second

// Dispatcher is the Supervisor surface the scheduler drives. Matches
// supervisor.Supervisor.HandleEvent.
type Dispatcher interface {
	HandleEvent(ctx context.Context, channelID, filename, eventType, schedule, text string, at time.Time) error
}

// Scheduler watches <workspace>/events/ for immediate/one-shot/periodic
// event files and delivers fired events to a Dispatcher (spec §4.5).
type Scheduler struct {
	workspace  string
	dispatcher Dispatcher

	mu       sync.Mutex
	periodic map[string]*periodicState // filename -> next-fire tracking
	limiters map[string]*rate.Limiter  // channelID -> admission gate
}

type periodicState struct {
	p        *parsed
	nextFire time.Time
}

func New(workspace string, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		workspace:  workspace,
		dispatcher: dispatcher,
		periodic:   map[string]*periodicState{},
		limiters:   map[string]*rate.Limiter{},
	}
}

func (s *Scheduler) eventsDir() string {
	return filepath.Join(s.workspace, "events")
}

func (s *Scheduler) rejectedDir() string {
	return filepath.Join(s.eventsDir(), ".rejected")
}

func (s *Scheduler) limiterFor(channelID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(rate.Every(admissionRefill), admissionBurst)
		s.limiters[channelID] = l
	}
	return l
}

// Scan rescans the events directory once: parses every *.json file,
// fires immediate/one-shot/due-periodic events, quarantines malformed
// files, and deletes immediate/one-shot files once delivered (spec §6
// event file schema, §4.5 delivery/deletion ordering).
func (s *Scheduler) Scan(ctx context.Context) {
	dir := s.eventsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("events: read events dir", "error", err)
		}
		return
	}

	seen := map[string]bool{}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		seen[de.Name()] = true
		s.processFile(ctx, dir, de.Name())
	}

	s.forgetStalePeriodics(seen)
	s.checkDuePeriodics(ctx)
}

func (s *Scheduler) processFile(ctx context.Context, dir, name string) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("events: read event file", "file", name, "error", err)
		return
	}

	p, err := parseFile(name, data)
	if err != nil {
		s.quarantine(name, data, err)
		_ = os.Remove(path)
		return
	}

	switch p.eventType {
	case protocol.EventImmediate:
		if s.fire(ctx, p, time.Now()) {
			_ = os.Remove(path)
		}
	case protocol.EventOneShot:
		if !time.Now().Before(p.at) {
			if s.fire(ctx, p, p.at) {
				_ = os.Remove(path)
			}
		}
	case protocol.EventPeriodic:
		s.trackPeriodic(name, p)
	}
}

// trackPeriodic registers or refreshes a periodic event's next-fire time,
// recomputing it whenever the file's own schedule/timezone/text changes.
func (s *Scheduler) trackPeriodic(name string, p *parsed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.periodic[name]
	if ok && existing.p.schedule == p.schedule && existing.p.location == p.location {
		existing.p = p // text may have changed; schedule didn't
		return
	}

	next, err := s.nextTick(p, time.Now())
	if err != nil {
		slog.Error("events: compute next tick", "file", name, "error", err)
		return
	}
	s.periodic[name] = &periodicState{p: p, nextFire: next}
}

func (s *Scheduler) forgetStalePeriodics(seen map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.periodic {
		if !seen[name] {
			delete(s.periodic, name)
		}
	}
}

func (s *Scheduler) checkDuePeriodics(ctx context.Context) {
	now := time.Now()

	var due []*periodicState
	s.mu.Lock()
	for _, st := range s.periodic {
		if !now.Before(st.nextFire) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	// Stable order so tests and logs see a deterministic firing sequence
	// when several periodic events are due in the same scan.
	sort.Slice(due, func(i, j int) bool { return due[i].p.filename < due[j].p.filename })

	for _, st := range due {
		s.fire(ctx, st.p, st.nextFire)
		// Periodic events have no on-disk deletion to gate on delivery —
		// the file itself persists either way (spec §3 "periodic ...
		// persists until explicitly removed") — so the next tick still
		// advances even when this firing was dropped for admission; a
		// dropped periodic firing simply waits for its next scheduled time
		// rather than being retried immediately.
		next, err := s.nextTick(st.p, now)
		if err != nil {
			slog.Error("events: reschedule periodic", "file", st.p.filename, "error", err)
			continue
		}
		s.mu.Lock()
		if live, ok := s.periodic[st.p.filename]; ok {
			live.nextFire = next
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) nextTick(p *parsed, after time.Time) (time.Time, error) {
	expr := p.schedule
	if p.location != nil {
		expr = fmt.Sprintf("CRON_TZ=%s %s", p.location.String(), p.schedule)
	}
	return gronx.NextTick(expr, false)
}

// fire applies per-channel admission before delivering to the Supervisor,
// and reports whether delivery was attempted. A dropped firing is logged
// and never delivered — the caller must NOT treat it as consumed: an
// immediate/one-shot event's file has to survive a drop so the next scan
// can retry it once the channel's admission limiter refills (spec §5
// "dropped ... until the queue drains"; §8 "when one drains, the next
// scheduled firing is accepted"). A dispatch error, by contrast, still
// counts as delivered — the event reached the Supervisor and the failure
// is its concern to log/handle, not a reason to keep re-firing it.
func (s *Scheduler) fire(ctx context.Context, p *parsed, at time.Time) bool {
	limiter := s.limiterFor(p.channelID)
	if !limiter.Allow() {
		slog.Warn("events: per-channel queue full, dropping firing", "channel", p.channelID, "file", p.filename)
		return false
	}

	if err := s.dispatcher.HandleEvent(ctx, p.channelID, p.filename, p.eventType, p.schedule, p.text, at); err != nil {
		slog.Error("events: dispatch failed", "channel", p.channelID, "file", p.filename, "error", err)
	}
	return true
}

// quarantine moves a malformed event file's content (plus the parse
// error) to events/.rejected/<name>.json so a human can inspect and fix
// it, rather than crashing the scanner or silently losing the file (spec
// §7 error taxonomy, EventMalformed).
func (s *Scheduler) quarantine(name string, data []byte, parseErr error) {
	if err := os.MkdirAll(s.rejectedDir(), 0o755); err != nil {
		slog.Error("events: create rejected dir", "error", err)
		return
	}

	var raw json.RawMessage = data
	if !json.Valid(data) {
		raw = json.RawMessage(fmt.Sprintf("%q", string(data)))
	}

	record := struct {
		Original json.RawMessage `json:"original"`
		Error    string          `json:"error"`
		At       time.Time       `json:"rejectedAt"`
	}{Original: raw, Error: parseErr.Error(), At: time.Now()}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		slog.Error("events: marshal rejected record", "error", err)
		return
	}

	path := filepath.Join(s.rejectedDir(), name)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		slog.Error("events: write rejected file", "file", name, "error", err)
		return
	}
	slog.Warn("events: quarantined malformed event file", "file", name, "error", parseErr)
}
