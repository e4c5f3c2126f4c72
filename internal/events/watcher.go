package events

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultPollInterval is the fallback rescan cadence when fsnotify can't be
// started. The contract is a newly written event file must be picked up
// within a bounded delay of at most 5s (spec §9 "Event file watcher").
const defaultPollInterval = 5 * time.Second

// debounce coalesces a burst of filesystem events (e.g. an editor's
// write-then-rename) into a single rescan, the same pattern the config
// watcher this is grounded on uses for its own debounce timer.
const debounce = 250 * time.Millisecond

// Run watches the scheduler's events directory and drives Scan on
// startup, on every filesystem change, and periodically as a fallback —
// blocking until ctx is cancelled. pollInterval <= 0 uses the default.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	dir := s.eventsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("events: create events dir", "dir", dir, "error", err)
	}

	s.Scan(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("events: fsnotify unavailable, falling back to polling", "error", err, "interval", pollInterval)
		s.runPoll(ctx, pollInterval)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		slog.Warn("events: watch events dir failed, falling back to polling", "dir", dir, "error", err)
		s.runPoll(ctx, pollInterval)
		return
	}

	var timer *time.Timer
	rescan := make(chan struct{}, 1)

	// A poll ticker still runs alongside fsnotify as a safety net: a
	// filesystem change fsnotify misses (network mount, some editors on
	// some platforms) still gets picked up within the bounded delay.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case rescan <- struct{}{}:
					default:
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("events: watcher error", "error", err)
		case <-rescan:
			s.Scan(ctx)
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

func (s *Scheduler) runPoll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}
