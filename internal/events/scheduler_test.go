package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errDispatchFailed = errors.New("dispatch failed")

type recordedFiring struct {
	channelID, filename, eventType, schedule, text string
	at                                             time.Time
}

type fakeDispatcher struct {
	mu       sync.Mutex
	firings  []recordedFiring
	failNext bool
}

func (f *fakeDispatcher) HandleEvent(ctx context.Context, channelID, filename, eventType, schedule, text string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firings = append(f.firings, recordedFiring{channelID, filename, eventType, schedule, text, at})
	if f.failNext {
		f.failNext = false
		return errDispatchFailed
	}
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.firings)
}

func writeEventFile(t *testing.T, dir, name string, body map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestScanFiresImmediateAndDeletesFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "events"), 0o755))
	writeEventFile(t, filepath.Join(ws, "events"), "now.json", map[string]interface{}{
		"type": "immediate", "channelId": "C1", "text": "hello",
	})

	disp := &fakeDispatcher{}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	require.Equal(t, 1, disp.count())
	_, err := os.Stat(filepath.Join(ws, "events", "now.json"))
	require.True(t, os.IsNotExist(err), "immediate event file must be deleted after delivery")
}

func TestScanFiresOneShotOnlyWhenDue(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	writeEventFile(t, dir, "future.json", map[string]interface{}{
		"type": "one-shot", "channelId": "C1", "text": "later",
		"at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	writeEventFile(t, dir, "past.json", map[string]interface{}{
		"type": "one-shot", "channelId": "C1", "text": "now please",
		"at": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})

	disp := &fakeDispatcher{}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	require.Equal(t, 1, disp.count())
	require.Equal(t, "now please", disp.firings[0].text)

	_, err := os.Stat(filepath.Join(dir, "future.json"))
	require.NoError(t, err, "future one-shot must not be deleted yet")
	_, err = os.Stat(filepath.Join(dir, "past.json"))
	require.True(t, os.IsNotExist(err))
}

func TestScanQuarantinesMalformedFile(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"type":"immediate","text":"oops"`), 0o644))

	disp := &fakeDispatcher{}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	require.Equal(t, 0, disp.count())
	_, err := os.Stat(filepath.Join(dir, "broken.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ".rejected", "broken.json"))
	require.NoError(t, err, "malformed file must be quarantined")
}

func TestScanQuarantinesMissingChannelID(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeEventFile(t, dir, "noch.json", map[string]interface{}{"type": "immediate", "text": "x"})

	disp := &fakeDispatcher{}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	require.Equal(t, 0, disp.count())
	_, err := os.Stat(filepath.Join(dir, ".rejected", "noch.json"))
	require.NoError(t, err)
}

func TestPeriodicEventPersistsAndReschedules(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeEventFile(t, dir, "daily.json", map[string]interface{}{
		"type": "periodic", "channelId": "C1", "text": "check inbox",
		"schedule": "*/1 * * * *", "timezone": "UTC",
	})

	disp := &fakeDispatcher{}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	_, err := os.Stat(filepath.Join(dir, "daily.json"))
	require.NoError(t, err, "periodic event file must persist")
	require.Equal(t, 0, disp.count(), "periodic event doesn't fire immediately, only on its schedule")

	sched.mu.Lock()
	st, ok := sched.periodic["daily.json"]
	sched.mu.Unlock()
	require.True(t, ok)
	require.False(t, st.nextFire.IsZero())
}

func TestPerChannelQueueCapDropsExcessFirings(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for i := 0; i < 8; i++ {
		writeEventFile(t, dir, fmtName(i), map[string]interface{}{
			"type": "immediate", "channelId": "C1", "text": "burst",
		})
	}

	disp := &fakeDispatcher{}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	require.LessOrEqual(t, disp.count(), admissionBurst, "per-channel admission must cap a simultaneous burst")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	remaining := 0
	for _, de := range entries {
		if !de.IsDir() {
			remaining++
		}
	}
	require.Equal(t, 8-disp.count(), remaining, "firings dropped by admission must keep their file on disk for a later retry")
}

func TestDroppedImmediateFiringSurvivesForRetry(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	sched := New(ws, &fakeDispatcher{})
	limiter := sched.limiterFor("C1")
	for limiter.Allow() {
		// drain the channel's admission burst so the next firing is dropped
	}

	writeEventFile(t, dir, "dropped.json", map[string]interface{}{
		"type": "immediate", "channelId": "C1", "text": "should survive",
	})
	sched.Scan(context.Background())

	_, err := os.Stat(filepath.Join(dir, "dropped.json"))
	require.NoError(t, err, "an immediate event dropped by admission must not be deleted")
}

func TestImmediateFiringDeletedEvenWhenDispatchErrors(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeEventFile(t, dir, "now.json", map[string]interface{}{
		"type": "immediate", "channelId": "C1", "text": "hello",
	})

	disp := &fakeDispatcher{failNext: true}
	sched := New(ws, disp)
	sched.Scan(context.Background())

	require.Equal(t, 1, disp.count())
	_, err := os.Stat(filepath.Join(dir, "now.json"))
	require.True(t, os.IsNotExist(err), "a firing that reached the dispatcher is consumed even if HandleEvent errors")
}

func fmtName(i int) string {
	return "burst-" + string(rune('a'+i)) + ".json"
}
