package slackchat

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/momhq/mom/internal/logstore"
)

// Dispatcher is the Supervisor surface the ingestion loop drives. Matches
// supervisor.Supervisor's HandleMessage/Stop.
type Dispatcher interface {
	HandleMessage(ctx context.Context, channelID string, entry logstore.LogEntry) error
	Stop(ctx context.Context, channelID string) error
}

// stopCommand is the exact (trimmed, case-insensitive) message text that
// routes to Dispatcher.Stop instead of starting a turn. The external
// interfaces section of this core's contract leaves the concrete
// stop-trigger mechanism to the chat binding; a plain keyword keeps the
// Slack surface minimal (no slash command registration, no interactive
// buttons) while still giving every channel an unambiguous way to invoke
// it.
const stopCommand = "stop"

// Listener runs the Socket Mode event loop: one inbound Slack event becomes
// one Dispatcher call. Attachments are downloaded to the channel's
// attachments/ directory before the message is handed to the Supervisor,
// so Trigger.Images can be built from local paths (spec §4.1 "Memory
// read"/§6 filesystem layout).
type Listener struct {
	api        *slack.Client
	socket     *socketmode.Client
	dispatcher Dispatcher
	workspace  string
}

func NewListener(botToken, appToken string, debug bool, workspace string, dispatcher Dispatcher) *Listener {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken), slack.OptionDebug(debug))
	socket := socketmode.New(api, socketmode.OptionDebug(debug))
	return &Listener{api: api, socket: socket, dispatcher: dispatcher, workspace: workspace}
}

// Transport returns a chatqueue.Transport bound to this listener's Slack
// client, for wiring into the Supervisor's agent.Config.Transport.
func (l *Listener) Transport() *Transport {
	return NewTransport(l.api)
}

// Run drives the Socket Mode connection until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-l.socket.Events:
				if !ok {
					return
				}
				l.handle(ctx, evt)
			}
		}
	}()
	return l.socket.RunContext(ctx)
}

func (l *Listener) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			l.socket.Ack(*evt.Request)
		}
		l.handleEventsAPI(ctx, eventsAPI)
	case socketmode.EventTypeConnectionError:
		slog.Warn("slackchat: socket mode connection error")
	}
}

func (l *Listener) handleEventsAPI(ctx context.Context, eventsAPI slackevents.EventsAPIEvent) {
	if eventsAPI.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPI.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		l.handleMessage(ctx, ev)
	case *slackevents.AppMentionEvent:
		l.handleMention(ctx, ev)
	}
}

func (l *Listener) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType == "message_changed" || ev.SubType == "message_deleted" {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if strings.EqualFold(text, stopCommand) {
		if err := l.dispatcher.Stop(ctx, ev.Channel); err != nil {
			slog.Error("slackchat: stop failed", "channel", ev.Channel, "error", err)
		}
		return
	}

	entry := l.buildLogEntry(ctx, ev.Channel, ev.User, ev.TimeStamp, text, ev.Files)
	if err := l.dispatcher.HandleMessage(ctx, ev.Channel, entry); err != nil {
		slog.Error("slackchat: handle message failed", "channel", ev.Channel, "error", err)
	}
}

func (l *Listener) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	text := strings.TrimSpace(ev.Text)
	entry := l.buildLogEntry(ctx, ev.Channel, ev.User, ev.TimeStamp, text, nil)
	if err := l.dispatcher.HandleMessage(ctx, ev.Channel, entry); err != nil {
		slog.Error("slackchat: handle mention failed", "channel", ev.Channel, "error", err)
	}
}

func (l *Listener) buildLogEntry(ctx context.Context, channelID, userID, ts, text string, files []slack.File) logstore.LogEntry {
	entry := logstore.LogEntry{
		Date: tsToTime(ts),
		Ts:   ts,
		User: userID,
		Text: text,
	}

	if profile, err := l.api.GetUserInfoContext(ctx, userID); err == nil {
		entry.UserName = profile.Name
	}

	for _, f := range files {
		localPath, err := l.downloadAttachment(ctx, channelID, f)
		if err != nil {
			slog.Warn("slackchat: attachment download failed", "channel", channelID, "file", f.ID, "error", err)
			continue
		}
		entry.Attachments = append(entry.Attachments, logstore.Attachment{LocalPath: localPath})
	}

	return entry
}

// downloadAttachment saves a Slack file to <workspace>/<channelId>/attachments/
// and returns its path relative to the channel directory. The stored
// filename is keyed off the file's stable Slack ID; only when that's
// empty (an edge case the Slack API doesn't document but defends
// against) does it fall back to a hash of the file's metadata, to still
// produce a deterministic, collision-resistant name.
func (l *Listener) downloadAttachment(ctx context.Context, channelID string, f slack.File) (string, error) {
	store := logstore.New(l.workspace, channelID)
	attachmentsDir := store.Dirs().Attachments
	if err := os.MkdirAll(attachmentsDir, 0o755); err != nil {
		return "", fmt.Errorf("slackchat: create attachments dir: %w", err)
	}

	base := f.ID
	if base == "" {
		h := sha256.Sum256([]byte(f.Name + f.Filetype + strconv.FormatInt(int64(f.Created), 10)))
		base = fmt.Sprintf("%x", h[:8])
	}
	ext := filepath.Ext(f.Name)
	filename := base
	if ext != "" {
		filename += ext
	}

	dest := filepath.Join(attachmentsDir, filename)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("slackchat: create attachment file: %w", err)
	}
	defer out.Close()

	if err := l.api.GetFile(f.URLPrivateDownload, out); err != nil {
		return "", fmt.Errorf("slackchat: download attachment %s: %w", f.ID, err)
	}

	return filepath.Join("attachments", filename), nil
}

func tsToTime(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	var nsec int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) < 9 {
			fracStr += strings.Repeat("0", 9-len(fracStr))
		}
		if n, err := strconv.ParseInt(fracStr[:9], 10, 64); err == nil {
			nsec = n
		}
	}
	return time.Unix(sec, nsec).UTC()
}
