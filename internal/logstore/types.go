// Package logstore owns a channel's on-disk directory layout and the
// append-only log.jsonl that is the source of truth for a channel's history.
package logstore

import "time"

// Attachment is an inbound binary file already downloaded to disk.
type Attachment struct {
	LocalPath string `json:"localPath"`
}

// LogEntry is one line of log.jsonl. Immutable once appended.
type LogEntry struct {
	Date        time.Time    `json:"date"`
	Ts          string       `json:"ts"` // monotonic-orderable chat timestamp, e.g. "1732619040.123456"
	User        string       `json:"user"` // id or the sentinel "bot"
	UserName    string       `json:"userName,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsBot       bool         `json:"isBot"`
}

// BotUser is the sentinel LogEntry.User value for messages the agent itself sent.
const BotUser = "bot"

// EventUser is the sentinel LogEntry.User value for a message synthesized
// from a fired scheduled event rather than typed by a person.
const EventUser = "event"
