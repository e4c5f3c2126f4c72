// Package events implements the on-disk scheduled-event source: a watched
// directory of JSON files that fire chat turns without a human sender
// (spec §3 "Event (scheduled)", §4.5 "Event scheduler").
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/momhq/mom/pkg/protocol"
)

// file is the on-disk shape of one <workspace>/events/<name>.json entry.
type file struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
	At        string `json:"at,omitempty"`       // one-shot only, RFC3339 with offset
	Schedule  string `json:"schedule,omitempty"` // periodic only, cron expression
	Timezone  string `json:"timezone,omitempty"` // periodic only, IANA zone
}

// parsed is a validated, in-memory representation of one event file.
type parsed struct {
	filename  string
	eventType string
	channelID string
	text      string
	at        time.Time      // one-shot only
	schedule  string         // periodic only
	location  *time.Location // periodic only
}

// parseFile validates the raw JSON against the event file schema (spec §6
// "Event file schema"). A malformed file is reported via err so the caller
// can quarantine it rather than crash the scanner.
func parseFile(filename string, data []byte) (*parsed, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("events: parse %s: %w", filename, err)
	}

	p := &parsed{filename: filename, eventType: f.Type, channelID: f.ChannelID, text: f.Text}

	if f.ChannelID == "" {
		return nil, fmt.Errorf("events: %s: missing channelId", filename)
	}

	switch f.Type {
	case protocol.EventImmediate:
		// nothing further to validate; fires on discovery.
	case protocol.EventOneShot:
		at, err := time.Parse(time.RFC3339, f.At)
		if err != nil {
			return nil, fmt.Errorf("events: %s: invalid \"at\" (want RFC3339 with offset): %w", filename, err)
		}
		p.at = at
	case protocol.EventPeriodic:
		if f.Schedule == "" {
			return nil, fmt.Errorf("events: %s: periodic event missing \"schedule\"", filename)
		}
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, fmt.Errorf("events: %s: invalid \"timezone\" %q: %w", filename, f.Timezone, err)
		}
		p.schedule = f.Schedule
		p.location = loc
	default:
		return nil, fmt.Errorf("events: %s: unknown type %q", filename, f.Type)
	}

	return p, nil
}
