// Package slackchat is the Slack Socket Mode binding: a chatqueue.Transport
// implementation backed by the Slack Web API, plus a socket-mode event loop
// that turns inbound Slack events into Supervisor calls (spec §6 "Chat
// transport interface", §4.4).
package slackchat

import (
	"bytes"
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/momhq/mom/internal/chatqueue"
)

// Transport implements chatqueue.Transport against the real Slack Web API.
// Every method here is the direct, un-narrated counterpart of the
// language-independent transport contract: postMessage/updateMessage/
// deleteMessage/postInThread/uploadFile.
type Transport struct {
	api *slack.Client
}

func NewTransport(api *slack.Client) *Transport {
	return &Transport{api: api}
}

func (t *Transport) PostMessage(ctx context.Context, chatID, text string) (chatqueue.MessageHandle, error) {
	_, ts, err := t.api.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return chatqueue.MessageHandle{}, fmt.Errorf("slackchat: post message to %s: %w", chatID, err)
	}
	return chatqueue.MessageHandle{ChatID: chatID, Ts: ts}, nil
}

func (t *Transport) UpdateMessage(ctx context.Context, handle chatqueue.MessageHandle, text string) error {
	_, _, _, err := t.api.UpdateMessageContext(ctx, handle.ChatID, handle.Ts, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slackchat: update message %s/%s: %w", handle.ChatID, handle.Ts, err)
	}
	return nil
}

func (t *Transport) DeleteMessage(ctx context.Context, handle chatqueue.MessageHandle) error {
	_, _, err := t.api.DeleteMessageContext(ctx, handle.ChatID, handle.Ts)
	if err != nil {
		return fmt.Errorf("slackchat: delete message %s/%s: %w", handle.ChatID, handle.Ts, err)
	}
	return nil
}

func (t *Transport) PostInThread(ctx context.Context, parent chatqueue.MessageHandle, text string) (chatqueue.MessageHandle, error) {
	_, ts, err := t.api.PostMessageContext(ctx, parent.ChatID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(parent.Ts),
	)
	if err != nil {
		return chatqueue.MessageHandle{}, fmt.Errorf("slackchat: post in thread %s/%s: %w", parent.ChatID, parent.Ts, err)
	}
	return chatqueue.MessageHandle{ChatID: parent.ChatID, Ts: ts}, nil
}

func (t *Transport) UploadFile(ctx context.Context, chatID string, thread *chatqueue.MessageHandle, filename string, data []byte) error {
	params := slack.UploadFileV2Parameters{
		Channel:  chatID,
		Filename: filename,
		FileSize: len(data),
		Reader:   bytes.NewReader(data),
	}
	if thread != nil {
		params.ThreadTimestamp = thread.Ts
	}
	if _, err := t.api.UploadFileV2Context(ctx, params); err != nil {
		return fmt.Errorf("slackchat: upload file %s to %s: %w", filename, chatID, err)
	}
	return nil
}
