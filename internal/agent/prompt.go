package agent

import (
	"strings"
	"time"

	"github.com/momhq/mom/internal/convo"
	"github.com/momhq/mom/internal/logstore"
	"github.com/momhq/mom/internal/providers"
)

// SystemPromptConfig carries every value the system-prompt template (§4.3)
// interpolates: workspacePath, channelId, memory, sandboxKind, currentDate,
// currentDateTime, availableSkills.
type SystemPromptConfig struct {
	WorkspacePath   string
	ChannelID       string
	Memory          logstore.MemorySnapshot
	SandboxKind     string
	Now             time.Time
	AvailableSkills string
}

// BuildSystemPrompt renders the system side of the prompt. It carries no
// per-turn user text, so it stays identical — and prefix-cacheable — across
// a channel's turns until memory or skills actually change.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var b strings.Builder
	b.WriteString("You are mom, an assistant embedded in a chat channel. ")
	b.WriteString("You can run shell commands and read, write, and edit files in your workspace to help the people in this channel.\n\n")

	b.WriteString("Workspace: " + cfg.WorkspacePath + "\n")
	b.WriteString("Channel: " + cfg.ChannelID + "\n")
	b.WriteString("Sandbox: " + cfg.SandboxKind + "\n")
	b.WriteString("Current date: " + cfg.Now.Format("2006-01-02") + "\n")
	b.WriteString("Current date/time: " + cfg.Now.Format(time.RFC3339) + "\n\n")

	b.WriteString("Global memory:\n")
	if cfg.Memory.GlobalText != "" {
		b.WriteString(cfg.Memory.GlobalText)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n\nChannel memory:\n")
	if cfg.Memory.ChannelText != "" {
		b.WriteString(cfg.Memory.ChannelText)
	} else {
		b.WriteString("(none)")
	}

	b.WriteString("\n\nAvailable skills:\n")
	if cfg.AvailableSkills != "" {
		b.WriteString(cfg.AvailableSkills)
	} else {
		b.WriteString("(none)")
	}

	b.WriteString("\n\nIf the turn requires no user-visible reply at all, answer with exactly [SILENT] and nothing else — only ever do this for scheduled events, never in response to a person.\n")
	b.WriteString("Every tool call needs a short, human-readable label describing what it's doing, shown to the user while it runs.")

	return b.String()
}

// buildUserPrompt prepends a tab-separated recent-messages window to the
// raw inbound text (§4.2 "Message history read for prompt"), keeping the
// history out of the system prompt so the system prompt's prefix stays
// cacheable across turns.
func buildUserPrompt(recentTSV, text string) string {
	if recentTSV == "" {
		return text
	}
	return "Recent channel history:\n" + recentTSV + "\n" + text
}

// buildMessages converts a channel's active (non-compacted) context entries
// plus the system prompt into the provider.Message list for one LLM call.
// The last active entry is assumed to be this turn's own user_message; its
// content is replaced with promptText (the recent-messages-prefixed turn
// text) for the purposes of this call only — the entry stored on disk keeps
// the raw trigger text.
func buildMessages(systemPrompt, summary string, active []convo.ContextEntry, promptText string) []providers.Message {
	messages := make([]providers.Message, 0, len(active)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})

	if summary != "" {
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: "[Earlier conversation summary]\n" + summary,
		})
		messages = append(messages, providers.Message{
			Role:    "assistant",
			Content: "Understood — I have the context from before. How can I help?",
		})
	}

	for i, e := range active {
		isLast := i == len(active)-1
		switch e.Type {
		case convo.TypeUserMessage:
			content := e.UserMessage.Text
			if isLast {
				content = promptText
			}
			messages = append(messages, providers.Message{
				Role:    "user",
				Content: content,
				Images:  convertImages(e.UserMessage.Images),
			})
		case convo.TypeAssistantMessage:
			messages = append(messages, assistantMessageFromEntry(e))
		case convo.TypeToolResult:
			messages = append(messages, toolMessageFromEntry(e))
		case convo.TypeCompaction:
			// Compaction entries are only ever the boundary convo.ActiveEntries
			// already split on; they never appear inside `active` itself.
		}
	}

	return messages
}

func assistantMessageFromEntry(e convo.ContextEntry) providers.Message {
	msg := providers.Message{Role: "assistant"}
	var text strings.Builder
	for _, p := range e.AssistantMessage.ContentParts {
		switch p.Type {
		case convo.PartText:
			text.WriteString(p.Text)
		case convo.PartToolUse:
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID: p.ToolUseID, Name: p.ToolName, Arguments: p.ToolArgs,
			})
		}
	}
	msg.Content = text.String()
	return msg
}

func toolMessageFromEntry(e convo.ContextEntry) providers.Message {
	var text strings.Builder
	for _, p := range e.ToolResult.ContentParts {
		text.WriteString(p.Text)
	}
	return providers.Message{
		Role:       "tool",
		Content:    text.String(),
		ToolCallID: e.ToolResult.ToolUseID,
		IsError:    e.ToolResult.IsError,
	}
}

func convertImages(images []convo.ImageContent) []providers.ImageContent {
	if len(images) == 0 {
		return nil
	}
	out := make([]providers.ImageContent, len(images))
	for i, img := range images {
		out[i] = providers.ImageContent{MimeType: img.MimeType, Data: img.Data}
	}
	return out
}
