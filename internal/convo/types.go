// Package convo owns a channel's context.jsonl: the LLM-visible, lossy
// history kept in sync with the log and bounded by a compaction policy.
package convo

import "encoding/json"

// EntryType discriminates the ContextEntry tagged union (spec §3, §6).
type EntryType string

const (
	TypeUserMessage      EntryType = "user_message"
	TypeAssistantMessage EntryType = "assistant_message"
	TypeToolResult       EntryType = "tool_result"
	TypeCompaction       EntryType = "compaction"
)

// PartType discriminates an assistant-message content part.
type PartType string

const (
	PartText    PartType = "text"
	PartThink   PartType = "thinking"
	PartToolUse PartType = "tool_use"
)

// ContentPart is one piece of an assistant_message's content_parts.
type ContentPart struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking string `json:"thinking,omitempty"`

	ToolUseID   string                 `json:"id,omitempty"`
	ToolName    string                 `json:"name,omitempty"`
	ToolArgs    map[string]interface{} `json:"args,omitempty"`
}

// ImageContent is a base64-encoded image attached to a user_message.
type ImageContent struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Usage tracks token consumption reported alongside an assistant_message.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// UserMessagePayload is the payload of a user_message entry.
type UserMessagePayload struct {
	Text   string         `json:"text"`
	Images []ImageContent `json:"images,omitempty"`
}

// AssistantMessagePayload is the payload of an assistant_message entry.
type AssistantMessagePayload struct {
	ContentParts []ContentPart `json:"content_parts"`
	StopReason   string        `json:"stopReason"` // "stop", "max_tokens", "error", "aborted"
	Usage        Usage         `json:"usage"`
}

// ToolResultPayload is the payload of a tool_result entry.
type ToolResultPayload struct {
	ToolUseID    string        `json:"tool_use_id"`
	IsError      bool          `json:"isError"`
	ContentParts []ContentPart `json:"content_parts"`
}

// CompactionPayload is the payload of a compaction entry.
type CompactionPayload struct {
	Summary      string `json:"summary"`
	TokensBefore int    `json:"tokensBefore"`
	CutoverIndex int    `json:"cutoverIndex"`
}

// ContextEntry is one line of context.jsonl: a tagged variant over the four
// payload types above. Exactly one of the payload fields is populated,
// matching Type.
type ContextEntry struct {
	Type EntryType `json:"type"`

	UserMessage      *UserMessagePayload      `json:"user_message,omitempty"`
	AssistantMessage *AssistantMessagePayload `json:"assistant_message,omitempty"`
	ToolResult       *ToolResultPayload       `json:"tool_result,omitempty"`
	Compaction       *CompactionPayload       `json:"compaction,omitempty"`
}

// NewUserMessage builds a user_message entry.
func NewUserMessage(text string, images []ImageContent) ContextEntry {
	return ContextEntry{Type: TypeUserMessage, UserMessage: &UserMessagePayload{Text: text, Images: images}}
}

// NewAssistantMessage builds an assistant_message entry.
func NewAssistantMessage(parts []ContentPart, stopReason string, usage Usage) ContextEntry {
	return ContextEntry{Type: TypeAssistantMessage, AssistantMessage: &AssistantMessagePayload{
		ContentParts: parts, StopReason: stopReason, Usage: usage,
	}}
}

// NewToolResult builds a tool_result entry.
func NewToolResult(toolUseID string, isError bool, parts []ContentPart) ContextEntry {
	return ContextEntry{Type: TypeToolResult, ToolResult: &ToolResultPayload{
		ToolUseID: toolUseID, IsError: isError, ContentParts: parts,
	}}
}

// NewCompaction builds a compaction entry.
func NewCompaction(summary string, tokensBefore, cutoverIndex int) ContextEntry {
	return ContextEntry{Type: TypeCompaction, Compaction: &CompactionPayload{
		Summary: summary, TokensBefore: tokensBefore, CutoverIndex: cutoverIndex,
	}}
}

// Marshal serialises e as a single JSON line (without trailing newline).
func (e ContextEntry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
