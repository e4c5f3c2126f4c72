// Response sanitization: hygiene passes applied to the final assistant text
// before it replaces the main chat message, plus silent-completion detection.
package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeAssistantContent applies the hygiene pipeline to assistant response
// text before it's posted to chat and appended to context.jsonl.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}

	original := content

	content = stripThinkingTags(content)
	content = stripFinalTags(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	content = stripMediaPaths(content)
	content = stripLeadingBlankLines(content)
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized assistant content", "original_len", len(original), "cleaned_len", len(content))
	}

	return content
}

// --- thinking/reasoning tags ---

// Anthropic's own extended-thinking blocks come back as separate content
// parts, never inline in the text — but a model can still echo a literal
// <thinking> tag in its final text if the system prompt mentions the word,
// so this strip is defensive rather than load-bearing.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") {
		return content
	}
	result := content
	for _, pat := range thinkingTagPatterns {
		result = pat.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}

// --- <final> tags ---

// stripFinalTags removes <final>/</final> wrapper tags but keeps the
// content inside, in case a system-prompt instruction to "wrap the answer
// in <final>" leaks into the rendered text.
var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagPattern.ReplaceAllString(content, "")
}

// --- collapse consecutive duplicate blocks ---

// collapseConsecutiveDuplicateBlocks removes a paragraph block that's an
// exact repeat of the one immediately before it — a streaming artifact that
// occasionally shows up after a retried LLM call.
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var result []string
	for i, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if i > 0 && len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}

	collapsed := strings.Join(result, "\n\n")
	if collapsed != content {
		slog.Debug("collapsed duplicate blocks", "original_blocks", len(blocks), "result_blocks", len(result))
	}
	return collapsed
}

// --- strip MEDIA: paths ---

// stripMediaPaths removes lines referencing a MEDIA:/path marker — an
// attach tool result artifact that shouldn't appear in user-facing text,
// since the file is already delivered via the chat queue's file upload.
func stripMediaPaths(content string) string {
	if !strings.Contains(content, "MEDIA:") {
		return content
	}
	lines := strings.Split(content, "\n")
	var result []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "MEDIA:") {
			continue
		}
		result = append(result, line)
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}

// --- strip leading blank lines ---

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func stripLeadingBlankLines(content string) string {
	return leadingBlankLinesPattern.ReplaceAllString(content, "")
}

// --- silent completion ---

// silentToken is the exact (case-sensitive, trimmed) final assistant text
// that triggers silent completion for event-triggered turns.
const silentToken = "[SILENT]"

// IsSilentCompletion reports whether text, once trimmed, is exactly the
// silent-completion token. Only meaningful when the turn's trigger was an
// event, not a user message — the caller enforces that distinction.
func IsSilentCompletion(text string) bool {
	return strings.TrimSpace(text) == silentToken
}
