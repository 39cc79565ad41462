package nodes

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	// reflectionSeparator joins result blocks shown to reflection.
	reflectionSeparator = "\n\n---\n\n"
	// answerSeparator joins result blocks shown to the answer model.
	answerSeparator = "\n---\n\n"
)

// ===== Small helpers to keep stage functions simple/readable =====

// FormatConversationHistory renders user and assistant turns, one per line.
func FormatConversationHistory(messages []*schema.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			b.WriteString("User: ")
		case schema.Assistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ResearchTopic is the single question of a one-turn conversation, or the
// whole formatted conversation otherwise.
func ResearchTopic(messages []*schema.Message) string {
	if len(messages) == 1 && messages[0] != nil {
		return messages[0].Content
	}
	return FormatConversationHistory(messages)
}

// cleanQueries trims entries, drops empty ones and caps the list at limit when limit > 0.
func cleanQueries(queries []string, limit int) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
