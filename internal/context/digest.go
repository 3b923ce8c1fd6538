package context

import (
	"fmt"
	"strings"

	"specpilot/internal/agent/ports"
)

// digestSnippetsPerRole bounds how many snippets each role contributes.
const digestSnippetsPerRole = 4

// Digest builds a deterministic, role-grouped summary of msgs. It is used both
// as the synthetic system message of the summarization strategy and as the
// rolling session summary.
func (m *Manager) Digest(msgs []ports.Message) string {
	if len(msgs) == 0 {
		return ""
	}

	grouped := map[string][]string{}
	var order []string
	for _, msg := range msgs {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "" {
			role = ports.RoleUser
		}
		snippet := buildSnippet(msg.Content, m.snippetLength)
		if snippet == "" {
			continue
		}
		if _, seen := grouped[role]; !seen {
			order = append(order, role)
		}
		grouped[role] = append(grouped[role], snippet)
	}
	if len(order) == 0 {
		return ""
	}

	counts := make([]string, 0, len(order))
	sections := make([]string, 0, len(order))
	for _, role := range order {
		snippets := grouped[role]
		counts = append(counts, fmt.Sprintf("%d %s message(s)", len(snippets), role))
		sections = append(sections, fmt.Sprintf("%s: %s", roleLabel(role), strings.Join(pickSnippets(snippets), " | ")))
	}
	return fmt.Sprintf("[Earlier context compressed] %s. %s.", strings.Join(counts, ", "), strings.Join(sections, "; "))
}

// pickSnippets keeps the first snippet and the most recent ones.
func pickSnippets(snippets []string) []string {
	if len(snippets) <= digestSnippetsPerRole {
		return snippets
	}
	out := []string{snippets[0], "..."}
	return append(out, snippets[len(snippets)-(digestSnippetsPerRole-1):]...)
}

func roleLabel(role string) string {
	switch role {
	case ports.RoleSystem:
		return "System notes"
	case ports.RoleUser:
		return "User said"
	case ports.RoleAssistant:
		return "Assistant replied"
	default:
		return strings.ToUpper(role[:1]) + role[1:]
	}
}

func buildSnippet(content string, limit int) string {
	trimmed := strings.Join(strings.Fields(content), " ")
	if trimmed == "" || limit <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
