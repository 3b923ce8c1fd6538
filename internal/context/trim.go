package context

import (
	"strings"

	tokenutil "specpilot/internal/shared/token"
)

// sentenceEnds are the runes after which TrimToFit prefers to cut.
const sentenceEnds = ".!?;。！？；\n"

// TrimToFit truncates text to at most maxTokens estimated tokens, cutting at
// the last sentence boundary in the second half of the fitting prefix when
// there is one.
func (m *Manager) TrimToFit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if m.Estimate(text) <= maxTokens {
		return text
	}
	prefix := tokenutil.TruncateToTokens(m.estimator, text, maxTokens)
	runes := []rune(prefix)
	for i := len(runes) - 1; i >= len(runes)/2 && i > 0; i-- {
		if !strings.ContainsRune(sentenceEnds, runes[i]) {
			continue
		}
		candidate := strings.TrimSpace(string(runes[:i+1]))
		if candidate != "" && m.Estimate(candidate) <= maxTokens {
			return candidate
		}
		break
	}
	return strings.TrimSpace(prefix)
}
