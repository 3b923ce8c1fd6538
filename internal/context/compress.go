package context

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"

	"specpilot/internal/agent/ports"
)

// Strategy selects how history is compressed.
type Strategy string

const (
	StrategySummarization Strategy = "summarization"
	StrategyImportance    Strategy = "importance"
	StrategyDedup         Strategy = "dedup"
	StrategyHybrid        Strategy = "hybrid"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySummarization, StrategyImportance, StrategyDedup, StrategyHybrid:
		return true
	}
	return false
}

// CompressOptions tunes one Compress call.
type CompressOptions struct {
	Strategy Strategy
	// PinRecent overrides the manager default when positive; NoPin disables pinning.
	PinRecent int
	NoPin     bool
	// Query is the current user request; importance scoring boosts overlap with it.
	Query string
}

// similarity is only computed for messages up to this many bytes.
const maxSimilarityBytes = 4000

var (
	questionWords = []string{"what", "how", "why", "which", "when", "who", "where", "could", "should", "什么", "如何", "为什么", "哪", "怎么", "是否"}
	errorKeywords = []string{"error", "exception", "fail", "panic", "crash", "traceback", "错误", "异常", "失败", "报错"}
)

// Compress returns a copy of history whose estimated cost fits targetTokens.
// The most recent PinRecent messages are never evicted as long as their
// combined cost fits the target, and kept messages stay in chronological
// order.
func (m *Manager) Compress(history []ports.Message, targetTokens int, opts CompressOptions) []ports.Message {
	if len(history) == 0 {
		return nil
	}
	if targetTokens <= 0 {
		return []ports.Message{}
	}
	if m.EstimateMessages(history) <= targetTokens {
		return ports.CloneMessages(history)
	}

	strategy := opts.Strategy
	if !strategy.Valid() {
		strategy = m.defaultStrategy
	}

	pinned := m.pinnedCount(history, targetTokens, opts)
	older := ports.CloneMessages(history[:len(history)-pinned])
	recent := ports.CloneMessages(history[len(history)-pinned:])
	budget := targetTokens - m.EstimateMessages(recent)

	switch strategy {
	case StrategySummarization:
		older = m.summarize(older, budget)
	case StrategyImportance:
		older = m.keepImportant(older, budget, opts.Query)
	case StrategyDedup:
		older = m.dedup(older, recent)
	case StrategyHybrid:
		older = m.keepImportant(m.dedup(older, recent), budget, opts.Query)
	}

	older = m.enforceBudget(older, budget)
	out := append(older, recent...)
	m.logger.Debug("Compressed history %d -> %d messages (strategy=%s, target=%d, cost=%d)",
		len(history), len(out), strategy, targetTokens, m.EstimateMessages(out))
	return out
}

// pinnedCount returns how many trailing messages are pinned. Pins that would
// not fit the target are released, newest kept first.
func (m *Manager) pinnedCount(history []ports.Message, target int, opts CompressOptions) int {
	if opts.NoPin {
		return 0
	}
	want := m.pinRecent
	if opts.PinRecent > 0 {
		want = opts.PinRecent
	}
	if want > len(history) {
		want = len(history)
	}
	cost, count := 0, 0
	for i := len(history) - 1; i >= len(history)-want; i-- {
		cost += m.EstimateMessage(history[i])
		if cost > target {
			break
		}
		count++
	}
	return count
}

// enforceBudget drops the oldest messages until msgs fit budget.
func (m *Manager) enforceBudget(msgs []ports.Message, budget int) []ports.Message {
	if budget <= 0 {
		return []ports.Message{}
	}
	cost := m.EstimateMessages(msgs)
	for len(msgs) > 0 && cost > budget {
		cost -= m.EstimateMessage(msgs[0])
		msgs = msgs[1:]
	}
	return msgs
}

// summarize keeps system messages that fit and collapses everything else into
// one synthetic system digest placed where the first collapsed message was.
func (m *Manager) summarize(msgs []ports.Message, budget int) []ports.Message {
	if len(msgs) == 0 || budget <= 0 {
		return []ports.Message{}
	}

	var (
		kept        []ports.Message
		collapsed   []ports.Message
		insertIndex = -1
		keptCost    int
	)
	for _, msg := range msgs {
		if msg.Role == ports.RoleSystem {
			if cost := m.EstimateMessage(msg); keptCost+cost <= budget {
				kept = append(kept, msg)
				keptCost += cost
				continue
			}
		}
		if insertIndex == -1 {
			insertIndex = len(kept)
		}
		collapsed = append(collapsed, msg)
	}
	if len(collapsed) == 0 {
		return kept
	}

	room := budget - keptCost - m.EstimateMessage(ports.Message{})
	if room <= 0 {
		return kept
	}
	digest := m.TrimToFit(m.Digest(collapsed), room)
	if strings.TrimSpace(digest) == "" {
		return kept
	}
	summary := ports.Message{Role: ports.RoleSystem, Content: digest, Timestamp: collapsed[len(collapsed)-1].Timestamp}

	out := make([]ports.Message, 0, len(kept)+1)
	out = append(out, kept[:insertIndex]...)
	out = append(out, summary)
	out = append(out, kept[insertIndex:]...)
	return out
}

type scored struct {
	index int
	score float64
	cost  int
}

// keepImportant greedily keeps the highest scoring messages that fit budget
// and returns them in their original order.
func (m *Manager) keepImportant(msgs []ports.Message, budget int, query string) []ports.Message {
	if len(msgs) == 0 || budget <= 0 {
		return []ports.Message{}
	}
	queryTerms := terms(query)
	candidates := make([]scored, len(msgs))
	for i, msg := range msgs {
		candidates[i] = scored{
			index: i,
			score: importance(msg, queryTerms) + 0.5*float64(i+1)/float64(len(msgs)),
			cost:  m.EstimateMessage(msg),
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	keep := make([]bool, len(msgs))
	used := 0
	for _, c := range candidates {
		if used+c.cost > budget {
			continue
		}
		keep[c.index] = true
		used += c.cost
	}

	out := make([]ports.Message, 0, len(msgs))
	for i, msg := range msgs {
		if keep[i] {
			out = append(out, msg)
		}
	}
	return out
}

func importance(msg ports.Message, queryTerms map[string]struct{}) float64 {
	score := 1.0
	if msg.Role == ports.RoleSystem {
		score += 3
	}
	lower := strings.ToLower(msg.Content)
	if isQuestion(lower) {
		score += 2
	}
	for _, keyword := range errorKeywords {
		if strings.Contains(lower, keyword) {
			score += 2
			break
		}
	}
	if len(queryTerms) > 0 {
		overlap := 0
		for term := range terms(lower) {
			if _, ok := queryTerms[term]; ok {
				overlap++
			}
		}
		score += 3 * float64(overlap) / float64(len(queryTerms))
	}
	return score
}

func isQuestion(lower string) bool {
	if strings.ContainsAny(lower, "?？") {
		return true
	}
	trimmed := strings.TrimSpace(lower)
	for _, word := range questionWords {
		if strings.HasPrefix(trimmed, word) {
			return true
		}
	}
	return false
}

// terms splits text into lower-case words; each CJK rune counts as a term.
func terms(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var word []rune
	flush := func() {
		if len(word) > 1 {
			out[string(word)] = struct{}{}
		}
		word = word[:0]
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			flush()
			out[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return out
}

// dedup drops messages from msgs that duplicate a later message in msgs or
// any message in pinned. The latest occurrence wins.
func (m *Manager) dedup(msgs, pinned []ports.Message) []ports.Message {
	if len(msgs) == 0 {
		return msgs
	}
	dmp := diffmatchpatch.New()
	later := make([]ports.Message, 0, len(msgs)+len(pinned))
	later = append(later, pinned...)

	kept := make([]ports.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		duplicate := false
		for _, other := range later {
			if other.Role == msg.Role && m.nearDuplicate(dmp, msg.Content, other.Content) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, msg)
		later = append(later, msg)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func (m *Manager) nearDuplicate(dmp *diffmatchpatch.DiffMatchPatch, a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return true
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	shortest := len(na) + len(nb) - longest
	if longest == 0 || longest > maxSimilarityBytes {
		return false
	}
	// The edit distance is at least the length difference.
	if 1-float64(longest-shortest)/float64(longest) < m.similarityThreshold {
		return false
	}
	return Similarity(dmp, na, nb) >= m.similarityThreshold
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)).
func Similarity(dmp *diffmatchpatch.DiffMatchPatch, a, b string) float64 {
	if dmp == nil {
		dmp = diffmatchpatch.New()
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	distance := dmp.DiffLevenshtein(dmp.DiffMain(a, b, false))
	ratio := 1 - float64(distance)/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
