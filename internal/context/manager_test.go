package context

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/logging"
)

func newTestManager(opts ...Option) *Manager {
	return NewManager(append([]Option{WithLogger(logging.Nop())}, opts...)...)
}

func msg(role, content string) ports.Message {
	return ports.Message{Role: role, Content: content}
}

func TestAllocateHonoursWindow(t *testing.T) {
	m := newTestManager()
	history := []ports.Message{
		msg(ports.RoleUser, strings.Repeat("a", 400)),
		msg(ports.RoleAssistant, strings.Repeat("b", 400)),
	}
	examples := []string{strings.Repeat("e", 4000)}

	alloc := m.Allocate(1000, strings.Repeat("s", 400), examples, history, 200)

	require.Equal(t, 200, alloc.ReservedResponse)
	require.Equal(t, 100, alloc.SystemPrompt)
	// 30% of the 700 tokens left after prompt and reserve.
	require.Equal(t, 210, alloc.Examples)
	require.Equal(t, m.EstimateMessages(history), alloc.Conversation)
	require.Equal(t, alloc.SystemPrompt+alloc.Examples+alloc.Conversation+alloc.ReservedResponse, alloc.Total)
	require.LessOrEqual(t, alloc.Total, 1000)
}

func TestAllocateClampsOversizedInputs(t *testing.T) {
	m := newTestManager()
	history := []ports.Message{msg(ports.RoleUser, strings.Repeat("x", 40000))}

	alloc := m.Allocate(500, strings.Repeat("s", 4000), nil, history, 800)
	require.Equal(t, 500, alloc.ReservedResponse)
	require.Zero(t, alloc.SystemPrompt)
	require.Zero(t, alloc.Conversation)
	require.Equal(t, 500, alloc.Total)

	alloc = m.Allocate(2000, strings.Repeat("s", 10000), nil, history, 100)
	require.Equal(t, 1900, alloc.SystemPrompt)
	require.Equal(t, 2000, alloc.Total)

	require.Equal(t, TokenAllocation{}, m.Allocate(0, "x", nil, history, 10))
}

func randomHistory(r *rand.Rand, n int) []ports.Message {
	roles := []string{ports.RoleUser, ports.RoleAssistant, ports.RoleSystem}
	words := []string{"budget", "deadline", "error", "login", "why", "students", "mobile", "payments", "需求", "用户"}
	out := make([]ports.Message, n)
	for i := range out {
		var b strings.Builder
		for w := 0; w < 5+r.Intn(60); w++ {
			b.WriteString(words[r.Intn(len(words))])
			b.WriteByte(' ')
		}
		if r.Intn(4) == 0 {
			b.WriteString("?")
		}
		out[i] = msg(roles[r.Intn(len(roles))], fmt.Sprintf("%d %s", i, b.String()))
	}
	return out
}

func TestCompressRespectsBoundAndPins(t *testing.T) {
	m := newTestManager(WithPinRecent(3))
	r := rand.New(rand.NewSource(7))
	strategies := []Strategy{StrategySummarization, StrategyImportance, StrategyDedup, StrategyHybrid}

	for trial := 0; trial < 200; trial++ {
		history := randomHistory(r, 1+r.Intn(30))
		target := 10 + r.Intn(m.EstimateMessages(history)+20)
		strategy := strategies[trial%len(strategies)]

		out := m.Compress(history, target, CompressOptions{Strategy: strategy, Query: "budget deadline"})

		require.LessOrEqual(t, m.EstimateMessages(out), target, "strategy=%s", strategy)

		pinCount := 3
		if pinCount > len(history) {
			pinCount = len(history)
		}
		pinned := history[len(history)-pinCount:]
		if m.EstimateMessages(pinned) <= target {
			require.GreaterOrEqual(t, len(out), len(pinned))
			require.Equal(t, pinned, out[len(out)-len(pinned):], "strategy=%s", strategy)
		}
	}
}

func TestCompressPreservesChronologicalOrder(t *testing.T) {
	m := newTestManager(WithPinRecent(1))
	history := randomHistory(rand.New(rand.NewSource(3)), 25)
	out := m.Compress(history, m.EstimateMessages(history)/2, CompressOptions{Strategy: StrategyImportance, Query: "error"})

	position := map[string]int{}
	for i, h := range history {
		position[h.Content] = i
	}
	last := -1
	for _, kept := range out {
		idx, ok := position[kept.Content]
		require.True(t, ok)
		require.Greater(t, idx, last)
		last = idx
	}
}

func TestCompressUnderBudgetReturnsCopy(t *testing.T) {
	m := newTestManager()
	history := []ports.Message{msg(ports.RoleUser, "hello")}
	out := m.Compress(history, 1000, CompressOptions{})
	require.Equal(t, history, out)
	out[0].Content = "changed"
	require.Equal(t, "hello", history[0].Content)
}

func TestImportancePrefersSystemQuestionsAndErrors(t *testing.T) {
	m := newTestManager()
	filler := strings.Repeat("lorem ipsum dolor ", 10)
	history := []ports.Message{
		msg(ports.RoleUser, filler),
		msg(ports.RoleSystem, "You are collecting requirements "+filler),
		msg(ports.RoleAssistant, filler),
		msg(ports.RoleUser, "The deploy failed with an exception "+filler),
		msg(ports.RoleUser, filler),
		msg(ports.RoleUser, "latest"),
	}
	target := m.EstimateMessage(history[1]) + m.EstimateMessage(history[3]) + m.EstimateMessage(history[5])

	out := m.Compress(history, target, CompressOptions{Strategy: StrategyImportance, PinRecent: 1})

	require.Len(t, out, 3)
	require.Equal(t, history[1], out[0])
	require.Equal(t, history[3], out[1])
	require.Equal(t, "latest", out[2].Content)
}

func TestDedupDropsExactAndNearDuplicates(t *testing.T) {
	m := newTestManager(WithPinRecent(1))
	history := []ports.Message{
		msg(ports.RoleUser, "We need a mobile app for students to track homework"),
		msg(ports.RoleUser, "we need a   MOBILE app for students to track homework"),
		msg(ports.RoleUser, "We need a mobile app for students to track homework!"),
		msg(ports.RoleAssistant, "Understood, who are the users?"),
		msg(ports.RoleUser, "Teachers too"),
	}
	target := m.EstimateMessages(history) - 1

	out := m.Compress(history, target, CompressOptions{Strategy: StrategyDedup})

	require.Len(t, out, 3)
	require.Equal(t, history[2], out[0])
	require.Equal(t, history[3], out[1])
	require.Equal(t, history[4], out[2])
}

func TestSummarizationCollapsesOlderTurns(t *testing.T) {
	m := newTestManager(WithPinRecent(2))
	history := []ports.Message{
		msg(ports.RoleSystem, "rules"),
		msg(ports.RoleUser, "I want a todo app "+strings.Repeat("details ", 40)),
		msg(ports.RoleAssistant, "What platform? "+strings.Repeat("context ", 40)),
		msg(ports.RoleUser, "Web "+strings.Repeat("more ", 40)),
		msg(ports.RoleAssistant, "Any deadline?"),
		msg(ports.RoleUser, "Next month"),
	}

	out := m.Compress(history, 120, CompressOptions{Strategy: StrategySummarization})

	require.LessOrEqual(t, m.EstimateMessages(out), 120)
	require.Equal(t, "rules", out[0].Content)
	require.Equal(t, ports.RoleSystem, out[1].Role)
	require.True(t, strings.HasPrefix(out[1].Content, "[Earlier context compressed]"))
	require.Equal(t, history[4:], out[len(out)-2:])
}

func TestPinsReleasedWhenTargetTooSmall(t *testing.T) {
	m := newTestManager(WithPinRecent(3))
	history := []ports.Message{
		msg(ports.RoleUser, strings.Repeat("a", 400)),
		msg(ports.RoleUser, strings.Repeat("b", 400)),
		msg(ports.RoleUser, "tiny"),
	}
	out := m.Compress(history, m.EstimateMessage(history[2])+10, CompressOptions{Strategy: StrategyHybrid})
	require.Equal(t, []ports.Message{history[2]}, out)
	require.Empty(t, m.Compress(history, 0, CompressOptions{}))
}

func TestTrimToFitPrefersSentenceBoundary(t *testing.T) {
	m := newTestManager()
	text := "First sentence is here. Second sentence follows. Third one is much longer and will not fit at all."

	out := m.TrimToFit(text, 12)
	require.LessOrEqual(t, m.Estimate(out), 12)
	require.Equal(t, "First sentence is here. Second sentence follows.", out)

	cjk := "第一句话比较长一些。第二句话很长很长很长很长很长很长。"
	out = m.TrimToFit(cjk, 8)
	require.LessOrEqual(t, m.Estimate(out), 8)
	require.Equal(t, "第一句话比较长一些。", out)

	require.Equal(t, text, m.TrimToFit(text, 1000))
	require.Equal(t, "", m.TrimToFit(text, 0))
}

func TestDigestGroupsByRole(t *testing.T) {
	m := newTestManager()
	digest := m.Digest([]ports.Message{
		msg(ports.RoleUser, "first ask"),
		msg(ports.RoleAssistant, "first reply"),
		msg(ports.RoleUser, "second ask"),
	})
	require.Equal(t, "[Earlier context compressed] 2 user message(s), 1 assistant message(s). User said: first ask | second ask; Assistant replied: first reply.", digest)
	require.Equal(t, "", m.Digest(nil))
}

func TestSimilarity(t *testing.T) {
	require.Equal(t, 1.0, Similarity(nil, "", ""))
	require.InDelta(t, 0.9, Similarity(nil, "abcdefghij", "abcdefghiX"), 1e-9)
	require.Less(t, Similarity(nil, "hello", "world"), 0.5)
}
