// Package tokenutil estimates token costs for prompt budgeting.
//
// The default estimator is a language-aware heuristic, not a tokenizer: Latin
// script costs about one token per four characters, CJK text about one token
// per 1.5 characters, and JSON or Markdown payloads pay a fixed structural
// overhead. Callers that need exact counts can switch to the tiktoken-backed
// counter, which lazily loads cl100k_base and falls back to the heuristic when
// the encoding is unavailable.
package tokenutil

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// LatinCharsPerToken is the heuristic ratio for Latin-script text.
	LatinCharsPerToken = 4.0
	// CJKCharsPerToken is the heuristic ratio for Han, Hiragana, Katakana and Hangul.
	CJKCharsPerToken = 1.5
	// JSONOverhead is added once for text that looks like a JSON document.
	JSONOverhead = 8
	// MarkdownOverhead is added once for text carrying Markdown structure.
	MarkdownOverhead = 4
	// MessageOverhead is the per-message role framing cost.
	MessageOverhead = 4
)

// Estimator returns the approximate token cost of text.
type Estimator interface {
	Estimate(text string) int
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(text string) int

func (f EstimatorFunc) Estimate(text string) int { return f(text) }

// Heuristic is the default, allocation-free estimator.
type Heuristic struct{}

// Estimate implements Estimator.
func (Heuristic) Estimate(text string) int {
	return EstimateFast(text)
}

// EstimateFast returns the heuristic token estimate for text.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	var latin, cjk int
	for _, r := range trimmed {
		if IsCJK(r) {
			cjk++
			continue
		}
		latin++
	}
	estimate := int(math.Ceil(float64(latin)/LatinCharsPerToken + float64(cjk)/CJKCharsPerToken))
	if looksLikeJSON(trimmed) {
		estimate += JSONOverhead
	} else if looksLikeMarkdown(trimmed) {
		estimate += MarkdownOverhead
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// IsCJK reports whether r belongs to a script the heuristic prices as CJK.
func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func looksLikeJSON(s string) bool {
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func looksLikeMarkdown(s string) bool {
	if strings.Contains(s, "```") {
		return true
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "#"),
			strings.HasPrefix(line, "- "),
			strings.HasPrefix(line, "* "),
			strings.HasPrefix(line, "|"),
			strings.HasPrefix(line, "> "):
			return true
		}
	}
	return false
}

// Tiktoken counts tokens with the cl100k_base encoding.
type Tiktoken struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTiktoken returns a counter that loads its encoding on first use.
func NewTiktoken() *Tiktoken {
	return &Tiktoken{}
}

func (t *Tiktoken) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			t.encoding = enc
		}
	})
	return t.encoding
}

// Available reports whether the exact encoding could be loaded.
func (t *Tiktoken) Available() bool {
	return t.load() != nil
}

// Estimate implements Estimator, falling back to EstimateFast.
func (t *Tiktoken) Estimate(text string) int {
	if enc := t.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// New returns the estimator selected by name: "tiktoken" or "heuristic" (default).
func New(kind string) Estimator {
	if strings.EqualFold(strings.TrimSpace(kind), "tiktoken") {
		return NewTiktoken()
	}
	return Heuristic{}
}

// TruncateToTokens cuts text so est prices it at no more than maxTokens.
// The cut is a plain rune cut; sentence-aware trimming lives in the context manager.
func TruncateToTokens(est Estimator, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if est == nil {
		est = Heuristic{}
	}
	if est.Estimate(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if est.Estimate(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
