package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestComponentLoggerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	restore := RedirectForTests(LogCategoryService, &buf, DEBUG)
	defer restore()

	NewComponentLogger("router").WithSessionID("s-1").Info("advanced to %s", "RISK_ANALYSIS")

	line := buf.String()
	for _, want := range []string{"[INFO]", "[SERVICE]", "[router]", "[session=s-1]", "logger_test.go", "advanced to RISK_ANALYSIS"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	restore := RedirectForTests(LogCategoryLLM, &buf, WARN)
	defer restore()

	logger := NewCategorizedLogger(LogCategoryLLM, "openai")
	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Fatalf("expected debug/info to be filtered, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{" WARN ", WARN, true},
		{"warning", WARN, true},
		{"error", ERROR, true},
		{"verbose", INFO, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v,%v want %v,%v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
