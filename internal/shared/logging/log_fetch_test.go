package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSessionLogsFiltersBySession(t *testing.T) {
	dir := t.TempDir()
	service := strings.Join([]string{
		"2026-10-18 10:00:00 [INFO] [SERVICE] [Router] [session=abc] router.go:10 - Stage INIT -> REQUIREMENT_COLLECTION",
		"2026-10-18 10:00:01 [INFO] [SERVICE] [Router] [session=other] router.go:10 - ignored",
		"2026-10-18 10:00:02 [WARN] [SERVICE] [Invoker] [session=abc] invoker.go:42 - retrying",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specpilot-service.log"), []byte(service), 0o644))

	logs, err := FetchSessionLogs("abc", LogFetchOptions{Dir: dir})
	require.NoError(t, err)
	require.Len(t, logs.Files, 3)

	assert.Equal(t, "service", logs.Files[0].Category)
	assert.Len(t, logs.Files[0].Entries, 2)
	assert.False(t, logs.Files[0].Truncated)
	assert.Equal(t, "not_found", logs.Files[1].Error)
	assert.Equal(t, "not_found", logs.Files[2].Error)
}

func TestFetchSessionLogsTruncates(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("[INFO] [session=abc] line\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specpilot-llm.log"), []byte(b.String()), 0o644))

	logs, err := FetchSessionLogs("abc", LogFetchOptions{Dir: dir, MaxEntries: 3})
	require.NoError(t, err)
	assert.Len(t, logs.Files[1].Entries, 3)
	assert.True(t, logs.Files[1].Truncated)
}

func TestFetchSessionLogsSkipsOversizedLines(t *testing.T) {
	dir := t.TempDir()
	content := "[session=abc] " + strings.Repeat("x", 200) + "\n[session=abc] short\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specpilot-latency.log"), []byte(content), 0o644))

	logs, err := FetchSessionLogs("abc", LogFetchOptions{Dir: dir, MaxLineBytes: 64})
	require.NoError(t, err)
	assert.Equal(t, []string{"[session=abc] short"}, logs.Files[2].Entries)
}

func TestFetchSessionLogsRequiresSession(t *testing.T) {
	_, err := FetchSessionLogs("  ", LogFetchOptions{Dir: t.TempDir()})
	require.Error(t, err)

	_, err = FetchSessionLogs("abc", LogFetchOptions{Dir: "-"})
	require.Error(t, err)
}
