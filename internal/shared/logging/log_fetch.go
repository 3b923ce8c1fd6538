package logging

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"specpilot/internal/shared/utils"
)

// LogFileSnippet captures matched log lines for a single file.
type LogFileSnippet struct {
	Category  string   `json:"category"`
	Path      string   `json:"path,omitempty"`
	Entries   []string `json:"entries,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// SessionLogs aggregates one session's lines across every log category.
type SessionLogs struct {
	SessionID string           `json:"session_id"`
	Files     []LogFileSnippet `json:"files"`
}

// LogFetchOptions tunes how much log data is returned.
type LogFetchOptions struct {
	// Dir overrides the configured log directory.
	Dir          string
	MaxEntries   int
	MaxBytes     int
	MaxLineBytes int
}

var sessionLogCategories = []utils.LogCategory{
	utils.LogCategoryService,
	utils.LogCategoryLLM,
	utils.LogCategoryLatency,
}

// FetchSessionLogs returns the lines tagged with sessionID in the service,
// llm and latency log files.
func FetchSessionLogs(sessionID string, opts LogFetchOptions) (SessionLogs, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionLogs{}, errors.New("session id is required")
	}
	opts = normalizeLogFetchOptions(opts)
	dir := opts.Dir
	if dir == "" {
		resolved, err := utils.LogDirectory()
		if err != nil {
			return SessionLogs{}, err
		}
		dir = resolved
	}
	if dir == "-" {
		return SessionLogs{}, errors.New("file logging is disabled")
	}

	logs := SessionLogs{SessionID: sessionID}
	marker := "[session=" + sessionID + "]"
	for _, category := range sessionLogCategories {
		snippet := readLogMatches(filepath.Join(dir, utils.LogFileName(category)), marker, opts)
		snippet.Category = string(category)
		logs.Files = append(logs.Files, snippet)
	}
	return logs, nil
}

func normalizeLogFetchOptions(opts LogFetchOptions) LogFetchOptions {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 200
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 1 << 20
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = 1 << 20
	}
	return opts
}

func readLogMatches(path, marker string, opts LogFetchOptions) LogFileSnippet {
	snippet := LogFileSnippet{Path: path}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			snippet.Error = "not_found"
		} else {
			snippet.Error = err.Error()
		}
		return snippet
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReaderSize(file, 64*1024)
	matchedBytes := 0
	for {
		line, err := readLine(reader, opts.MaxLineBytes)
		if err != nil {
			break
		}
		if line == "" || !strings.Contains(line, marker) {
			continue
		}
		snippet.Entries = append(snippet.Entries, line)
		matchedBytes += len(line)
		if len(snippet.Entries) >= opts.MaxEntries || matchedBytes >= opts.MaxBytes {
			snippet.Truncated = true
			break
		}
	}
	return snippet
}

// readLine reads one newline-terminated line. Lines longer than maxBytes are
// drained and skipped.
func readLine(reader *bufio.Reader, maxBytes int) (string, error) {
	var buf []byte
	oversize := false
	for {
		segment, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(buf) > 0 && !oversize {
				return string(buf), nil
			}
			return "", err
		}
		if oversize {
			if !isPrefix {
				oversize = false
			}
			continue
		}
		buf = append(buf, segment...)
		if len(buf) > maxBytes {
			buf = nil
			oversize = isPrefix
			continue
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}
