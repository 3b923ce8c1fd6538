package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID generates a new session identifier with a stable prefix for display.
func NewSessionID() string {
	return newIdentifier("session")
}

// NewTaskID generates an identifier for one queued invoker attempt.
func NewTaskID() string {
	return newIdentifier("task")
}

// NewRequestIDWithLogID generates an LLM request id, embedding logID when present
// so provider-side logs can be correlated with a turn.
func NewRequestIDWithLogID(logID string) string {
	requestID := newIdentifier("llm")
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return requestID
	}
	return fmt.Sprintf("%s:%s", logID, requestID)
}

func newIdentifier(prefix string) string {
	body, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, body.String())
}
