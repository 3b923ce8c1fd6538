package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrNopHandlesTypedNil(t *testing.T) {
	var rec *Recorder
	require.True(t, IsNil(rec))
	require.NotPanics(t, func() { OrNop(rec).Info("ignored") })
}

func TestMultiFlattensAndFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	logger := Multi(a, Multi(b, nil))

	logger.Warn("breaker %s opened", "llm")

	require.True(t, a.Contains("WARN breaker llm opened"))
	require.True(t, b.Contains("WARN breaker llm opened"))
}

func TestMultiWithSingleLoggerReturnsIt(t *testing.T) {
	a := &Recorder{}
	require.Same(t, a, Multi(nil, a).(*Recorder))
}
