package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_InitAndGet(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Init(bufferConfig(LevelInfo, FormatText, buf)))
	defer Shutdown()

	Get().Info("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestLogger_DoubleInit(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Init(bufferConfig(LevelInfo, FormatText, buf)))
	defer Shutdown()

	assert.Error(t, Init(bufferConfig(LevelInfo, FormatText, buf)))
}

func TestLogger_NullLogger(t *testing.T) {
	Shutdown()

	l := Get()
	_, ok := l.(*NullLogger)
	assert.True(t, ok)
	l.With("rank", 0).Info("should not crash")
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Init(bufferConfig(LevelInfo, FormatText, buf)))
	defer Shutdown()

	With("component", "walk").Info("message")
	assert.Contains(t, buf.String(), "component=walk")
	assert.NoError(t, Sync())
}

func TestLogger_Shutdown(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Init(bufferConfig(LevelInfo, FormatText, buf)))

	assert.NoError(t, Shutdown())
	assert.NoError(t, Shutdown())
}
