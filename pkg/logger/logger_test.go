package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New("not-a-level", "development")
	require.NoError(t, err)
	assert.NotNil(t, l.Zap())
}

func TestNew_ProductionAndDevelopmentBothBuild(t *testing.T) {
	prod, err := New("info", "production")
	require.NoError(t, err)
	assert.NotNil(t, prod)

	dev, err := New("debug", "development")
	require.NoError(t, err)
	assert.NotNil(t, dev)
}

func TestWith_ReturnsIndependentLoggerWithFields(t *testing.T) {
	l, err := New("info", "development")
	require.NoError(t, err)

	child := l.With(zap.String("component", "test"))
	assert.NotSame(t, l, child)
}

func TestNewNop_DoesNotPanicOnLogCalls(t *testing.T) {
	l := NewNop()
	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")
	assert.NoError(t, l.Sync())
}
