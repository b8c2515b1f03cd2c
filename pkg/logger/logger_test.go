package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_LevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	l, err := New("orders")

	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")

	_, err := New("orders")
	assert.Error(t, err)
}

func TestInit_SetsGlobal(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	Init("orders")
	assert.NotNil(t, Logger())
	assert.NotNil(t, Sugar())
}
