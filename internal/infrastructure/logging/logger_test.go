package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, logger.Logger)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	dev, err := New(DevelopmentConfig())
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewEmptyOutputPaths(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestQueryFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Component("host").Info("query", append(Query(1, 2, 3), QueryID(7))...)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "host", entry.LoggerName)
	fields := entry.ContextMap()
	assert.Equal(t, int32(1), fields["browser_id"])
	assert.Equal(t, int32(2), fields["context_id"])
	assert.Equal(t, int32(3), fields["request_id"])
	assert.Equal(t, int64(7), fields["query_id"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop().Info("dropped", Browser(1))
	})
}
