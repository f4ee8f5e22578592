package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("WARN", "console")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger("debug", "json")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud", "console")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid log level")
}

func TestMustNewLoggerFallsBack(t *testing.T) {
	logger := MustNewLogger("loud", "console")
	require.NotNil(t, logger)
	require.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
