package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spimexlab/spimex-api/internal/platform/logger"
)

func TestSetup(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "WARN"} {
		l, err := logger.Setup(level)
		require.NoError(t, err, "level %q", level)
		assert.NotNil(t, l)
	}

	// An unknown level falls back to info rather than failing startup.
	l, err := logger.Setup("loud")
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestFromContext(t *testing.T) {
	t.Run("returns default when context carries no logger", func(t *testing.T) {
		assert.Equal(t, slog.Default(), logger.FromContext(context.Background()))
	})

	t.Run("round-trips through WithContext", func(t *testing.T) {
		l := slog.Default().With("component", "test")
		ctx := logger.WithContext(context.Background(), l)
		assert.Same(t, l, logger.FromContext(ctx))
	})
}
