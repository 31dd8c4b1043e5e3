package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_BothModes(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, prod)
}

func TestComponent_NilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	logger := Component(nil, "worker")
	require.NotNil(t, logger)
	logger.Info("noop")
}
