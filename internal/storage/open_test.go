package storage

import (
	"context"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examshield/internal/config"
)

func TestOpen(t *testing.T) {
	cfg := config.Default().Store
	cfg.DataDir = t.TempDir()

	backend, err := Open(context.Background(), cfg, discardLogger(), quartz.NewMock(t))
	require.NoError(t, err)
	defer backend.Close()
	assert.Equal(t, "file", backend.Name())

	cfg.Driver = "redis"
	_, err = Open(context.Background(), cfg, discardLogger(), quartz.NewMock(t))
	assert.ErrorContains(t, err, "unknown store driver")
}
