package main

import (
	"path/filepath"
	"testing"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeSampleConfig(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)
	assert.Len(t, cfg.Rules, 2)
	assert.Equal(t, "0-2", cfg.Rules[0].Match.Slots)
	assert.Equal(t, "http://localhost:8545", cfg.Sources[0].RPCURL)
}

func TestWriteSampleConfigRespectsForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeSampleConfig(path, false))
	assert.Error(t, writeSampleConfig(path, false))
	assert.NoError(t, writeSampleConfig(path, true))
}
