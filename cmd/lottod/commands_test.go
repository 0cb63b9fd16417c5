package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/wallet"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(passwordEnv, "test-password")
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitWritesValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "node.toml")
	keyPath := filepath.Join(dir, "validator.key")

	out, err := execute(t, "init", "--config", cfgPath, "--key", keyPath, "--chain-id", "unit", "--supply", "500")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated key")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "unit", cfg.Genesis.ChainID)

	priv, err := wallet.LoadKey(keyPath, "test-password")
	require.NoError(t, err)
	pub := priv.Public().Hex()
	assert.Equal(t, []string{pub}, cfg.Validators)
	assert.Equal(t, uint64(500), cfg.Genesis.Alloc[pub])

	_, err = execute(t, "init", "--config", cfgPath, "--key", keyPath)
	assert.ErrorContains(t, err, "already exists")
}

func TestGenkeyAndDraw(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "k.key")
	out, err := execute(t, "genkey", "--key", keyPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Public key")

	_, err = execute(t, "genkey", "--key", keyPath)
	assert.Error(t, err)

	first, err := execute(t, "draw", "--key", keyPath, "--lottery", "L1", "--round", "2")
	require.NoError(t, err)
	second, err := execute(t, "draw", "--key", keyPath, "--lottery", "L1", "--round", "2")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "randomness: ")

	_, err = execute(t, "draw", "--key", keyPath)
	assert.ErrorContains(t, err, "--lottery is required")
}
