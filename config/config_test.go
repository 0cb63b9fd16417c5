package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lottery"
)

func validConfig(t *testing.T) (*Config, crypto.PrivateKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Validators = []string{pub.Hex()}
	cfg.Genesis.Platform = pub.Hex()
	cfg.Genesis.Alloc = map[string]uint64{pub.Hex(): 1_000}
	return cfg, priv
}

func TestSaveLoadAllFormats(t *testing.T) {
	cfg, _ := validConfig(t)
	cfg.Genesis.Policy = lottery.SplitPolicy{WinnerPercent: 80, CreatorPercent: 10}
	cfg.RPC.AuthToken = "s3cret"

	for _, name := range []string{"node.json", "node.toml", "node.yaml", "node.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(cfg, path))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte("node_id = \"n7\"\n[genesis]\nchain_id = \"custom\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "n7", cfg.NodeID)
	assert.Equal(t, "custom", cfg.Genesis.ChainID)
	assert.Equal(t, 500, cfg.MaxBlockTxs)
	assert.Equal(t, lottery.DefaultPolicy(), cfg.Genesis.Policy)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validators: [unterminated"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, _ := validConfig(t)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Validators = []string{"zz"}
	bad.Genesis.Platform = ""
	bad.Genesis.Policy = lottery.SplitPolicy{WinnerPercent: 95, CreatorPercent: 10}
	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, lottery.ErrInvalidConfig)
	assert.ErrorContains(t, err, "validator")
}

func TestValidateRequiresSingleValidator(t *testing.T) {
	cfg, _ := validConfig(t)
	_, other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg.Validators = append(cfg.Validators, other.Hex())
	assert.ErrorContains(t, cfg.Validate(), "exactly one validator")

	cfg.Validators = nil
	assert.ErrorContains(t, cfg.Validate(), "exactly one validator")
}

func TestValidateRejectsPlatformHeavySplit(t *testing.T) {
	cfg, _ := validConfig(t)
	cfg.Genesis.Policy = lottery.SplitPolicy{WinnerPercent: 40, CreatorPercent: 10}
	err := cfg.Validate()
	assert.ErrorIs(t, err, lottery.ErrInvalidConfig)
	assert.ErrorContains(t, err, "platform share")
}

func TestCreateGenesisBlock(t *testing.T) {
	cfg, priv := validConfig(t)
	state := testutil.NewStateDB()

	genesis, err := CreateGenesisBlock(cfg, state, priv)
	require.NoError(t, err)
	assert.Equal(t, int64(0), genesis.Header.Height)
	assert.Equal(t, cfg.Genesis.ChainID, genesis.Header.ChainID)
	assert.True(t, IsGenesisHash(genesis.Header.PrevHash))
	assert.Equal(t, state.ComputeRoot(), genesis.Header.StateRoot)
	require.NoError(t, genesis.Verify(priv.Public()))

	params, err := state.GetParams()
	require.NoError(t, err)
	assert.Equal(t, cfg.Genesis.Platform, params.Platform)
	acc, err := state.GetAccount(priv.Public().Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), acc.Balance)
}
