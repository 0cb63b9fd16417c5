package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/lottery"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID   string              `json:"chain_id" toml:"chain_id" yaml:"chain_id"`
	Timestamp int64               `json:"timestamp" toml:"timestamp" yaml:"timestamp"` // unix nanoseconds of block 0
	Alloc     map[string]uint64   `json:"alloc" toml:"alloc" yaml:"alloc"`             // pubkey hex → initial balance
	Platform  string              `json:"platform" toml:"platform" yaml:"platform"`    // receives the platform share of every payout
	Policy    lottery.SplitPolicy `json:"policy" toml:"policy" yaml:"policy"`
}

// RPCConfig configures the HTTP JSON-RPC and websocket server.
type RPCConfig struct {
	Addr      string `json:"addr" toml:"addr" yaml:"addr"`
	AuthToken string `json:"auth_token" toml:"auth_token" yaml:"auth_token"` // empty disables bearer auth
	WebSocket bool   `json:"websocket" toml:"websocket" yaml:"websocket"`
}

// LogConfig configures the node logger. An empty File logs to stderr only.
type LogConfig struct {
	File       string `json:"file" toml:"file" yaml:"file"`
	Verbose    bool   `json:"verbose" toml:"verbose" yaml:"verbose"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" toml:"compress" yaml:"compress"`
}

// Config holds all node configuration.
type Config struct {
	NodeID          string        `json:"node_id" toml:"node_id" yaml:"node_id"`
	DataDir         string        `json:"data_dir" toml:"data_dir" yaml:"data_dir"`
	BlockIntervalMs int           `json:"block_interval_ms" toml:"block_interval_ms" yaml:"block_interval_ms"`
	MaxBlockTxs     int           `json:"max_block_txs" toml:"max_block_txs" yaml:"max_block_txs"` // max transactions per block; 0 → 500
	MetricsLogSecs  int           `json:"metrics_log_secs" toml:"metrics_log_secs" yaml:"metrics_log_secs"`
	Validators      []string      `json:"validators" toml:"validators" yaml:"validators"` // the single block authority pubkey hex
	RPC             RPCConfig     `json:"rpc" toml:"rpc" yaml:"rpc"`
	Log             LogConfig     `json:"log" toml:"log" yaml:"log"`
	Genesis         GenesisConfig `json:"genesis" toml:"genesis" yaml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:          "node0",
		DataDir:         "./data",
		BlockIntervalMs: 1000,
		MaxBlockTxs:     500,
		MetricsLogSecs:  60,
		RPC: RPCConfig{
			Addr:      "127.0.0.1:8545",
			WebSocket: true,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Genesis: GenesisConfig{
			ChainID: "lottochain-dev",
			Alloc:   map[string]uint64{},
			Policy:  lottery.DefaultPolicy(),
		},
	}
}

type format int

const (
	formatJSON format = iota
	formatTOML
	formatYAML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return formatTOML
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// Load reads a config file from path. The format follows the extension:
// .toml, .yaml/.yml, anything else is JSON. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch formatOf(path) {
	case formatTOML:
		err = toml.Unmarshal(data, cfg)
	case formatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path in the format its extension names.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case formatTOML:
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(cfg)
		data = []byte(b.String())
	case formatYAML:
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration before the node starts.
func (c *Config) Validate() error {
	var errs []error
	if c.Genesis.ChainID == "" {
		errs = append(errs, errors.New("genesis.chain_id required"))
	}
	// Every block is produced by the lone authority; there is no rotation.
	if len(c.Validators) != 1 {
		errs = append(errs, fmt.Errorf("exactly one validator required, got %d", len(c.Validators)))
	}
	for _, v := range c.Validators {
		if _, err := crypto.PubKeyFromHex(v); err != nil {
			errs = append(errs, fmt.Errorf("validator %q: %w", v, err))
		}
	}
	if c.BlockIntervalMs <= 0 {
		errs = append(errs, errors.New("block_interval_ms must be > 0"))
	}
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("genesis: %w", err))
	}
	var total uint64
	for addr, bal := range c.Genesis.Alloc {
		if total > math.MaxUint64-bal {
			errs = append(errs, fmt.Errorf("genesis alloc overflows at %s", addr))
			break
		}
		total += bal
	}
	return errors.Join(errs...)
}

// Params returns the chain-wide lottery parameters written at genesis.
func (c *Config) Params() *lottery.Params {
	return &lottery.Params{Platform: c.Genesis.Platform, Policy: c.Genesis.Policy}
}
