package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0 from the genesis section. It
// credits the Alloc accounts, writes the lottery parameters and commits.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	if err := cfg.Params().Validate(); err != nil {
		return nil, fmt.Errorf("genesis params: %w", err)
	}
	proposerPub := proposerPriv.Public()

	addrs := make([]string, 0, len(cfg.Genesis.Alloc))
	for addr := range cfg.Genesis.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		acc := &core.Account{
			Address: addr,
			Balance: cfg.Genesis.Alloc[addr],
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}
	if err := state.SetParams(cfg.Params()); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(cfg.Genesis.ChainID, 0, GenesisHash, proposerPub.Hex(), cfg.Genesis.Timestamp, nil)
	block.Header.StateRoot = stateRoot
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
