package core

import (
	"fmt"
	"sync"

	"github.com/tolelom/lottochain/lottery"
)

// ErrNotFound is returned when a requested object does not exist in storage.
// It is the same sentinel the lottery engine checks for.
var ErrNotFound = lottery.ErrNotFound

// BlockStore is the persistence interface used by Blockchain.
// Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	PutBlock(block *Block) error
	GetBlockByHeight(height int64) (*Block, error)
	PutBlockByHeight(height int64, hash string) error
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	SetTip(hash string) error
	// CommitBlock atomically writes the block, its height index entry, and
	// updates the tip pointer in a single batch operation.
	CommitBlock(block *Block) error
}

// Blockchain manages the canonical chain: stores blocks and tracks the tip.
type Blockchain struct {
	chainID string

	mu     sync.RWMutex
	store  BlockStore
	tip    *Block
	height int64
}

// NewBlockchain returns a Blockchain for chainID backed by store.
// Call Init() to load an existing chain tip from storage.
func NewBlockchain(chainID string, store BlockStore) *Blockchain {
	return &Blockchain{chainID: chainID, store: store}
}

// ChainID returns the identifier every block and transaction must carry.
func (bc *Blockchain) ChainID() string { return bc.chainID }

// Init loads the persisted tip from the block store.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil // fresh chain
	}
	tip, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	if tip.Header.ChainID != bc.chainID {
		return fmt.Errorf("stored chain %q does not match configured chain %q", tip.Header.ChainID, bc.chainID)
	}
	bc.tip = tip
	bc.height = tip.Header.Height
	return nil
}

// AddBlock validates chain ID, header hash, height continuity and PrevHash
// linkage, then persists the block and advances the tip. The first block
// accepted on a fresh chain must be the genesis block at height 0.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if block.Header.ChainID != bc.chainID {
		return fmt.Errorf("block chain ID %q does not match %q", block.Header.ChainID, bc.chainID)
	}
	if block.Hash != block.ComputeHash() {
		return fmt.Errorf("block hash mismatch at height %d", block.Header.Height)
	}
	if block.Header.TxRoot != ComputeTxRoot(block.Transactions) {
		return fmt.Errorf("tx root mismatch at height %d", block.Header.Height)
	}
	if bc.tip == nil {
		if block.Header.Height != 0 {
			return fmt.Errorf("first block must be genesis, got height %d", block.Header.Height)
		}
	} else {
		if block.Header.Height != bc.height+1 {
			return fmt.Errorf("block height %d does not follow tip %d", block.Header.Height, bc.height)
		}
		if block.Header.PrevHash != bc.tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, bc.tip.Hash)
		}
	}

	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	bc.tip = block
	bc.height = block.Header.Height
	return nil
}

// GetBlock returns a block by its hash.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlock(hash)
}

// GetBlockByHeight returns the block at the given height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlockByHeight(height)
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Recent returns up to n blocks ending at the tip, newest first.
func (bc *Blockchain) Recent(n int) ([]*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return nil, nil
	}
	var out []*Block
	for h := bc.height; h >= 0 && len(out) < n; h-- {
		b, err := bc.store.GetBlockByHeight(h)
		if err != nil {
			return nil, fmt.Errorf("block at height %d: %w", h, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Height returns the height of the current tip (0 for a fresh chain).
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}
