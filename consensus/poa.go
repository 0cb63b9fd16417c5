// Package consensus implements Proof-of-Authority block production.
// A single configured authority proposes and signs every block, and a
// block's timestamp is the clock every lottery operation in it observes.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/vm"
)

const defaultMaxBlockTxs = 500

// ReceiptStore persists the outcome of every transaction a block attempted.
type ReceiptStore interface {
	PutReceipts(receipts []*core.Receipt) error
}

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg      *config.Config
	bc       *core.Blockchain
	state    core.State
	mempool  *core.Mempool
	exec     *vm.Executor
	emitter  *events.Emitter
	receipts ReceiptStore
	metrics  *metrics.Metrics
	privKey  crypto.PrivateKey
	pubKey   crypto.PublicKey

	mu  sync.Mutex // serialises block production
	now func() time.Time
}

// New creates a PoA engine for the local validator identified by privKey.
// receipts and m may be nil.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	receipts ReceiptStore,
	m *metrics.Metrics,
	privKey crypto.PrivateKey,
) *PoA {
	return &PoA{
		cfg:      cfg,
		bc:       bc,
		state:    state,
		mempool:  mempool,
		exec:     exec,
		emitter:  emitter,
		receipts: receipts,
		metrics:  m,
		privKey:  privKey,
		pubKey:   privKey.Public(),
		now:      time.Now,
	}
}

// authority returns the pubkey hex allowed to sign blocks.
func (p *PoA) authority() (string, error) {
	if len(p.cfg.Validators) != 1 {
		return "", fmt.Errorf("want exactly one validator, have %d", len(p.cfg.Validators))
	}
	return p.cfg.Validators[0], nil
}

// IsProposer reports whether this node holds the authority key.
func (p *PoA) IsProposer() bool {
	auth, err := p.authority()
	return err == nil && auth == p.pubKey.Hex()
}

// ProduceBlock builds, executes, signs and commits the next block.
// Transactions that fail are left out of the block and removed from the
// mempool; their receipts record why.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}
	start := p.now()

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = defaultMaxBlockTxs
	}
	txs := p.mempool.Pending(limit)

	tip := p.bc.Tip()
	if tip == nil {
		return nil, errors.New("chain has no genesis block")
	}
	// Block time never moves backwards, so lottery timestamps stay ordered.
	ts := start.UnixNano()
	if ts <= tip.Header.Timestamp {
		ts = tip.Header.Timestamp + 1
	}
	block := core.NewBlock(p.bc.ChainID(), tip.Header.Height+1, tip.Hash, p.pubKey.Hex(), ts, nil)

	snapID, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	included, receipts := p.exec.Apply(block, txs)
	block.SetTransactions(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	err = p.ValidateBlock(block, tip)
	if err == nil {
		err = p.bc.AddBlock(block)
	}
	if err != nil {
		if revertErr := p.state.RevertToSnapshot(snapID); revertErr != nil {
			logger.Fatalf("[consensus] FATAL: block %d rejected and state revert failed: %v", block.Header.Height, revertErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		logger.Fatalf("[consensus] FATAL: block %d stored but state commit failed: %v",
			block.Header.Height, err)
	}
	if p.receipts != nil {
		if err := p.receipts.PutReceipts(receipts); err != nil {
			logger.Errorf("[consensus] store receipts for block %d: %v", block.Header.Height, err)
		}
	}

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "failed": len(txs) - len(included)},
	})

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	p.mempool.Remove(txIDs)

	if p.metrics != nil {
		p.metrics.ObserveBlockProduction(p.now().Sub(start))
		p.metrics.SetMempoolSize(p.mempool.Size())
	}
	if len(txs) > 0 {
		logger.Infof("[consensus] block %d committed: %d txs, %d rejected", block.Header.Height, len(included), len(txs)-len(included))
	}
	return block, nil
}

// ValidateBlock checks that block was signed by the authority and extends
// parent. A nil parent means block must be the genesis block.
func (p *PoA) ValidateBlock(block, parent *core.Block) error {
	auth, err := p.authority()
	if err != nil {
		return err
	}
	if block.Header.Proposer != auth {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, auth)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}

	if parent == nil {
		if block.Header.Height != 0 || !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must be height 0 with the genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != parent.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, parent.Hash)
	}
	if block.Header.Height != parent.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, parent.Header.Height+1)
	}
	return nil
}

// CheckTip validates the stored tip against its parent, so a node never
// resumes on a chain its configured authority did not sign.
func (p *PoA) CheckTip() error {
	tip := p.bc.Tip()
	if tip == nil {
		return errors.New("chain has no genesis block")
	}
	var parent *core.Block
	if tip.Header.Height > 0 {
		var err error
		if parent, err = p.bc.GetBlockByHeight(tip.Header.Height - 1); err != nil {
			return fmt.Errorf("load parent of tip: %w", err)
		}
	}
	if err := p.ValidateBlock(tip, parent); err != nil {
		return fmt.Errorf("tip %d: %w", tip.Header.Height, err)
	}
	return nil
}

// Run starts the block-production loop with the given interval. It blocks
// until ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.IsProposer() {
				if _, err := p.ProduceBlock(); err != nil {
					logger.Errorf("[consensus] produce block error: %v", err)
				}
			}
		}
	}
}
