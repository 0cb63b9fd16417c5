// Package node assembles a full lottery chain node from a configuration,
// a key-value store and the validator key: state, chain, mempool, VM,
// indexer, metrics, consensus and the RPC server.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/consensus"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/lottochain/vm/modules/draw"
	_ "github.com/tolelom/lottochain/vm/modules/economy"
)

// Node is a running single-validator chain.
type Node struct {
	Config  *config.Config
	Chain   *core.Blockchain
	State   *storage.StateDB
	Blocks  *storage.BlockStore
	Mempool *core.Mempool
	Emitter *events.Emitter
	Indexer *indexer.Indexer
	Metrics *metrics.Metrics
	PoA     *consensus.PoA
	RPC     *rpc.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a node over db. A fresh store gets a genesis block built from
// cfg; an existing one resumes from its stored tip.
func New(cfg *config.Config, db storage.DB, privKey crypto.PrivateKey) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	state := storage.NewStateDB(db)
	blocks := storage.NewBlockStore(db)

	bc := core.NewBlockchain(cfg.Genesis.ChainID, blocks)
	if err := bc.Init(); err != nil {
		return nil, fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return nil, fmt.Errorf("add genesis: %w", err)
		}
		logger.Infof("[node] genesis block committed: %s", genesis.Hash)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	m := metrics.New()
	m.Attach(emitter)
	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, emitter)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, blocks, m, privKey)
	if err := poa.CheckTip(); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}

	handler := rpc.NewHandler(rpc.Deps{
		Chain:    bc,
		Mempool:  mempool,
		DB:       db,
		Indexer:  idx,
		Receipts: blocks,
		Metrics:  m,
	})
	server := rpc.NewServer(cfg.RPC, handler, emitter)

	return &Node{
		Config:  cfg,
		Chain:   bc,
		State:   state,
		Blocks:  blocks,
		Mempool: mempool,
		Emitter: emitter,
		Indexer: idx,
		Metrics: m,
		PoA:     poa,
		RPC:     server,
	}, nil
}

// Start begins serving RPC and producing blocks.
func (n *Node) Start() error {
	if err := n.RPC.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	logger.Infof("[node] RPC listening on %s", n.RPC.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	interval := time.Duration(n.Config.BlockIntervalMs) * time.Millisecond
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.PoA.Run(ctx, interval)
	}()
	if n.Config.MetricsLogSecs > 0 {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.Metrics.LogEvery(ctx, time.Duration(n.Config.MetricsLogSecs)*time.Second)
		}()
	}
	logger.Infof("[node] consensus running (chain %s, interval %s)", n.Chain.ChainID(), interval)
	return nil
}

// Stop halts block production first, then the RPC server.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	return n.RPC.Stop()
}
