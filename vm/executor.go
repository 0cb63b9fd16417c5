package vm

import (
	"fmt"
	"math"

	"github.com/google/logger"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block and the triggering transaction. Events raised through
// Emit are delivered only if the transaction commits.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	events *events.Buffer
}

// Now returns the block timestamp, the only clock handlers may observe.
func (c *Context) Now() int64 { return c.Block.Header.Timestamp }

// Emit queues an event tagged with the current transaction and block.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Add(events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter}
}

// Apply executes txs against block in order. Transactions that fail are
// rolled back and left out of the returned slice; every attempt gets a
// receipt.
func (e *Executor) Apply(block *core.Block, txs []*core.Transaction) ([]*core.Transaction, []*core.Receipt) {
	included := make([]*core.Transaction, 0, len(txs))
	receipts := make([]*core.Receipt, 0, len(txs))
	for _, tx := range txs {
		r := &core.Receipt{
			TxID:        tx.ID,
			Type:        tx.Type,
			From:        tx.From,
			BlockHeight: block.Header.Height,
			Success:     true,
		}
		if err := e.ExecuteTx(block, tx); err != nil {
			r.Success = false
			r.Error = err.Error()
		} else {
			included = append(included, tx)
		}
		receipts = append(receipts, r)
	}
	return included, receipts
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if err := e.executeTx(block, tx); err != nil {
		logger.Warningf("[vm] tx %s (%s) rejected: %v", tx.ID, tx.Type, err)
		if e.emitter != nil {
			e.emitter.Emit(events.Event{
				Type:        events.EventTxFailed,
				TxID:        tx.ID,
				BlockHeight: block.Header.Height,
				Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": err.Error()},
			})
		}
		return err
	}
	return nil
}

func (e *Executor) executeTx(block *core.Block, tx *core.Transaction) error {
	if tx.ChainID != block.Header.ChainID {
		return fmt.Errorf("chain ID mismatch: tx %q block %q", tx.ChainID, block.Header.ChainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	var buf events.Buffer
	if err := e.applyTx(block, tx, &buf); err != nil {
		buf.Discard()
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	buf.Flush(e.emitter)
	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// applyTx increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction, buf *events.Buffer) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	ctx := &Context{
		State:  e.state,
		Block:  block,
		Tx:     tx,
		events: buf,
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
