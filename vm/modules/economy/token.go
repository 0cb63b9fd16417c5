// Package economy implements native token movement: the transfer
// transaction and the Bank the lottery engine uses to move escrowed funds.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/lottery"
	"github.com/tolelom/lottochain/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

// Transfer moves amount from one account to another. It fails with an error
// wrapping lottery.ErrInsufficientFunds when from cannot cover amount, and
// leaves both accounts untouched on any error.
func Transfer(state core.State, from, to string, amount uint64) error {
	if to == "" {
		return errors.New("transfer to address required")
	}
	if amount == 0 || from == to {
		return nil
	}
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", lottery.ErrInsufficientFunds, sender.Balance, amount)
	}
	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("balance overflow for account %s", to)
	}
	sender.Balance -= amount
	recipient.Balance += amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}
	return state.SetAccount(recipient)
}

// Bank adapts chain state to lottery.Bank.
type Bank struct {
	state core.State
}

// NewBank returns a Bank that moves funds between accounts in state.
func NewBank(state core.State) *Bank {
	return &Bank{state: state}
}

// Balance returns the token balance of address.
func (b *Bank) Balance(address string) (uint64, error) {
	acc, err := b.state.GetAccount(address)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Transfer moves amount between two accounts.
func (b *Bank) Transfer(from, to string, amount uint64) error {
	return Transfer(b.state, from, to, amount)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0")
	}
	if err := Transfer(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
