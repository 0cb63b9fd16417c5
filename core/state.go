package core

import "github.com/tolelom/lottochain/lottery"

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key, or a derived escrow address
// for lottery vaults.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Lottery entities: params, lotteries, rounds, tickets and vaults.
	lottery.Store
	SetParams(p *lottery.Params) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
