package lottery

import "errors"

// ErrNotFound is returned by Store getters for entities that do not exist.
var ErrNotFound = errors.New("not found")

// Store persists lottery entities. Getters return an error wrapping
// ErrNotFound for missing entities. The engine writes only after every
// precondition of an operation has passed.
type Store interface {
	GetParams() (*Params, error)

	GetLottery(id string) (*Lottery, error)
	SetLottery(l *Lottery) error

	GetRound(lotteryID string, id uint64) (*Round, error)
	SetRound(r *Round) error

	GetTicket(lotteryID string, roundID uint64, number uint32) (*Ticket, error)
	SetTicket(t *Ticket) error

	GetVault(lotteryID string) (*Vault, error)
	SetVault(v *Vault) error
}

// Bank is the funds-transfer primitive of the host. Transfer fails with an
// error wrapping ErrInsufficientFunds when from cannot cover amount.
type Bank interface {
	Balance(address string) (uint64, error)
	Transfer(from, to string, amount uint64) error
}
