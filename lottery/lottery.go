// Package lottery implements the round state machine and escrow ledger of a
// multi-round ticket lottery: ticket sales into a per-lottery vault, a draw
// resolved from externally supplied randomness, and a fixed-policy split of
// the prize pool between winner, creator and platform.
//
// Every operation is a synchronous state transition. Preconditions are
// checked and all new entity values are computed before the first write, so
// a failing call never leaves a partially applied effect behind.
package lottery

import (
	"fmt"
	"math/bits"
)

// MaxTicketsLimit caps max_tickets so a single round's ticket range stays
// bounded at configuration time.
const MaxTicketsLimit = 1_000_000

// Lottery is the configuration entity owned by an authority.
type Lottery struct {
	ID             string      `json:"id"`
	Authority      string      `json:"authority"` // pubkey hex
	Platform       string      `json:"platform"`  // fee recipient, fixed at creation
	Policy         SplitPolicy `json:"policy"`
	TicketPrice    uint64      `json:"ticket_price"`
	MaxTickets     uint32      `json:"max_tickets"`
	CurrentRound   uint64      `json:"current_round"` // advances when a round closes
	Active         bool        `json:"active"`
	TotalPrizePool uint64      `json:"total_prize_pool"` // lifetime ticket revenue
	CreatedAt      int64       `json:"created_at"`
}

// Params are chain-wide lottery parameters, written once at genesis.
type Params struct {
	Platform string      `json:"platform"`
	Policy   SplitPolicy `json:"policy"`
}

// Validate checks that the parameters can be used to create lotteries.
func (p *Params) Validate() error {
	if p.Platform == "" {
		return fmt.Errorf("%w: platform identity required", ErrInvalidConfig)
	}
	return p.Policy.Validate()
}

// DefaultParams returns the 90/5/5 policy with the given platform identity.
func DefaultParams(platform string) *Params {
	return &Params{Platform: platform, Policy: DefaultPolicy()}
}

// InitParams are the caller-supplied arguments of InitializeLottery.
type InitParams struct {
	ID          string
	TicketPrice uint64
	MaxTickets  uint32
}

func (p InitParams) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: lottery id required", ErrInvalidConfig)
	}
	if p.TicketPrice == 0 {
		return fmt.Errorf("%w: ticket price must be > 0", ErrInvalidConfig)
	}
	if p.MaxTickets == 0 {
		return fmt.Errorf("%w: max tickets must be > 0", ErrInvalidConfig)
	}
	if p.MaxTickets > MaxTicketsLimit {
		return fmt.Errorf("%w: max tickets %d exceeds limit %d", ErrInvalidConfig, p.MaxTickets, MaxTicketsLimit)
	}
	// A full round must not overflow the prize counter.
	if hi, _ := bits.Mul64(p.TicketPrice, uint64(p.MaxTickets)); hi != 0 {
		return fmt.Errorf("%w: ticket price %d x max tickets %d overflows", ErrInvalidConfig, p.TicketPrice, p.MaxTickets)
	}
	return nil
}
