package lottery

import (
	"errors"
	"fmt"
)

// Ticket is one purchase. Numbers are assigned densely from 0 within a round.
type Ticket struct {
	LotteryID   string `json:"lottery_id"`
	RoundID     uint64 `json:"round_id"`
	Number      uint32 `json:"number"`
	Buyer       string `json:"buyer"` // pubkey hex
	PurchasedAt int64  `json:"purchased_at"`
}

// registry is the sole writer of ticket identity. Tickets are stored one
// record per (lottery, round, number), so lookups are direct and no single
// record grows with sales.
type registry struct {
	store Store
}

// register assigns the next ticket number of r to buyer. It returns the
// updated round and the new ticket without writing either.
func (reg registry) register(l *Lottery, r *Round, buyer string, now int64) (*Round, *Ticket, error) {
	next, number, err := r.sell(l)
	if err != nil {
		return nil, nil, err
	}
	// The dense range invariant means number has never been issued.
	if _, err := reg.store.GetTicket(l.ID, r.ID, number); err == nil {
		return nil, nil, fmt.Errorf("%w: ticket %d of round %d already issued", ErrInvalidLotteryState, number, r.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("check ticket %d: %w", number, err)
	}
	t := &Ticket{
		LotteryID:   l.ID,
		RoundID:     r.ID,
		Number:      number,
		Buyer:       buyer,
		PurchasedAt: now,
	}
	return next, t, nil
}

// lookup returns the ticket holding number in round r.
func (reg registry) lookup(r *Round, number uint32) (*Ticket, error) {
	if number >= r.TicketsSold {
		return nil, fmt.Errorf("%w: ticket %d outside [0, %d)", ErrInvalidWinnerTicket, number, r.TicketsSold)
	}
	t, err := reg.store.GetTicket(r.LotteryID, r.ID, number)
	if err != nil {
		return nil, fmt.Errorf("ticket %d of round %d: %w", number, r.ID, err)
	}
	return t, nil
}
