package lottery

import (
	"errors"
	"fmt"
	"math"
)

// Engine applies lottery operations to a Store, moving funds through a Bank.
// It holds no state of its own and takes no locks: the host must apply
// operations one at a time.
type Engine struct {
	store Store
	bank  Bank
	reg   registry
}

// NewEngine creates an Engine over store and bank.
func NewEngine(store Store, bank Bank) *Engine {
	return &Engine{store: store, bank: bank, reg: registry{store: store}}
}

// PayoutReceipt describes a completed disbursement.
type PayoutReceipt struct {
	Round    *Round `json:"round"`
	Shares   Shares `json:"shares"`
	Winner   string `json:"winner"`
	Creator  string `json:"creator"`
	Platform string `json:"platform"`
}

// InitializeLottery creates lottery p.ID owned by caller, with an empty
// vault and the chain's split parameters.
func (e *Engine) InitializeLottery(caller string, p InitParams, now int64) (*Lottery, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if _, err := e.store.GetLottery(p.ID); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrLotteryExists, p.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check lottery %q: %w", p.ID, err)
	}
	params, err := e.store.GetParams()
	if err != nil {
		return nil, fmt.Errorf("load lottery params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	l := &Lottery{
		ID:          p.ID,
		Authority:   caller,
		Platform:    params.Platform,
		Policy:      params.Policy,
		TicketPrice: p.TicketPrice,
		MaxTickets:  p.MaxTickets,
		Active:      true,
		CreatedAt:   now,
	}
	if err := authorize(l, caller, AuthoritySigner); err != nil {
		return nil, err
	}
	if err := e.store.SetLottery(l); err != nil {
		return nil, err
	}
	if err := e.store.SetVault(NewVault(l.ID, caller)); err != nil {
		return nil, err
	}
	return l, nil
}

// SetActive toggles whether the lottery accepts new rounds and ticket sales.
func (e *Engine) SetActive(caller, lotteryID string, active bool) (*Lottery, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	if err := authorize(l, caller, AuthoritySigner); err != nil {
		return nil, err
	}
	next := *l
	next.Active = active
	if err := e.store.SetLottery(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// StartRound opens round number CurrentRound. It fails while the previous
// round is still open.
func (e *Engine) StartRound(caller, lotteryID string, now int64) (*Round, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	if err := authorize(l, caller, AuthoritySigner); err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, fmt.Errorf("%w: %q", ErrLotteryNotActive, l.ID)
	}
	existing, err := e.store.GetRound(l.ID, l.CurrentRound)
	if err == nil {
		return nil, fmt.Errorf("%w: round %d already %s", ErrInvalidLotteryState, existing.ID, existing.Status)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check round %d: %w", l.CurrentRound, err)
	}

	r := newRound(l, l.CurrentRound, now)
	if err := e.store.SetRound(r); err != nil {
		return nil, err
	}
	return r, nil
}

// BuyTicket sells the next ticket of the current round to buyer. payment,
// when non-zero, must equal the ticket price; the price itself is always
// moved from buyer to the vault escrow.
func (e *Engine) BuyTicket(buyer, lotteryID string, payment uint64, now int64) (*Ticket, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	if err := authorize(l, buyer, AnySigner); err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, fmt.Errorf("%w: %q", ErrLotteryNotActive, l.ID)
	}
	if payment != 0 && payment != l.TicketPrice {
		return nil, fmt.Errorf("%w: paid %d, price %d", ErrIncorrectPayment, payment, l.TicketPrice)
	}
	r, err := e.store.GetRound(l.ID, l.CurrentRound)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: no round started for %q", ErrRoundNotActive, l.ID)
	}
	if err != nil {
		return nil, err
	}

	nextRound, ticket, err := e.reg.register(l, r, buyer, now)
	if err != nil {
		return nil, err
	}
	vault, err := e.loadVault(l.ID)
	if err != nil {
		return nil, err
	}
	nextVault := vault.clone()
	nextVault.Deposit(l.TicketPrice)
	nextLottery := *l
	if l.TicketPrice > math.MaxUint64-nextLottery.TotalPrizePool {
		nextLottery.TotalPrizePool = math.MaxUint64
	} else {
		nextLottery.TotalPrizePool += l.TicketPrice
	}
	bal, err := e.bank.Balance(buyer)
	if err != nil {
		return nil, err
	}
	if bal < l.TicketPrice {
		return nil, fmt.Errorf("%w: buyer has %d, ticket costs %d", ErrInsufficientFunds, bal, l.TicketPrice)
	}

	if err := e.bank.Transfer(buyer, vault.Address, l.TicketPrice); err != nil {
		return nil, fmt.Errorf("ticket payment: %w", err)
	}
	if err := e.store.SetTicket(ticket); err != nil {
		return nil, err
	}
	if err := e.store.SetRound(nextRound); err != nil {
		return nil, err
	}
	if err := e.store.SetVault(nextVault); err != nil {
		return nil, err
	}
	if err := e.store.SetLottery(&nextLottery); err != nil {
		return nil, err
	}
	return ticket, nil
}

// CloseRound stops ticket sales on the current round. A round with sales
// moves to Drawing; an empty round is closed and the next may start.
func (e *Engine) CloseRound(caller, lotteryID string, now int64) (*Round, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	if err := authorize(l, caller, AuthoritySigner); err != nil {
		return nil, err
	}
	r, err := e.store.GetRound(l.ID, l.CurrentRound)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: no open round for %q", ErrInvalidLotteryState, l.ID)
	}
	if err != nil {
		return nil, err
	}

	next, err := r.close(now)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetRound(next); err != nil {
		return nil, err
	}
	if next.Status == StatusClosed {
		if err := e.advance(l); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// FulfillRandomness stores rnd on a drawing round and fixes its winner.
// roundID nil selects the latest round.
func (e *Engine) FulfillRandomness(caller, lotteryID string, roundID *uint64, rnd Randomness, now int64) (*Round, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	if err := authorize(l, caller, AuthoritySigner); err != nil {
		return nil, err
	}
	r, err := e.resolveRound(l, roundID)
	if err != nil {
		return nil, err
	}

	next, err := r.fulfill(rnd, now)
	if err != nil {
		return nil, err
	}
	ticket, err := e.reg.lookup(next, *next.WinnerTicket)
	if err != nil {
		return nil, err
	}
	winner := ticket.Buyer
	next.Winner = &winner
	if err := e.store.SetRound(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Payout disburses the prize of a finished round in the order winner,
// creator, platform and closes it. Either all three shares move or none.
// roundID nil selects the latest round; claimed, when set, must match the
// stored winning ticket.
func (e *Engine) Payout(caller, lotteryID string, roundID *uint64, claimed *uint32) (*PayoutReceipt, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	if err := authorize(l, caller, AuthoritySigner); err != nil {
		return nil, err
	}
	r, err := e.resolveRound(l, roundID)
	if err != nil {
		return nil, err
	}
	if err := r.checkPayable(claimed); err != nil {
		return nil, err
	}
	shares, err := l.Policy.Split(r.PrizeAmount)
	if err != nil {
		return nil, err
	}

	vault, err := e.loadVault(l.ID)
	if err != nil {
		return nil, err
	}
	nextVault := vault.clone()
	for _, amount := range []uint64{shares.Winner, shares.Creator, shares.Platform} {
		if err := nextVault.Withdraw(amount); err != nil {
			return nil, err
		}
	}
	escrow, err := e.bank.Balance(vault.Address)
	if err != nil {
		return nil, err
	}
	if escrow < r.PrizeAmount {
		return nil, fmt.Errorf("%w: escrow holds %d, prize is %d", ErrInsufficientFunds, escrow, r.PrizeAmount)
	}

	receipt := &PayoutReceipt{
		Shares:   shares,
		Winner:   *r.Winner,
		Creator:  l.Authority,
		Platform: l.Platform,
	}
	transfers := []struct {
		to     string
		amount uint64
	}{
		{receipt.Winner, shares.Winner},
		{receipt.Creator, shares.Creator},
		{receipt.Platform, shares.Platform},
	}
	for _, t := range transfers {
		if t.amount == 0 {
			continue
		}
		if err := e.bank.Transfer(vault.Address, t.to, t.amount); err != nil {
			return nil, fmt.Errorf("payout to %s: %w", t.to, err)
		}
	}

	settled := r.settle(shares)
	if err := e.store.SetRound(settled); err != nil {
		return nil, err
	}
	if err := e.store.SetVault(nextVault); err != nil {
		return nil, err
	}
	if err := e.advance(l); err != nil {
		return nil, err
	}
	receipt.Round = settled
	return receipt, nil
}

// ---- reads ----

// Lottery returns the lottery with the given id.
func (e *Engine) Lottery(id string) (*Lottery, error) {
	return e.loadLottery(id)
}

// Round returns a round of the lottery; roundID nil selects the latest.
func (e *Engine) Round(lotteryID string, roundID *uint64) (*Round, error) {
	l, err := e.loadLottery(lotteryID)
	if err != nil {
		return nil, err
	}
	return e.resolveRound(l, roundID)
}

// Ticket returns a single ticket.
func (e *Engine) Ticket(lotteryID string, roundID uint64, number uint32) (*Ticket, error) {
	return e.store.GetTicket(lotteryID, roundID, number)
}

// Vault returns the custody ledger of the lottery.
func (e *Engine) Vault(lotteryID string) (*Vault, error) {
	return e.loadVault(lotteryID)
}

// VerifyWinner re-derives the winning ticket from the stored randomness and
// ticket count and checks it against the recorded winner.
func (e *Engine) VerifyWinner(lotteryID string, roundID uint64) (uint32, error) {
	r, err := e.store.GetRound(lotteryID, roundID)
	if err != nil {
		return 0, err
	}
	if r.Randomness == nil || r.WinnerTicket == nil {
		return 0, fmt.Errorf("%w: round %d", ErrRandomnessNotFulfilled, roundID)
	}
	n, err := ResolveWinner(*r.Randomness, r.TicketsSold)
	if err != nil {
		return 0, err
	}
	if n != *r.WinnerTicket {
		return 0, fmt.Errorf("%w: derived %d, recorded %d", ErrInvalidWinnerTicket, n, *r.WinnerTicket)
	}
	return n, nil
}

// ---- helpers ----

func (e *Engine) loadLottery(id string) (*Lottery, error) {
	l, err := e.store.GetLottery(id)
	if err != nil {
		return nil, fmt.Errorf("lottery %q: %w", id, err)
	}
	return l, nil
}

func (e *Engine) loadVault(lotteryID string) (*Vault, error) {
	v, err := e.store.GetVault(lotteryID)
	if err != nil {
		return nil, fmt.Errorf("vault of %q: %w", lotteryID, err)
	}
	return v, nil
}

// resolveRound loads round id, or when id is nil the current round if it
// exists and otherwise the most recently closed one.
func (e *Engine) resolveRound(l *Lottery, id *uint64) (*Round, error) {
	seq := l.CurrentRound
	if id != nil {
		seq = *id
	}
	r, err := e.store.GetRound(l.ID, seq)
	if errors.Is(err, ErrNotFound) && id == nil && seq > 0 {
		seq--
		r, err = e.store.GetRound(l.ID, seq)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: round %d of %q does not exist", ErrInvalidLotteryState, seq, l.ID)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// advance moves the lottery's round pointer past a closed round.
func (e *Engine) advance(l *Lottery) error {
	next := *l
	next.CurrentRound++
	return e.store.SetLottery(&next)
}
