package lottery

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle stage of a round. Transitions are linear:
// Active -> Drawing -> Finished -> Closed, or Active -> Closed when the
// round ends without sales. Pending only names the state before a round
// exists; rounds are created directly in Active.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusDrawing
	StatusFinished
	StatusClosed
)

var statusNames = map[Status]string{
	StatusPending:  "pending",
	StatusActive:   "active",
	StatusDrawing:  "drawing",
	StatusFinished: "finished",
	StatusClosed:   "closed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown round status %q", name)
}

// Round is one lottery cycle. Optional fields are nil until set: a nil
// WinnerTicket means no winner yet, never ticket 0.
type Round struct {
	LotteryID           string      `json:"lottery_id"`
	ID                  uint64      `json:"id"`
	Status              Status      `json:"status"`
	StartTime           int64       `json:"start_time"`
	EndTime             *int64      `json:"end_time,omitempty"`
	TicketsSold         uint32      `json:"tickets_sold"`
	PrizeAmount         uint64      `json:"prize_amount"`
	WinnerTicket        *uint32     `json:"winner_ticket,omitempty"`
	Winner              *string     `json:"winner,omitempty"`
	Randomness          *Randomness `json:"randomness,omitempty"`
	RandomnessRequested bool        `json:"randomness_requested"`
	Payout              *Shares     `json:"payout,omitempty"` // set once funds are disbursed
}

// IsOpen reports whether the round still blocks a new round from starting.
func (r *Round) IsOpen() bool {
	return r.Status != StatusClosed
}

func (r *Round) clone() *Round {
	cp := *r
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	if r.WinnerTicket != nil {
		n := *r.WinnerTicket
		cp.WinnerTicket = &n
	}
	if r.Winner != nil {
		w := *r.Winner
		cp.Winner = &w
	}
	if r.Randomness != nil {
		rnd := *r.Randomness
		cp.Randomness = &rnd
	}
	if r.Payout != nil {
		s := *r.Payout
		cp.Payout = &s
	}
	return &cp
}

// newRound creates round seq of l in Active.
func newRound(l *Lottery, seq uint64, now int64) *Round {
	return &Round{
		LotteryID: l.ID,
		ID:        seq,
		Status:    StatusActive,
		StartTime: now,
	}
}

// sell validates a purchase against the round and returns the updated round
// together with the ticket number the buyer receives.
func (r *Round) sell(l *Lottery) (*Round, uint32, error) {
	switch r.Status {
	case StatusActive:
	case StatusPending, StatusDrawing, StatusFinished, StatusClosed:
		return nil, 0, fmt.Errorf("%w: round %d is %s", ErrRoundNotActive, r.ID, r.Status)
	default:
		return nil, 0, fmt.Errorf("%w: round %d has %s", ErrInvalidLotteryState, r.ID, r.Status)
	}
	if r.TicketsSold >= l.MaxTickets {
		return nil, 0, fmt.Errorf("%w: %d of %d tickets sold", ErrLotteryFull, r.TicketsSold, l.MaxTickets)
	}
	next := r.clone()
	number := next.TicketsSold
	next.TicketsSold++
	next.PrizeAmount += l.TicketPrice // bounded by InitParams.validate
	return next, number, nil
}

// close ends ticket sales. A round with sales moves to Drawing and requests
// randomness; an empty round is closed outright with no prize.
func (r *Round) close(now int64) (*Round, error) {
	switch r.Status {
	case StatusActive:
	case StatusPending, StatusDrawing, StatusFinished, StatusClosed:
		return nil, fmt.Errorf("%w: cannot close round %d in %s", ErrInvalidLotteryState, r.ID, r.Status)
	default:
		return nil, fmt.Errorf("%w: round %d has %s", ErrInvalidLotteryState, r.ID, r.Status)
	}
	next := r.clone()
	if next.TicketsSold == 0 {
		next.Status = StatusClosed
		next.EndTime = &now
		return next, nil
	}
	next.Status = StatusDrawing
	next.RandomnessRequested = true
	return next, nil
}

// fulfill stores randomness and derives the winning ticket number. The
// winner identity is attached by the caller once the ticket is looked up.
func (r *Round) fulfill(rnd Randomness, now int64) (*Round, error) {
	if r.Randomness != nil {
		return nil, fmt.Errorf("%w: round %d", ErrRandomnessAlreadyFulfilled, r.ID)
	}
	switch r.Status {
	case StatusDrawing:
	case StatusPending, StatusActive, StatusFinished, StatusClosed:
		return nil, fmt.Errorf("%w: round %d is %s, not drawing", ErrInvalidLotteryState, r.ID, r.Status)
	default:
		return nil, fmt.Errorf("%w: round %d has %s", ErrInvalidLotteryState, r.ID, r.Status)
	}
	winner, err := ResolveWinner(rnd, r.TicketsSold)
	if err != nil {
		return nil, err
	}
	next := r.clone()
	next.Randomness = &rnd
	next.WinnerTicket = &winner
	next.Status = StatusFinished
	next.EndTime = &now
	return next, nil
}

// checkPayable reports whether the round may be paid out. claimed is the
// optional winning ticket the caller expects.
func (r *Round) checkPayable(claimed *uint32) error {
	if r.Payout != nil {
		return fmt.Errorf("%w: round %d", ErrPayoutAlreadyClaimed, r.ID)
	}
	switch r.Status {
	case StatusFinished:
	case StatusDrawing:
		return fmt.Errorf("%w: round %d", ErrRandomnessNotFulfilled, r.ID)
	case StatusPending, StatusActive, StatusClosed:
		return fmt.Errorf("%w: round %d is %s, not finished", ErrInvalidLotteryState, r.ID, r.Status)
	default:
		return fmt.Errorf("%w: round %d has %s", ErrInvalidLotteryState, r.ID, r.Status)
	}
	if r.WinnerTicket == nil || r.Winner == nil {
		return fmt.Errorf("%w: round %d", ErrNoWinner, r.ID)
	}
	if claimed != nil && *claimed != *r.WinnerTicket {
		return fmt.Errorf("%w: got ticket %d, winner is %d", ErrInvalidWinnerTicket, *claimed, *r.WinnerTicket)
	}
	return nil
}

// settle returns the round closed after shares were disbursed.
func (r *Round) settle(shares Shares) *Round {
	next := r.clone()
	next.Status = StatusClosed
	next.PrizeAmount = 0
	next.Payout = &shares
	return next
}
