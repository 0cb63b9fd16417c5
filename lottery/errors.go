package lottery

import "errors"

// Errors returned by lottery operations. Every failure leaves all entities
// untouched, so callers may fix the offending state and retry. The one
// exception is ErrInvalidPayout, which signals a defect in the split
// arithmetic and must never surface in a correct build.
var (
	ErrInvalidLotteryState        = errors.New("invalid lottery state")
	ErrLotteryExists              = errors.New("lottery already exists")
	ErrLotteryFull                = errors.New("lottery is full")
	ErrLotteryNotActive           = errors.New("lottery is not active")
	ErrRoundNotActive             = errors.New("round is not active")
	ErrNoTicketsSold              = errors.New("no tickets have been sold")
	ErrRandomnessAlreadyFulfilled = errors.New("randomness already fulfilled")
	ErrRandomnessNotFulfilled     = errors.New("randomness not fulfilled")
	ErrNoWinner                   = errors.New("no winner determined")
	ErrInvalidWinnerTicket        = errors.New("invalid winner ticket")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInvalidPayout              = errors.New("invalid payout calculation")
	ErrPayoutAlreadyClaimed       = errors.New("payout already claimed")
	ErrUnauthorized               = errors.New("unauthorized caller")
	ErrInvalidConfig              = errors.New("invalid lottery configuration")
	ErrIncorrectPayment           = errors.New("payment does not match ticket price")
)
