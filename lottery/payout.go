package lottery

import (
	"fmt"
	"math/bits"

	"github.com/google/logger"
)

// SplitPolicy assigns percentages of the prize pool to the winner and the
// lottery creator. The platform receives whatever remains, so rounding
// loss always lands on the platform share.
type SplitPolicy struct {
	WinnerPercent  uint64 `json:"winner_percent" toml:"winner_percent" yaml:"winner_percent"`
	CreatorPercent uint64 `json:"creator_percent" toml:"creator_percent" yaml:"creator_percent"`
}

// DefaultPolicy is the 90/5/5 winner/creator/platform split.
func DefaultPolicy() SplitPolicy {
	return SplitPolicy{WinnerPercent: 90, CreatorPercent: 5}
}

// Validate rejects policies that could overpay or hand either the creator or
// the platform more than the winner.
func (p SplitPolicy) Validate() error {
	if p.WinnerPercent+p.CreatorPercent > 100 {
		return fmt.Errorf("%w: split %d/%d exceeds 100%%", ErrInvalidConfig, p.WinnerPercent, p.CreatorPercent)
	}
	if p.WinnerPercent < p.CreatorPercent {
		return fmt.Errorf("%w: winner share %d below creator share %d", ErrInvalidConfig, p.WinnerPercent, p.CreatorPercent)
	}
	if platform := 100 - p.WinnerPercent - p.CreatorPercent; p.WinnerPercent < platform {
		return fmt.Errorf("%w: winner share %d below platform share %d", ErrInvalidConfig, p.WinnerPercent, platform)
	}
	return nil
}

// Shares is the computed distribution of one prize pool.
type Shares struct {
	Winner   uint64 `json:"winner"`
	Creator  uint64 `json:"creator"`
	Platform uint64 `json:"platform"`
}

// Total returns the sum of the three shares, or false on overflow.
func (s Shares) Total() (uint64, bool) {
	sum, c1 := bits.Add64(s.Winner, s.Creator, 0)
	sum, c2 := bits.Add64(sum, s.Platform, 0)
	return sum, c1 == 0 && c2 == 0
}

// Split divides prize according to the policy. The winner and creator shares
// are floor(prize * pct / 100), computed in 128 bits so large pools cannot
// overflow; the platform takes the remainder.
func (p SplitPolicy) Split(prize uint64) (Shares, error) {
	if err := p.Validate(); err != nil {
		return Shares{}, err
	}
	s := Shares{
		Winner:  percentOf(prize, p.WinnerPercent),
		Creator: percentOf(prize, p.CreatorPercent),
	}
	s.Platform = prize - s.Winner - s.Creator
	if err := s.check(prize); err != nil {
		return Shares{}, err
	}
	return s, nil
}

// check asserts that the shares add up to exactly prize.
func (s Shares) check(prize uint64) error {
	if total, ok := s.Total(); !ok || total != prize {
		logger.Errorf("[lottery] payout split %d/%d/%d does not sum to %d", s.Winner, s.Creator, s.Platform, prize)
		return fmt.Errorf("%w: shares %d+%d+%d != %d", ErrInvalidPayout, s.Winner, s.Creator, s.Platform, prize)
	}
	return nil
}

func percentOf(amount, pct uint64) uint64 {
	hi, lo := bits.Mul64(amount, pct)
	q, _ := bits.Div64(hi, lo, 100)
	return q
}
