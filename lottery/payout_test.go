package lottery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSumsToPrize(t *testing.T) {
	policy := DefaultPolicy()
	prizes := []uint64{0, 1, 2, 19, 20, 21, 99, 100, 101, 300, 12345, math.MaxUint64 / 3, math.MaxUint64}
	for p := uint64(0); p < 2000; p++ {
		prizes = append(prizes, p)
	}
	for _, prize := range prizes {
		s, err := policy.Split(prize)
		require.NoError(t, err)
		total, ok := s.Total()
		require.True(t, ok)
		require.Equal(t, prize, total, "prize %d", prize)
		if prize >= 20 {
			assert.GreaterOrEqual(t, s.Winner, s.Creator, "prize %d", prize)
			assert.GreaterOrEqual(t, s.Winner, s.Platform, "prize %d", prize)
		}
	}
}

func TestSplitReference(t *testing.T) {
	s, err := DefaultPolicy().Split(300)
	require.NoError(t, err)
	assert.Equal(t, Shares{Winner: 270, Creator: 15, Platform: 15}, s)

	// Rounding loss goes to the platform.
	s, err = DefaultPolicy().Split(19)
	require.NoError(t, err)
	assert.Equal(t, Shares{Winner: 17, Creator: 0, Platform: 2}, s)
}

func TestSplitLargePoolDoesNotOverflow(t *testing.T) {
	s, err := DefaultPolicy().Split(math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(16602069666338596453), s.Winner)
	assert.Equal(t, uint64(922337203685477580), s.Creator)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, SplitPolicy{WinnerPercent: 90, CreatorPercent: 10}.Validate())
	assert.NoError(t, SplitPolicy{WinnerPercent: 100}.Validate())
	assert.ErrorIs(t, SplitPolicy{WinnerPercent: 95, CreatorPercent: 10}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, SplitPolicy{WinnerPercent: 5, CreatorPercent: 10}.Validate(), ErrInvalidConfig)

	// The platform keeps the remainder, so it is bounded by the winner too.
	assert.NoError(t, SplitPolicy{WinnerPercent: 50, CreatorPercent: 25}.Validate())
	assert.NoError(t, SplitPolicy{WinnerPercent: 50}.Validate())
	assert.ErrorIs(t, SplitPolicy{WinnerPercent: 40, CreatorPercent: 10}.Validate(), ErrInvalidConfig)
	_, err := SplitPolicy{WinnerPercent: 40, CreatorPercent: 10}.Split(100)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = SplitPolicy{WinnerPercent: 60, CreatorPercent: 50}.Split(100)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSharesCheckRejectsMismatch(t *testing.T) {
	err := Shares{Winner: 90, Creator: 5, Platform: 6}.check(100)
	assert.ErrorIs(t, err, ErrInvalidPayout)
	err = Shares{Winner: math.MaxUint64, Creator: 1}.check(0)
	assert.ErrorIs(t, err, ErrInvalidPayout)
}
