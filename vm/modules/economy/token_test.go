package economy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lottery"
)

func TestTransferMovesFunds(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 10}))
	bank := NewBank(state)

	require.NoError(t, bank.Transfer("a", "b", 4))
	bal, err := bank.Balance("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), bal)
	bal, err = bank.Balance("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), bal)
}

func TestTransferInsufficientFunds(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 3}))

	err := Transfer(state, "a", "b", 4)
	assert.ErrorIs(t, err, lottery.ErrInsufficientFunds)
	acc, _ := state.GetAccount("a")
	assert.Equal(t, uint64(3), acc.Balance)
}

func TestTransferEdgeCases(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 5}))
	require.NoError(t, state.SetAccount(&core.Account{Address: "full", Balance: math.MaxUint64}))

	assert.Error(t, Transfer(state, "a", "", 1))
	assert.NoError(t, Transfer(state, "a", "b", 0))
	assert.NoError(t, Transfer(state, "a", "a", 5))
	assert.ErrorContains(t, Transfer(state, "a", "full", 1), "overflow")

	acc, _ := state.GetAccount("a")
	assert.Equal(t, uint64(5), acc.Balance)
}
