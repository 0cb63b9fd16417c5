package draw_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lottery"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/vm/modules/draw"
	"github.com/tolelom/lottochain/wallet"

	_ "github.com/tolelom/lottochain/vm/modules/economy"
)

const (
	chainID  = "test-chain"
	platform = "platform-treasury"
)

type harness struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	seen   []events.Event
	nonces map[string]uint64
	height int64
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, state: testutil.NewStateDB(), nonces: map[string]uint64{}}
	require.NoError(t, h.state.SetParams(lottery.DefaultParams(platform)))
	emitter := events.NewEmitter()
	emitter.SubscribeAll(func(ev events.Event) { h.seen = append(h.seen, ev) })
	h.exec = vm.NewExecutor(h.state, emitter)
	return h
}

func (h *harness) wallet(balance uint64) *wallet.Wallet {
	w, err := wallet.Generate()
	require.NoError(h.t, err)
	require.NoError(h.t, h.state.SetAccount(&core.Account{Address: w.PubKey(), Balance: balance}))
	return w
}

func (h *harness) run(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) (*core.Transaction, error) {
	tx, err := build(h.nonces[w.PubKey()])
	require.NoError(h.t, err)
	h.height++
	blk := core.NewBlock(chainID, h.height, "prev", "proposer", h.height*1_000, nil)
	if err := h.exec.ExecuteTx(blk, tx); err != nil {
		return tx, err
	}
	h.nonces[w.PubKey()]++
	return tx, nil
}

func (h *harness) must(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) *core.Transaction {
	tx, err := h.run(w, build)
	require.NoError(h.t, err)
	return tx
}

func (h *harness) balance(addr string) uint64 {
	acc, err := h.state.GetAccount(addr)
	require.NoError(h.t, err)
	return acc.Balance
}

func (h *harness) eventsOf(typ events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range h.seen {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func randomness(n uint64) lottery.Randomness {
	var r lottery.Randomness
	binary.LittleEndian.PutUint64(r[:8], n)
	return r
}

func closedRound(h *harness, auth *wallet.Wallet, buyers ...*wallet.Wallet) {
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.InitializeLottery(chainID, "L1", 100, uint32(len(buyers)), n) })
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.StartRound(chainID, "L1", n) })
	for _, buyer := range buyers {
		buyer := buyer
		h.must(buyer, func(n uint64) (*core.Transaction, error) { return buyer.BuyTicket(chainID, "L1", n) })
	}
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.CloseRound(chainID, "L1", n) })
}

func TestFullRoundThroughVM(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	a, b, c := h.wallet(1000), h.wallet(1000), h.wallet(1000)

	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.InitializeLottery(chainID, "L1", 100, 3, n) })
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.StartRound(chainID, "L1", n) })
	for _, buyer := range []*wallet.Wallet{a, b, c} {
		buyer := buyer
		h.must(buyer, func(n uint64) (*core.Transaction, error) { return buyer.BuyTicket(chainID, "L1", n) })
	}
	vault := lottery.VaultAddress("L1")
	assert.Equal(t, uint64(300), h.balance(vault))

	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.CloseRound(chainID, "L1", n) })
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.FulfillRandomness(chainID, "L1", 0, n) })
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.Payout(chainID, "L1", 0, nil, n) })

	rnd, _ := auth.DrawRandomness("L1", 0)
	want, err := lottery.ResolveWinner(rnd, 3)
	require.NoError(t, err)
	winner := []*wallet.Wallet{a, b, c}[want]

	assert.Equal(t, uint64(900+270), h.balance(winner.PubKey()))
	assert.Equal(t, uint64(15), h.balance(auth.PubKey()))
	assert.Equal(t, uint64(15), h.balance(platform))
	assert.Zero(t, h.balance(vault))

	r, err := h.state.GetRound("L1", 0)
	require.NoError(t, err)
	assert.Equal(t, lottery.StatusClosed, r.Status)
	assert.Equal(t, winner.PubKey(), *r.Winner)
	require.NotNil(t, r.Randomness)
	assert.Equal(t, rnd, *r.Randomness)

	require.Len(t, h.eventsOf(events.EventTicketPurchased), 3)
	won := h.eventsOf(events.EventRandomnessFulfilled)
	require.Len(t, won, 1)
	assert.Equal(t, want, won[0].Data["winner_ticket"])
	paid := h.eventsOf(events.EventPayoutCompleted)
	require.Len(t, paid, 1)
	assert.Equal(t, uint64(270), paid[0].Data["winner_amount"])

	_, err = h.run(auth, func(n uint64) (*core.Transaction, error) { return auth.Payout(chainID, "L1", 0, nil, n) })
	assert.ErrorIs(t, err, lottery.ErrPayoutAlreadyClaimed)
}

func TestDerivedLotteryID(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	tx := h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.InitializeLottery(chainID, "", 10, 5, n) })

	l, err := h.state.GetLottery(draw.LotteryID(tx.ID))
	require.NoError(t, err)
	assert.Equal(t, auth.PubKey(), l.Authority)
	assert.Equal(t, platform, l.Platform)

	init := h.eventsOf(events.EventLotteryInitialized)
	require.Len(t, init, 1)
	assert.Equal(t, l.ID, init[0].Data["lottery_id"])
}

func TestRejectedBuyLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	poor := h.wallet(50)

	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.InitializeLottery(chainID, "L1", 100, 3, n) })
	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.StartRound(chainID, "L1", n) })

	before := len(h.seen)
	_, err := h.run(poor, func(n uint64) (*core.Transaction, error) { return poor.BuyTicket(chainID, "L1", n) })
	assert.ErrorIs(t, err, lottery.ErrInsufficientFunds)

	r, err := h.state.GetRound("L1", 0)
	require.NoError(t, err)
	assert.Zero(t, r.TicketsSold)
	_, err = h.state.GetTicket("L1", 0, 0)
	assert.ErrorIs(t, err, lottery.ErrNotFound)
	assert.Equal(t, uint64(50), h.balance(poor.PubKey()))

	// Only the failure notice reaches subscribers.
	require.Len(t, h.seen, before+1)
	assert.Equal(t, events.EventTxFailed, h.seen[before].Type)
}

func TestOnlyAuthorityDrives(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	mallory := h.wallet(1000)

	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.InitializeLottery(chainID, "L1", 100, 3, n) })
	_, err := h.run(mallory, func(n uint64) (*core.Transaction, error) { return mallory.StartRound(chainID, "L1", n) })
	assert.ErrorIs(t, err, lottery.ErrUnauthorized)

	h.must(auth, func(n uint64) (*core.Transaction, error) { return auth.SetLotteryActive(chainID, "L1", false, n) })
	_, err = h.run(auth, func(n uint64) (*core.Transaction, error) { return auth.StartRound(chainID, "L1", n) })
	assert.ErrorIs(t, err, lottery.ErrLotteryNotActive)
}

func TestMalformedPayload(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	_, err := h.run(auth, func(n uint64) (*core.Transaction, error) {
		return auth.NewTx(chainID, core.TxBuyTicket, n, "not-an-object")
	})
	assert.ErrorContains(t, err, "decode buy_ticket payload")
}

func TestFulfillRequiresSignedDraw(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	a, b := h.wallet(1000), h.wallet(1000)
	closedRound(h, auth, a, b)

	// A value the authority picked itself does not match its signed draw.
	rnd, sig := auth.DrawRandomness("L1", 0)
	chosen := func(r lottery.Randomness, sig string) func(uint64) (*core.Transaction, error) {
		return func(n uint64) (*core.Transaction, error) {
			round := uint64(0)
			return auth.NewTx(chainID, core.TxFulfillRandomness, n, core.FulfillRandomnessPayload{
				LotteryID: "L1", Round: &round, Randomness: r, Signature: sig,
			})
		}
	}
	_, err := h.run(auth, chosen(randomness(1), sig))
	assert.ErrorIs(t, err, crypto.ErrInvalidSignature)
	_, err = h.run(auth, chosen(rnd, ""))
	assert.ErrorIs(t, err, crypto.ErrInvalidSignature)

	// The draw of another round does not carry over.
	r1, sig1 := auth.DrawRandomness("L1", 1)
	_, err = h.run(auth, chosen(r1, sig1))
	assert.ErrorIs(t, err, crypto.ErrInvalidSignature)

	r, err := h.state.GetRound("L1", 0)
	require.NoError(t, err)
	assert.Nil(t, r.Randomness)

	// Omitting the round targets the current one, and the signed draw is accepted.
	h.must(auth, func(n uint64) (*core.Transaction, error) {
		return auth.NewTx(chainID, core.TxFulfillRandomness, n, core.FulfillRandomnessPayload{
			LotteryID: "L1", Randomness: rnd, Signature: sig,
		})
	})
	r, err = h.state.GetRound("L1", 0)
	require.NoError(t, err)
	require.NotNil(t, r.Randomness)
	assert.Equal(t, rnd, *r.Randomness)
}

func TestFulfillByOtherSignerUnauthorized(t *testing.T) {
	h := newHarness(t)
	auth := h.wallet(0)
	mallory := h.wallet(0)
	closedRound(h, auth, h.wallet(1000))

	// A well-formed draw signed by a non-authority key is still refused.
	_, err := h.run(mallory, func(n uint64) (*core.Transaction, error) { return mallory.FulfillRandomness(chainID, "L1", 0, n) })
	assert.ErrorIs(t, err, lottery.ErrUnauthorized)
}
