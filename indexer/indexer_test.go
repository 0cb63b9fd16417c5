package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/internal/testutil"
)

func newIndexer(t *testing.T) (*Indexer, *events.Emitter) {
	t.Helper()
	emitter := events.NewEmitter()
	return New(testutil.NewMemDB(), emitter), emitter
}

func ticketEvent(height int64, buyer string, round uint64, ticket uint32) events.Event {
	return events.Event{
		Type:        events.EventTicketPurchased,
		BlockHeight: height,
		Data:        map[string]any{"lottery_id": "L1", "round": round, "ticket": ticket, "buyer": buyer},
	}
}

func commit(height int64) events.Event {
	return events.Event{Type: events.EventBlockCommit, BlockHeight: height}
}

func TestTicketsIndexedOnCommit(t *testing.T) {
	idx, em := newIndexer(t)
	em.Emit(ticketEvent(1, "alice", 0, 0))
	em.Emit(ticketEvent(1, "bob", 0, 1))

	refs, err := idx.TicketsByBuyer("alice")
	require.NoError(t, err)
	assert.Empty(t, refs, "nothing is visible before the block commits")

	em.Emit(commit(1))
	em.Emit(ticketEvent(2, "alice", 0, 2))
	em.Emit(commit(2))

	refs, err = idx.TicketsByBuyer("alice")
	require.NoError(t, err)
	assert.Equal(t, []TicketRef{
		{LotteryID: "L1", Round: 0, Ticket: 0, Height: 1},
		{LotteryID: "L1", Round: 0, Ticket: 2, Height: 2},
	}, refs)
}

func TestUncommittedBlockDropped(t *testing.T) {
	idx, em := newIndexer(t)
	em.Emit(ticketEvent(5, "alice", 0, 0)) // block 5 never commits
	em.Emit(ticketEvent(5, "alice", 0, 0)) // retried as block 5 again
	em.Emit(commit(5))

	refs, err := idx.TicketsByBuyer("alice")
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	em.Emit(ticketEvent(6, "alice", 0, 1))
	em.Emit(ticketEvent(7, "alice", 0, 2))
	em.Emit(commit(7))
	refs, err = idx.TicketsByBuyer("alice")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, uint32(2), refs[2].Ticket)
}

func TestWinsAndLotteries(t *testing.T) {
	idx, em := newIndexer(t)
	em.Emit(events.Event{
		Type:        events.EventLotteryInitialized,
		BlockHeight: 1,
		Data:        map[string]any{"lottery_id": "L1", "authority": "auth"},
	})
	em.Emit(events.Event{
		Type:        events.EventPayoutCompleted,
		BlockHeight: 1,
		Data:        map[string]any{"lottery_id": "L1", "round": uint64(3), "winner": "bob", "winner_amount": uint64(270)},
	})
	em.Emit(commit(1))

	ids, err := idx.LotteriesByAuthority("auth")
	require.NoError(t, err)
	assert.Equal(t, []string{"L1"}, ids)

	wins, err := idx.WinsByAddress("bob")
	require.NoError(t, err)
	assert.Equal(t, []WinRef{{LotteryID: "L1", Round: 3, Amount: 270, Height: 1}}, wins)

	none, err := idx.WinsByAddress("carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}
