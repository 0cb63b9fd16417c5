// Package indexer maintains secondary indexes over committed blocks so
// clients can list tickets by buyer, wins by address and lotteries by
// authority without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/logger"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/storage"
)

const (
	prefixBuyerTickets     = "idx:buyer:ticket:"
	prefixWinnerPayouts    = "idx:winner:payout:"
	prefixAuthorityLottery = "idx:authority:lottery:"
)

// TicketRef locates a purchased ticket.
type TicketRef struct {
	LotteryID string `json:"lottery_id"`
	Round     uint64 `json:"round"`
	Ticket    uint32 `json:"ticket"`
	Height    int64  `json:"height"`
}

// WinRef records a prize paid to an address.
type WinRef struct {
	LotteryID string `json:"lottery_id"`
	Round     uint64 `json:"round"`
	Amount    uint64 `json:"amount"`
	Height    int64  `json:"height"`
}

type entry struct {
	key    string
	value  json.RawMessage
	height int64
}

// Indexer subscribes to chain events and updates secondary lookup tables.
// Entries raised while a block executes are held back until that block's
// EventBlockCommit, so a block that fails to commit leaves no index trace.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter

	mu      sync.Mutex
	pending []entry
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventLotteryInitialized, idx.onLotteryInitialized)
	emitter.Subscribe(events.EventTicketPurchased, idx.onTicketPurchased)
	emitter.Subscribe(events.EventPayoutCompleted, idx.onPayoutCompleted)
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	return idx
}

// TicketsByBuyer returns every ticket bought by the given pubkey, oldest first.
func (idx *Indexer) TicketsByBuyer(buyer string) ([]TicketRef, error) {
	var refs []TicketRef
	return refs, idx.getList(prefixBuyerTickets+buyer, &refs)
}

// WinsByAddress returns every prize paid to the given pubkey, oldest first.
func (idx *Indexer) WinsByAddress(addr string) ([]WinRef, error) {
	var refs []WinRef
	return refs, idx.getList(prefixWinnerPayouts+addr, &refs)
}

// LotteriesByAuthority returns the IDs of lotteries created by authority.
func (idx *Indexer) LotteriesByAuthority(authority string) ([]string, error) {
	var ids []string
	return ids, idx.getList(prefixAuthorityLottery+authority, &ids)
}

// ---- event handlers ----

func (idx *Indexer) onLotteryInitialized(ev events.Event) {
	authority, _ := ev.Data["authority"].(string)
	lotteryID, _ := ev.Data["lottery_id"].(string)
	if authority == "" || lotteryID == "" {
		return
	}
	idx.queue(prefixAuthorityLottery+authority, ev.BlockHeight, lotteryID)
}

func (idx *Indexer) onTicketPurchased(ev events.Event) {
	buyer, _ := ev.Data["buyer"].(string)
	lotteryID, _ := ev.Data["lottery_id"].(string)
	round, _ := ev.Data["round"].(uint64)
	ticket, _ := ev.Data["ticket"].(uint32)
	if buyer == "" || lotteryID == "" {
		return
	}
	idx.queue(prefixBuyerTickets+buyer, ev.BlockHeight, TicketRef{
		LotteryID: lotteryID,
		Round:     round,
		Ticket:    ticket,
		Height:    ev.BlockHeight,
	})
}

func (idx *Indexer) onPayoutCompleted(ev events.Event) {
	winner, _ := ev.Data["winner"].(string)
	lotteryID, _ := ev.Data["lottery_id"].(string)
	round, _ := ev.Data["round"].(uint64)
	amount, _ := ev.Data["winner_amount"].(uint64)
	if winner == "" || lotteryID == "" {
		return
	}
	idx.queue(prefixWinnerPayouts+winner, ev.BlockHeight, WinRef{
		LotteryID: lotteryID,
		Round:     round,
		Amount:    amount,
		Height:    ev.BlockHeight,
	})
}

func (idx *Indexer) onBlockCommit(ev events.Event) {
	if err := idx.flush(ev.BlockHeight); err != nil {
		logger.Errorf("[indexer] flush block %d: %v", ev.BlockHeight, err)
	}
}

// ---- pending entries ----

func (idx *Indexer) queue(key string, height int64, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("[indexer] encode %s: %v", key, err)
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pending = append(idx.pending, entry{key: key, value: raw, height: height})
}

// flush appends the pending entries of the committed height to their lists
// in one batch. Entries from other heights belong to blocks that were never
// committed and are dropped.
func (idx *Indexer) flush(height int64) error {
	idx.mu.Lock()
	pending := idx.pending
	idx.pending = nil
	idx.mu.Unlock()

	grouped := make(map[string][]json.RawMessage)
	for _, e := range pending {
		if e.height == height {
			grouped[e.key] = append(grouped[e.key], e.value)
		}
	}
	if len(grouped) == 0 {
		return nil
	}
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := idx.db.NewBatch()
	for _, k := range keys {
		var list []json.RawMessage
		if err := idx.getList(k, &list); err != nil {
			return err
		}
		data, err := json.Marshal(append(list, grouped[k]...))
		if err != nil {
			return err
		}
		batch.Set([]byte(k), data)
	}
	return batch.Write()
}

// ---- list helpers ----

func (idx *Indexer) getList(key string, out any) error {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil // empty list
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("indexer unmarshal: %w", err)
	}
	return nil
}
