package lottery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundKey struct {
	lottery string
	round   uint64
}

type ticketKey struct {
	lottery string
	round   uint64
	number  uint32
}

// memStore is a map-backed Store. Values are copied on the way in and out
// so tests observe only what the engine explicitly wrote.
type memStore struct {
	params    *Params
	lotteries map[string]Lottery
	rounds    map[roundKey]*Round
	tickets   map[ticketKey]Ticket
	vaults    map[string]Vault
	writes    int
}

func newMemStore(platform string) *memStore {
	return &memStore{
		params:    DefaultParams(platform),
		lotteries: make(map[string]Lottery),
		rounds:    make(map[roundKey]*Round),
		tickets:   make(map[ticketKey]Ticket),
		vaults:    make(map[string]Vault),
	}
}

func (m *memStore) GetParams() (*Params, error) {
	if m.params == nil {
		return nil, ErrNotFound
	}
	p := *m.params
	return &p, nil
}

func (m *memStore) GetLottery(id string) (*Lottery, error) {
	l, ok := m.lotteries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *memStore) SetLottery(l *Lottery) error {
	m.writes++
	m.lotteries[l.ID] = *l
	return nil
}

func (m *memStore) GetRound(lotteryID string, id uint64) (*Round, error) {
	r, ok := m.rounds[roundKey{lotteryID, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *memStore) SetRound(r *Round) error {
	m.writes++
	m.rounds[roundKey{r.LotteryID, r.ID}] = r.clone()
	return nil
}

func (m *memStore) GetTicket(lotteryID string, roundID uint64, number uint32) (*Ticket, error) {
	t, ok := m.tickets[ticketKey{lotteryID, roundID, number}]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *memStore) SetTicket(t *Ticket) error {
	m.writes++
	m.tickets[ticketKey{t.LotteryID, t.RoundID, t.Number}] = *t
	return nil
}

func (m *memStore) GetVault(lotteryID string) (*Vault, error) {
	v, ok := m.vaults[lotteryID]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *memStore) SetVault(v *Vault) error {
	m.writes++
	m.vaults[v.LotteryID] = *v
	return nil
}

// memBank keeps balances in a map and logs every transfer.
type memBank struct {
	balances map[string]uint64
	log      []transfer
}

type transfer struct {
	from, to string
	amount   uint64
}

func newMemBank() *memBank {
	return &memBank{balances: make(map[string]uint64)}
}

func (b *memBank) Balance(address string) (uint64, error) {
	return b.balances[address], nil
}

func (b *memBank) Transfer(from, to string, amount uint64) error {
	if b.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d", ErrInsufficientFunds, from, b.balances[from])
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	b.log = append(b.log, transfer{from, to, amount})
	return nil
}

const (
	authority = "authority"
	platform  = "platform"
)

type fixture struct {
	store  *memStore
	bank   *memBank
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore(platform)
	bank := newMemBank()
	return &fixture{store: store, bank: bank, engine: NewEngine(store, bank)}
}

// open initialises lottery "lot" and starts its first round.
func (f *fixture) open(t *testing.T, price uint64, max uint32) *Lottery {
	t.Helper()
	l, err := f.engine.InitializeLottery(authority, InitParams{ID: "lot", TicketPrice: price, MaxTickets: max}, 1)
	require.NoError(t, err)
	_, err = f.engine.StartRound(authority, l.ID, 2)
	require.NoError(t, err)
	return l
}

func (f *fixture) fund(addr string, amount uint64) {
	f.bank.balances[addr] += amount
}

func randomnessOf(first ...byte) Randomness {
	var r Randomness
	copy(r[:], first)
	return r
}

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }
