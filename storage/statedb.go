package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/lottery"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount = registerPrefix("acct:")
	prefixParams  = registerPrefix("params:")
	prefixLottery = registerPrefix("lot:")
	prefixRound   = registerPrefix("round:")
	prefixTicket  = registerPrefix("ticket:")
	prefixVault   = registerPrefix("vault:")
)

var keyParams = prefixParams + "chain"

func roundKey(lotteryID string, id uint64) string {
	return fmt.Sprintf("%s%s:%020d", prefixRound, lotteryID, id)
}

func ticketKey(lotteryID string, roundID uint64, number uint32) string {
	return fmt.Sprintf("%s%s:%020d:%010d", prefixTicket, lotteryID, roundID, number)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

var _ core.State = (*StateDB)(nil)

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// getJSON decodes the value at key into v. Missing keys return an error
// wrapping core.ErrNotFound that names what was looked up.
func (s *StateDB) getJSON(key, what string, v any) error {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Lottery params ----

func (s *StateDB) GetParams() (*lottery.Params, error) {
	var p lottery.Params
	if err := s.getJSON(keyParams, "params", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetParams(p *lottery.Params) error {
	return s.setJSON(keyParams, p)
}

// ---- Lottery ----

func (s *StateDB) GetLottery(id string) (*lottery.Lottery, error) {
	var l lottery.Lottery
	if err := s.getJSON(prefixLottery+id, "lottery "+id, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetLottery(l *lottery.Lottery) error {
	return s.setJSON(prefixLottery+l.ID, l)
}

// ---- Round ----

func (s *StateDB) GetRound(lotteryID string, id uint64) (*lottery.Round, error) {
	var r lottery.Round
	if err := s.getJSON(roundKey(lotteryID, id), fmt.Sprintf("round %s/%d", lotteryID, id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetRound(r *lottery.Round) error {
	return s.setJSON(roundKey(r.LotteryID, r.ID), r)
}

// ---- Ticket ----

func (s *StateDB) GetTicket(lotteryID string, roundID uint64, number uint32) (*lottery.Ticket, error) {
	var t lottery.Ticket
	what := fmt.Sprintf("ticket %s/%d/%d", lotteryID, roundID, number)
	if err := s.getJSON(ticketKey(lotteryID, roundID, number), what, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTicket(t *lottery.Ticket) error {
	return s.setJSON(ticketKey(t.LotteryID, t.RoundID, t.Number), t)
}

// ---- Vault ----

func (s *StateDB) GetVault(lotteryID string) (*lottery.Vault, error) {
	var v lottery.Vault
	if err := s.getJSON(prefixVault+lotteryID, "vault "+lotteryID, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *StateDB) SetVault(v *lottery.Vault) error {
	return s.setJSON(prefixVault+v.LotteryID, v)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
